package cosmos

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	AminoTypeMsgExecuteContract     = "wasm/MsgExecuteContract"
	AminoTypeMsgInstantiateContract = "wasm/MsgInstantiateContract"
)

var ErrInvalidSignDoc = errors.New("invalid sign doc")

// StdSignDoc is the legacy amino JSON sign document.
type StdSignDoc struct {
	AccountNumber string   `json:"account_number"`
	ChainID       string   `json:"chain_id"`
	Memo          string   `json:"memo"`
	Msgs          []StdMsg `json:"msgs"`
	Sequence      string   `json:"sequence"`
}

// StdMsg is an amino JSON message envelope.
type StdMsg struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type aminoExecute struct {
	Sender           HumanAddr `json:"sender"`
	Contract         HumanAddr `json:"contract"`
	Msg              string    `json:"msg"`
	SentFunds        []Coin    `json:"sent_funds"`
	CallbackCodeHash string    `json:"callback_code_hash"`
}

type aminoInstantiate struct {
	Sender           HumanAddr `json:"sender"`
	CodeID           string    `json:"code_id"`
	Label            string    `json:"label"`
	InitMsg          string    `json:"init_msg"`
	InitFunds        []Coin    `json:"init_funds"`
	CallbackCodeHash string    `json:"callback_code_hash"`
	Admin            HumanAddr `json:"admin"`
}

// DecodeStdSignDoc parses amino JSON sign bytes.
func DecodeStdSignDoc(b []byte) (StdSignDoc, error) {
	var doc StdSignDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return StdSignDoc{}, fmt.Errorf("%w: %v", ErrInvalidSignDoc, err)
	}
	return doc, nil
}

// DecodeEIP191SignDoc parses "\x19Ethereum Signed Message:\n<len>{...}" sign
// bytes. The JSON document starts at the first '{'.
func DecodeEIP191SignDoc(b []byte) (StdSignDoc, error) {
	start := bytes.IndexByte(b, '{')
	if start < 0 {
		return StdSignDoc{}, fmt.Errorf("%w: no JSON document in EIP-191 sign bytes", ErrInvalidSignDoc)
	}
	return DecodeStdSignDoc(b[start:])
}

// ChainMessages converts every amino message. Types other than wasm execute
// and instantiate become OtherMsg.
func (d StdSignDoc) ChainMessages(addrs AddressCodec) ([]ChainMessage, error) {
	msgs := make([]ChainMessage, 0, len(d.Msgs))
	for i, m := range d.Msgs {
		msg, err := m.ChainMessage(addrs)
		if err != nil {
			return nil, fmt.Errorf("msgs[%d]: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (m StdMsg) ChainMessage(addrs AddressCodec) (ChainMessage, error) {
	switch m.Type {
	case AminoTypeMsgExecuteContract:
		var v aminoExecute
		if err := json.Unmarshal(m.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignDoc, err)
		}
		sender, err := addrs.Canonicalize(v.Sender)
		if err != nil {
			return nil, err
		}
		msg, err := base64.StdEncoding.DecodeString(v.Msg)
		if err != nil {
			return nil, fmt.Errorf("%w: msg: %v", ErrInvalidSignDoc, err)
		}
		funds, err := normalizeCoins(v.SentFunds)
		if err != nil {
			return nil, err
		}
		return MsgExecuteContract{
			Sender:           sender,
			Contract:         v.Contract,
			Msg:              msg,
			SentFunds:        funds,
			CallbackCodeHash: v.CallbackCodeHash,
		}, nil

	case AminoTypeMsgInstantiateContract:
		var v aminoInstantiate
		if err := json.Unmarshal(m.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignDoc, err)
		}
		sender, err := addrs.Canonicalize(v.Sender)
		if err != nil {
			return nil, err
		}
		initMsg, err := base64.StdEncoding.DecodeString(v.InitMsg)
		if err != nil {
			return nil, fmt.Errorf("%w: init_msg: %v", ErrInvalidSignDoc, err)
		}
		funds, err := normalizeCoins(v.InitFunds)
		if err != nil {
			return nil, err
		}
		var codeID uint64
		if v.CodeID != "" {
			if codeID, err = strconv.ParseUint(v.CodeID, 10, 64); err != nil {
				return nil, fmt.Errorf("%w: code_id: %v", ErrInvalidSignDoc, err)
			}
		}
		return MsgInstantiateContract{
			Sender:           sender,
			CodeID:           codeID,
			Label:            v.Label,
			InitMsg:          initMsg,
			InitFunds:        funds,
			CallbackCodeHash: v.CallbackCodeHash,
			Admin:            v.Admin,
		}, nil

	default:
		return OtherMsg{TypeURL: m.Type}, nil
	}
}

func normalizeCoins(in []Coin) (Coins, error) {
	var out Coins
	for _, c := range in {
		coin, err := NewCoin(c.Denom, c.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, coin)
	}
	return out, nil
}
