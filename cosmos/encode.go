package cosmos

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encoders for the host side of the protocol: building sign docs in tooling
// and tests. They write only the fields the decoders read.

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeCoins(b []byte, num protowire.Number, coins Coins) []byte {
	for _, c := range coins {
		var coin []byte
		coin = appendStringField(coin, 1, c.Denom)
		coin = appendStringField(coin, 2, c.Amount)
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, coin)
	}
	return b
}

func encodePacket(p Packet) []byte {
	var b []byte
	b = appendVarintField(b, 1, p.Sequence)
	b = appendStringField(b, 2, p.SourcePort)
	b = appendStringField(b, 3, p.SourceChannel)
	b = appendStringField(b, 4, p.DestinationPort)
	b = appendStringField(b, 5, p.DestinationChannel)
	b = appendBytesField(b, 6, p.Data)
	return b
}

// EncodeChainMessage wraps a message in a protobuf Any. OtherMsg encodes
// with an empty value.
func EncodeChainMessage(msg ChainMessage, addrs AddressCodec) (Any, error) {
	var b []byte
	switch m := msg.(type) {
	case MsgExecuteContract:
		contract, err := addrs.Canonicalize(m.Contract)
		if err != nil {
			return Any{}, err
		}
		b = appendBytesField(b, 1, m.Sender)
		b = appendBytesField(b, 2, contract)
		b = appendBytesField(b, 3, m.Msg)
		b = appendStringField(b, 4, m.CallbackCodeHash)
		b = encodeCoins(b, 5, m.SentFunds)
		b = appendBytesField(b, 6, m.CallbackSig)
		return Any{TypeURL: TypeURLMsgExecuteContract, Value: b}, nil

	case MsgInstantiateContract:
		b = appendBytesField(b, 1, m.Sender)
		b = appendStringField(b, 2, m.CallbackCodeHash)
		b = appendVarintField(b, 3, m.CodeID)
		b = appendStringField(b, 4, m.Label)
		b = appendBytesField(b, 5, m.InitMsg)
		b = encodeCoins(b, 6, m.InitFunds)
		b = appendBytesField(b, 7, m.CallbackSig)
		b = appendStringField(b, 8, string(m.Admin))
		return Any{TypeURL: TypeURLMsgInstantiateContract, Value: b}, nil

	case MsgMigrateContract:
		sender, err := addrs.Humanize(m.Sender)
		if err != nil {
			return Any{}, err
		}
		b = appendStringField(b, 1, string(sender))
		b = appendStringField(b, 2, string(m.Contract))
		b = appendVarintField(b, 3, m.CodeID)
		b = appendBytesField(b, 4, m.Msg)
		return Any{TypeURL: TypeURLMsgMigrateContract, Value: b}, nil

	case MsgUpdateAdmin:
		sender, err := addrs.Humanize(m.Sender)
		if err != nil {
			return Any{}, err
		}
		b = appendStringField(b, 1, string(sender))
		b = appendStringField(b, 2, string(m.NewAdmin))
		b = appendStringField(b, 3, string(m.Contract))
		return Any{TypeURL: TypeURLMsgUpdateAdmin, Value: b}, nil

	case MsgClearAdmin:
		sender, err := addrs.Humanize(m.Sender)
		if err != nil {
			return Any{}, err
		}
		b = appendStringField(b, 1, string(sender))
		b = appendStringField(b, 3, string(m.Contract))
		return Any{TypeURL: TypeURLMsgClearAdmin, Value: b}, nil

	case MsgRecvPacket:
		b = appendBytesField(b, 1, encodePacket(m.Packet))
		b = appendStringField(b, 4, string(m.Signer))
		return Any{TypeURL: TypeURLMsgRecvPacket, Value: b}, nil

	case MsgAcknowledgement:
		b = appendBytesField(b, 1, encodePacket(m.Packet))
		b = appendBytesField(b, 2, m.Acknowledgement)
		b = appendStringField(b, 5, string(m.Signer))
		return Any{TypeURL: TypeURLMsgAcknowledgement, Value: b}, nil

	case MsgTimeout:
		b = appendBytesField(b, 1, encodePacket(m.Packet))
		b = appendVarintField(b, 4, m.NextSequenceRecv)
		b = appendStringField(b, 5, string(m.Signer))
		return Any{TypeURL: TypeURLMsgTimeout, Value: b}, nil

	case OtherMsg:
		return Any{TypeURL: m.TypeURL}, nil
	}
	return Any{}, fmt.Errorf("unsupported message type %T", msg)
}

// EncodeSignDoc builds SIGN_MODE_DIRECT sign bytes for msgs signed by
// signers.
func EncodeSignDoc(msgs []ChainMessage, signers []Secp256k1PubKey, chainID string, accountNumber uint64, addrs AddressCodec) ([]byte, error) {
	var body []byte
	for _, msg := range msgs {
		a, err := EncodeChainMessage(msg, addrs)
		if err != nil {
			return nil, err
		}
		body = protowire.AppendTag(body, 1, protowire.BytesType)
		body = protowire.AppendBytes(body, a.Bytes())
	}

	var authInfo []byte
	for _, signer := range signers {
		var si []byte
		si = protowire.AppendTag(si, 1, protowire.BytesType)
		si = protowire.AppendBytes(si, signer.Any().Bytes())
		authInfo = protowire.AppendTag(authInfo, 1, protowire.BytesType)
		authInfo = protowire.AppendBytes(authInfo, si)
	}

	var doc []byte
	doc = protowire.AppendTag(doc, 1, protowire.BytesType)
	doc = protowire.AppendBytes(doc, body)
	doc = protowire.AppendTag(doc, 2, protowire.BytesType)
	doc = protowire.AppendBytes(doc, authInfo)
	doc = appendStringField(doc, 3, chainID)
	doc = appendVarintField(doc, 4, accountNumber)
	return doc, nil
}
