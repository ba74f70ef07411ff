package cosmos

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrProtoDecode = errors.New("protobuf decode failed")

// field is one decoded protobuf field. Only varint and length-delimited
// values are kept; other wire types are skipped.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) wantBytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d has wire type %d, expected bytes", ErrProtoDecode, f.num, f.typ)
	}
	return f.bytes, nil
}

func (f field) wantString() (string, error) {
	b, err := f.wantBytes()
	return string(b), err
}

func (f field) wantVarint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d has wire type %d, expected varint", ErrProtoDecode, f.num, f.typ)
	}
	return f.varint, nil
}

// walkFields calls fn for every top-level field in b.
func walkFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrProtoDecode, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrProtoDecode, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Any is google.protobuf.Any.
type Any struct {
	TypeURL string
	Value   []byte
}

func DecodeAny(b []byte) (Any, error) {
	var a Any
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			a.TypeURL, err = f.wantString()
		case 2:
			a.Value, err = f.wantBytes()
		}
		return err
	})
	if err != nil {
		return Any{}, err
	}
	return a, nil
}

// Bytes encodes a as google.protobuf.Any.
func (a Any) Bytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, a.TypeURL)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, a.Value)
	return b
}

func decodeCoin(b []byte) (Coin, error) {
	var denom, amount string
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			denom, err = f.wantString()
		case 2:
			amount, err = f.wantString()
		}
		return err
	})
	if err != nil {
		return Coin{}, err
	}
	return NewCoin(denom, amount)
}

// SignDoc is cosmos.tx.v1beta1.SignDoc with body and auth info decoded.
type SignDoc struct {
	Body          TxBody
	AuthInfo      AuthInfo
	ChainID       string
	AccountNumber uint64
}

func DecodeSignDoc(b []byte, addrs AddressCodec) (SignDoc, error) {
	var (
		doc                 SignDoc
		bodyBytes, authInfo []byte
	)
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			bodyBytes, err = f.wantBytes()
		case 2:
			authInfo, err = f.wantBytes()
		case 3:
			doc.ChainID, err = f.wantString()
		case 4:
			doc.AccountNumber, err = f.wantVarint()
		}
		return err
	})
	if err != nil {
		return SignDoc{}, fmt.Errorf("sign doc: %w", err)
	}

	if doc.Body, err = DecodeTxBody(bodyBytes, addrs); err != nil {
		return SignDoc{}, err
	}
	if doc.AuthInfo, err = DecodeAuthInfo(authInfo); err != nil {
		return SignDoc{}, err
	}
	return doc, nil
}

// TxBody keeps only the messages. Memo and timeout height are not verified.
type TxBody struct {
	Messages []ChainMessage
}

func DecodeTxBody(b []byte, addrs AddressCodec) (TxBody, error) {
	var body TxBody
	err := walkFields(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.wantBytes()
		if err != nil {
			return err
		}
		anyMsg, err := DecodeAny(raw)
		if err != nil {
			return err
		}
		msg, err := DecodeChainMessage(anyMsg, addrs)
		if err != nil {
			return err
		}
		body.Messages = append(body.Messages, msg)
		return nil
	})
	if err != nil {
		return TxBody{}, fmt.Errorf("tx body: %w", err)
	}
	return body, nil
}

// AuthInfo keeps the signer infos. The fee is not verified.
type AuthInfo struct {
	SignerInfos []SignerInfo
}

type SignerInfo struct {
	PublicKey Secp256k1PubKey
	Sequence  uint64
}

func DecodeAuthInfo(b []byte) (AuthInfo, error) {
	var info AuthInfo
	err := walkFields(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.wantBytes()
		if err != nil {
			return err
		}
		si, err := decodeSignerInfo(raw)
		if err != nil {
			return err
		}
		info.SignerInfos = append(info.SignerInfos, si)
		return nil
	})
	if err != nil {
		return AuthInfo{}, fmt.Errorf("auth info: %w", err)
	}
	if len(info.SignerInfos) == 0 {
		return AuthInfo{}, fmt.Errorf("auth info: %w: no signer infos", ErrProtoDecode)
	}
	return info, nil
}

func decodeSignerInfo(b []byte) (SignerInfo, error) {
	var (
		si     SignerInfo
		pubKey []byte
	)
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			pubKey, err = f.wantBytes()
		case 3:
			si.Sequence, err = f.wantVarint()
		}
		return err
	})
	if err != nil {
		return SignerInfo{}, err
	}
	if pubKey == nil {
		return SignerInfo{}, fmt.Errorf("%w: signer info has no public key", ErrProtoDecode)
	}

	anyKey, err := DecodeAny(pubKey)
	if err != nil {
		return SignerInfo{}, err
	}
	si.PublicKey, err = PubKeyFromAny(anyKey)
	if err != nil {
		return SignerInfo{}, err
	}
	return si, nil
}

// SenderPublicKey returns the signer key whose address is sender.
func (a AuthInfo) SenderPublicKey(sender CanonicalAddr) (Secp256k1PubKey, bool) {
	for _, si := range a.SignerInfos {
		if si.PublicKey.Address().Equal(sender) {
			return si.PublicKey, true
		}
	}
	return nil, false
}
