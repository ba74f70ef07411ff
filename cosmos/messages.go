package cosmos

import (
	"fmt"
)

const (
	TypeURLMsgExecuteContract     = "/secret.compute.v1beta1.MsgExecuteContract"
	TypeURLMsgInstantiateContract = "/secret.compute.v1beta1.MsgInstantiateContract"
	TypeURLMsgMigrateContract     = "/secret.compute.v1beta1.MsgMigrateContract"
	TypeURLMsgUpdateAdmin         = "/secret.compute.v1beta1.MsgUpdateAdmin"
	TypeURLMsgClearAdmin          = "/secret.compute.v1beta1.MsgClearAdmin"
	TypeURLMsgRecvPacket          = "/ibc.core.channel.v1.MsgRecvPacket"
	TypeURLMsgAcknowledgement     = "/ibc.core.channel.v1.MsgAcknowledgement"
	TypeURLMsgTimeout             = "/ibc.core.channel.v1.MsgTimeout"
)

// ChainMessage is one top-level message of a signed transaction. The set of
// implementations is closed.
type ChainMessage interface {
	chainMessage()
}

type MsgExecuteContract struct {
	Sender           CanonicalAddr
	Contract         HumanAddr
	Msg              []byte
	SentFunds        Coins
	CallbackCodeHash string
	CallbackSig      []byte
}

type MsgInstantiateContract struct {
	Sender           CanonicalAddr
	CodeID           uint64
	Label            string
	InitMsg          []byte
	InitFunds        Coins
	CallbackCodeHash string
	CallbackSig      []byte
	Admin            HumanAddr
}

type MsgMigrateContract struct {
	Sender   CanonicalAddr
	Contract HumanAddr
	CodeID   uint64
	Msg      []byte
}

type MsgUpdateAdmin struct {
	Sender   CanonicalAddr
	Contract HumanAddr
	NewAdmin HumanAddr
}

type MsgClearAdmin struct {
	Sender   CanonicalAddr
	Contract HumanAddr
}

// Packet is ibc.core.channel.v1.Packet.
type Packet struct {
	Sequence           uint64
	SourcePort         string
	SourceChannel      string
	DestinationPort    string
	DestinationChannel string
	Data               []byte
}

type MsgRecvPacket struct {
	Packet Packet
	Signer HumanAddr
}

type MsgAcknowledgement struct {
	Packet          Packet
	Acknowledgement []byte
	Signer          HumanAddr
}

type MsgTimeout struct {
	Packet           Packet
	NextSequenceRecv uint64
	Signer           HumanAddr
}

// OtherMsg is any message this enclave does not inspect. It never matches.
type OtherMsg struct {
	TypeURL string
}

func (MsgExecuteContract) chainMessage()     {}
func (MsgInstantiateContract) chainMessage() {}
func (MsgMigrateContract) chainMessage()     {}
func (MsgUpdateAdmin) chainMessage()         {}
func (MsgClearAdmin) chainMessage()          {}
func (MsgRecvPacket) chainMessage()          {}
func (MsgAcknowledgement) chainMessage()     {}
func (MsgTimeout) chainMessage()             {}
func (OtherMsg) chainMessage()               {}

// DecodeChainMessage dispatches on the Any type URL. Unknown types decode to
// OtherMsg, known types that fail to decode are an error.
func DecodeChainMessage(a Any, addrs AddressCodec) (ChainMessage, error) {
	var (
		msg ChainMessage
		err error
	)
	switch a.TypeURL {
	case TypeURLMsgExecuteContract:
		msg, err = decodeMsgExecuteContract(a.Value, addrs)
	case TypeURLMsgInstantiateContract:
		msg, err = decodeMsgInstantiateContract(a.Value)
	case TypeURLMsgMigrateContract:
		msg, err = decodeMsgMigrateContract(a.Value, addrs)
	case TypeURLMsgUpdateAdmin:
		msg, err = decodeMsgUpdateAdmin(a.Value, addrs)
	case TypeURLMsgClearAdmin:
		msg, err = decodeMsgClearAdmin(a.Value, addrs)
	case TypeURLMsgRecvPacket:
		msg, err = decodeMsgRecvPacket(a.Value)
	case TypeURLMsgAcknowledgement:
		msg, err = decodeMsgAcknowledgement(a.Value)
	case TypeURLMsgTimeout:
		msg, err = decodeMsgTimeout(a.Value)
	default:
		return OtherMsg{TypeURL: a.TypeURL}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.TypeURL, err)
	}
	return msg, nil
}

func decodeMsgExecuteContract(b []byte, addrs AddressCodec) (MsgExecuteContract, error) {
	var (
		m        MsgExecuteContract
		contract []byte
	)
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Sender, err = f.wantBytes()
		case 2:
			contract, err = f.wantBytes()
		case 3:
			m.Msg, err = f.wantBytes()
		case 4:
			m.CallbackCodeHash, err = f.wantString()
		case 5:
			err = appendCoin(&m.SentFunds, f)
		case 6:
			m.CallbackSig, err = f.wantBytes()
		}
		return err
	})
	if err != nil {
		return MsgExecuteContract{}, err
	}

	m.Contract, err = addrs.Humanize(contract)
	if err != nil {
		return MsgExecuteContract{}, fmt.Errorf("contract: %w", err)
	}
	return m, nil
}

func decodeMsgInstantiateContract(b []byte) (MsgInstantiateContract, error) {
	var m MsgInstantiateContract
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Sender, err = f.wantBytes()
		case 2:
			m.CallbackCodeHash, err = f.wantString()
		case 3:
			m.CodeID, err = f.wantVarint()
		case 4:
			m.Label, err = f.wantString()
		case 5:
			m.InitMsg, err = f.wantBytes()
		case 6:
			err = appendCoin(&m.InitFunds, f)
		case 7:
			m.CallbackSig, err = f.wantBytes()
		case 8:
			var admin string
			admin, err = f.wantString()
			m.Admin = HumanAddr(admin)
		}
		return err
	})
	return m, err
}

func decodeMsgMigrateContract(b []byte, addrs AddressCodec) (MsgMigrateContract, error) {
	var (
		m      MsgMigrateContract
		sender string
	)
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			sender, err = f.wantString()
		case 2:
			var contract string
			contract, err = f.wantString()
			m.Contract = HumanAddr(contract)
		case 3:
			m.CodeID, err = f.wantVarint()
		case 4:
			m.Msg, err = f.wantBytes()
		}
		return err
	})
	if err != nil {
		return MsgMigrateContract{}, err
	}
	m.Sender, err = addrs.Canonicalize(HumanAddr(sender))
	return m, err
}

func decodeMsgUpdateAdmin(b []byte, addrs AddressCodec) (MsgUpdateAdmin, error) {
	var (
		m      MsgUpdateAdmin
		sender string
	)
	err := walkFields(b, func(f field) (err error) {
		var s string
		switch f.num {
		case 1:
			sender, err = f.wantString()
		case 2:
			s, err = f.wantString()
			m.NewAdmin = HumanAddr(s)
		case 3:
			s, err = f.wantString()
			m.Contract = HumanAddr(s)
		}
		return err
	})
	if err != nil {
		return MsgUpdateAdmin{}, err
	}
	m.Sender, err = addrs.Canonicalize(HumanAddr(sender))
	return m, err
}

func decodeMsgClearAdmin(b []byte, addrs AddressCodec) (MsgClearAdmin, error) {
	var (
		m      MsgClearAdmin
		sender string
	)
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			sender, err = f.wantString()
		case 3:
			var contract string
			contract, err = f.wantString()
			m.Contract = HumanAddr(contract)
		}
		return err
	})
	if err != nil {
		return MsgClearAdmin{}, err
	}
	m.Sender, err = addrs.Canonicalize(HumanAddr(sender))
	return m, err
}

func decodePacket(b []byte) (Packet, error) {
	var p Packet
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			p.Sequence, err = f.wantVarint()
		case 2:
			p.SourcePort, err = f.wantString()
		case 3:
			p.SourceChannel, err = f.wantString()
		case 4:
			p.DestinationPort, err = f.wantString()
		case 5:
			p.DestinationChannel, err = f.wantString()
		case 6:
			p.Data, err = f.wantBytes()
		}
		return err
	})
	return p, err
}

func decodeMsgRecvPacket(b []byte) (MsgRecvPacket, error) {
	var m MsgRecvPacket
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			err = decodePacketField(&m.Packet, f)
		case 4:
			err = decodeSigner(&m.Signer, f)
		}
		return err
	})
	return m, err
}

func decodeMsgAcknowledgement(b []byte) (MsgAcknowledgement, error) {
	var m MsgAcknowledgement
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			err = decodePacketField(&m.Packet, f)
		case 2:
			m.Acknowledgement, err = f.wantBytes()
		case 5:
			err = decodeSigner(&m.Signer, f)
		}
		return err
	})
	return m, err
}

func decodeMsgTimeout(b []byte) (MsgTimeout, error) {
	var m MsgTimeout
	err := walkFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			err = decodePacketField(&m.Packet, f)
		case 4:
			m.NextSequenceRecv, err = f.wantVarint()
		case 5:
			err = decodeSigner(&m.Signer, f)
		}
		return err
	})
	return m, err
}

func decodePacketField(p *Packet, f field) error {
	raw, err := f.wantBytes()
	if err != nil {
		return err
	}
	*p, err = decodePacket(raw)
	return err
}

func decodeSigner(signer *HumanAddr, f field) error {
	s, err := f.wantString()
	*signer = HumanAddr(s)
	return err
}

func appendCoin(coins *Coins, f field) error {
	raw, err := f.wantBytes()
	if err != nil {
		return err
	}
	coin, err := decodeCoin(raw)
	if err != nil {
		return err
	}
	*coins = append(*coins, coin)
	return nil
}
