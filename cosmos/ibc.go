package cosmos

import (
	"encoding/json"
)

// TransferPort is the ICS-20 port. Packets on it reach contracts only
// through ibc-hooks.
const TransferPort = "transfer"

// ContractPortPrefix prefixes the port of IBC enabled contracts.
const ContractPortPrefix = "wasm."

type IbcEndpoint struct {
	PortID    string `json:"port_id"`
	ChannelID string `json:"channel_id"`
}

// IbcPacket is the packet as passed to contract entry points. Timeout is kept
// verbatim.
type IbcPacket struct {
	Data     []byte          `json:"data"`
	Src      IbcEndpoint     `json:"src"`
	Dest     IbcEndpoint     `json:"dest"`
	Sequence uint64          `json:"sequence"`
	Timeout  json.RawMessage `json:"timeout,omitempty"`
}

type IbcPacketReceiveMsg struct {
	Packet  IbcPacket `json:"packet"`
	Relayer string    `json:"relayer"`
}

type IbcAcknowledgement struct {
	Data []byte `json:"data"`
}

type IbcPacketAckMsg struct {
	Acknowledgement IbcAcknowledgement `json:"acknowledgement"`
	OriginalPacket  IbcPacket          `json:"original_packet"`
	Relayer         string             `json:"relayer"`
}

type IbcPacketTimeoutMsg struct {
	Packet  IbcPacket `json:"packet"`
	Relayer string    `json:"relayer"`
}

// FungibleTokenPacketData is the ICS-20 packet payload.
type FungibleTokenPacketData struct {
	Denom    string  `json:"denom"`
	Amount   string  `json:"amount"`
	Sender   string  `json:"sender"`
	Receiver string  `json:"receiver"`
	Memo     *string `json:"memo,omitempty"`
}

// IbcHooksIncomingTransferMsg is the memo of a transfer routed to a contract:
// {"wasm":{"contract":"...","msg":{...}}}.
type IbcHooksIncomingTransferMsg struct {
	Wasm struct {
		Contract HumanAddr       `json:"contract"`
		Msg      json.RawMessage `json:"msg"`
	} `json:"wasm"`
}

// IbcHooksOutgoingTransferMemo is the memo of a transfer sent by a contract
// that wants the ack or timeout: {"ibc_callback":"..."}.
type IbcHooksOutgoingTransferMemo struct {
	IbcCallback HumanAddr `json:"ibc_callback"`
}

type IBCLifecycleAck struct {
	Channel  string `json:"channel"`
	Sequence uint64 `json:"sequence"`
	Ack      string `json:"ack"`
	Success  bool   `json:"success"`
}

type IBCLifecycleTimeout struct {
	Channel  string `json:"channel"`
	Sequence uint64 `json:"sequence"`
}

// IBCLifecycleComplete is the sudo message ibc-hooks sends for outgoing
// transfers. Exactly one of Ack and Timeout is set.
type IBCLifecycleComplete struct {
	IBCLifecycleComplete struct {
		Ack     *IBCLifecycleAck     `json:"ibc_ack,omitempty"`
		Timeout *IBCLifecycleTimeout `json:"ibc_timeout,omitempty"`
	} `json:"ibc_lifecycle_complete"`
}

// ParsePacketData decodes an ICS-20 payload that must carry a memo.
func ParsePacketData(data []byte) (FungibleTokenPacketData, string, bool) {
	var pd FungibleTokenPacketData
	if err := json.Unmarshal(data, &pd); err != nil {
		return FungibleTokenPacketData{}, "", false
	}
	if pd.Memo == nil {
		return pd, "", false
	}
	return pd, *pd.Memo, true
}

// IsTransferAckError reports whether an ICS-20 acknowledgement is the error
// form {"error":"..."}.
func IsTransferAckError(ack []byte) bool {
	var v struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(ack, &v); err != nil {
		return false
	}
	return v.Error != nil && *v.Error != ""
}
