package validation

import (
	"fmt"
	"strconv"
)

// HandleType tells the enclave which entry point a handle call targets.
type HandleType int32

const (
	HandleTypeExecute HandleType = iota
	HandleTypeReply
	HandleTypeIbcChannelOpen
	HandleTypeIbcChannelConnect
	HandleTypeIbcChannelClose
	HandleTypeIbcPacketReceive
	HandleTypeIbcPacketAck
	HandleTypeIbcPacketTimeout
	HandleTypeIbcWasmHooksIncomingTransfer
	HandleTypeIbcWasmHooksOutgoingTransferAck
	HandleTypeIbcWasmHooksOutgoingTransferTimeout
)

var handleTypeNames = map[HandleType]string{
	HandleTypeExecute:                             "execute",
	HandleTypeReply:                               "reply",
	HandleTypeIbcChannelOpen:                      "ibc_channel_open",
	HandleTypeIbcChannelConnect:                   "ibc_channel_connect",
	HandleTypeIbcChannelClose:                     "ibc_channel_close",
	HandleTypeIbcPacketReceive:                    "ibc_packet_receive",
	HandleTypeIbcPacketAck:                        "ibc_packet_ack",
	HandleTypeIbcPacketTimeout:                    "ibc_packet_timeout",
	HandleTypeIbcWasmHooksIncomingTransfer:        "ibc_wasm_hooks_incoming_transfer",
	HandleTypeIbcWasmHooksOutgoingTransferAck:     "ibc_wasm_hooks_outgoing_transfer_ack",
	HandleTypeIbcWasmHooksOutgoingTransferTimeout: "ibc_wasm_hooks_outgoing_transfer_timeout",
}

func (h HandleType) String() string {
	if name, ok := handleTypeNames[h]; ok {
		return name
	}
	return strconv.Itoa(int(h))
}

// Valid reports whether h is a known handle type.
func (h HandleType) Valid() bool {
	_, ok := handleTypeNames[h]
	return ok
}

// IsIBC reports whether h is delivered by the IBC module rather than by a
// user transaction or a reply.
func (h HandleType) IsIBC() bool {
	return h >= HandleTypeIbcChannelOpen && h.Valid()
}

// Entrypoint is the contract export invoked for h.
func (h HandleType) Entrypoint() string {
	switch h {
	case HandleTypeExecute:
		return "execute"
	case HandleTypeReply:
		return "reply"
	case HandleTypeIbcWasmHooksIncomingTransfer:
		return "execute"
	case HandleTypeIbcWasmHooksOutgoingTransferAck, HandleTypeIbcWasmHooksOutgoingTransferTimeout:
		return "sudo"
	default:
		return h.String()
	}
}

func (h HandleType) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText accepts the name or its number.
func (h *HandleType) UnmarshalText(text []byte) error {
	s := string(text)
	for t, name := range handleTypeNames {
		if name == s {
			*h = t
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || !HandleType(n).Valid() {
		return fmt.Errorf("%w: unknown handle type %q", ErrParse, s)
	}
	*h = HandleType(n)
	return nil
}
