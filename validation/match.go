package validation

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
)

// Operation is the kind of enclave call being verified.
type Operation int

const (
	OperationInstantiate Operation = iota
	OperationHandle
	OperationMigrate
	OperationUpdateAdmin
	OperationClearAdmin
)

func (o Operation) String() string {
	switch o {
	case OperationInstantiate:
		return "instantiate"
	case OperationHandle:
		return "handle"
	case OperationMigrate:
		return "migrate"
	case OperationUpdateAdmin:
		return "update_admin"
	case OperationClearAdmin:
		return "clear_admin"
	default:
		return "unknown"
	}
}

// Call is what the host claims about a call. Msg is the envelope returned by
// ParseMessage. Admin is the contract's current admin as known to the chain,
// nil when the contract has none.
type Call struct {
	Operation  Operation
	HandleType HandleType
	Sender     cosmos.CanonicalAddr
	Contract   cosmos.HumanAddr
	Msg        secretmsg.SecretMessage
	SentFunds  cosmos.Coins
	Admin      cosmos.CanonicalAddr
	NewAdmin   cosmos.HumanAddr
}

// Matches reports whether signed is the chain message that produced call:
// same message, same sender, same contract, same funds and, for admin
// operations, a sender that is the current admin.
func Matches(call Call, signed cosmos.ChainMessage) bool {
	return matchesMessage(call, signed) &&
		matchesContract(call.Contract, signed) &&
		matchesFunds(call.SentFunds, signed) &&
		matchesAdmin(call, signed)
}

// wireBytes is the message as the user signed it. Plaintext calls carry the
// zero header, which is not part of the signed bytes.
func wireBytes(m secretmsg.SecretMessage) []byte {
	if m.IsPlaintextSentinel() {
		return m.Msg
	}
	return m.Bytes()
}

func matchesMessage(call Call, signed cosmos.ChainMessage) bool {
	isExecute := call.Operation == OperationHandle && call.HandleType == HandleTypeExecute
	sent := wireBytes(call.Msg)

	switch m := signed.(type) {
	case cosmos.MsgExecuteContract:
		return isExecute && call.Sender.Equal(m.Sender) && bytes.Equal(m.Msg, sent)
	case cosmos.MsgInstantiateContract:
		return call.Operation == OperationInstantiate && call.Sender.Equal(m.Sender) && bytes.Equal(m.InitMsg, sent)
	case cosmos.MsgMigrateContract:
		return call.Operation == OperationMigrate && call.Sender.Equal(m.Sender) && bytes.Equal(m.Msg, sent)
	case cosmos.MsgUpdateAdmin:
		return call.Operation == OperationUpdateAdmin && call.Sender.Equal(m.Sender) && call.NewAdmin == m.NewAdmin
	case cosmos.MsgClearAdmin:
		return call.Operation == OperationClearAdmin && call.Sender.Equal(m.Sender)
	}

	if call.Operation != OperationHandle {
		return false
	}

	switch m := signed.(type) {
	case cosmos.MsgRecvPacket:
		switch call.HandleType {
		case HandleTypeIbcPacketReceive:
			return matchesPacketReceive(call.Msg, m.Packet)
		case HandleTypeIbcWasmHooksIncomingTransfer:
			return matchesHooksIncomingTransfer(call.Msg, m.Packet)
		}
	case cosmos.MsgAcknowledgement:
		switch call.HandleType {
		case HandleTypeIbcPacketAck:
			return matchesPacketAck(call.Msg, m)
		case HandleTypeIbcWasmHooksOutgoingTransferAck:
			return matchesHooksTransferAck(call.Msg, m)
		}
	case cosmos.MsgTimeout:
		switch call.HandleType {
		case HandleTypeIbcPacketTimeout:
			return matchesPacketTimeout(call.Msg, m)
		case HandleTypeIbcWasmHooksOutgoingTransferTimeout:
			return matchesHooksTransferTimeout(call.Msg, m.Packet)
		}
	}
	return false
}

func samePacket(p cosmos.IbcPacket, signed cosmos.Packet) bool {
	return bytes.Equal(p.Data, signed.Data) &&
		p.Sequence == signed.Sequence &&
		p.Src.PortID == signed.SourcePort &&
		p.Src.ChannelID == signed.SourceChannel &&
		p.Dest.PortID == signed.DestinationPort &&
		p.Dest.ChannelID == signed.DestinationChannel
}

// matchesPacketReceive compares the packet fields of a plaintext input. An
// encrypted packet was replaced by its envelope, which must equal the
// signed packet data.
func matchesPacketReceive(sent secretmsg.SecretMessage, signed cosmos.Packet) bool {
	var msg cosmos.IbcPacketReceiveMsg
	if err := json.Unmarshal(sent.Msg, &msg); err != nil {
		return bytes.Equal(sent.Bytes(), signed.Data)
	}
	return samePacket(msg.Packet, signed)
}

func matchesHooksIncomingTransfer(sent secretmsg.SecretMessage, signed cosmos.Packet) bool {
	_, memo, ok := cosmos.ParsePacketData(signed.Data)
	if !ok {
		return false
	}
	var hooks cosmos.IbcHooksIncomingTransferMsg
	if err := json.Unmarshal([]byte(memo), &hooks); err != nil {
		return false
	}
	return jsonEqual(hooks.Wasm.Msg, sent.Msg)
}

func matchesPacketAck(sent secretmsg.SecretMessage, signed cosmos.MsgAcknowledgement) bool {
	var msg cosmos.IbcPacketAckMsg
	if err := json.Unmarshal(sent.Msg, &msg); err != nil {
		return false
	}
	return samePacket(msg.OriginalPacket, signed.Packet) &&
		cosmos.HumanAddr(msg.Relayer) == signed.Signer &&
		bytes.Equal(msg.Acknowledgement.Data, signed.Acknowledgement)
}

func matchesHooksTransferAck(sent secretmsg.SecretMessage, signed cosmos.MsgAcknowledgement) bool {
	var msg cosmos.IBCLifecycleComplete
	if err := json.Unmarshal(sent.Msg, &msg); err != nil {
		return false
	}
	ack := msg.IBCLifecycleComplete.Ack
	if ack == nil {
		return false
	}
	return ack.Channel == signed.Packet.SourceChannel &&
		ack.Sequence == signed.Packet.Sequence &&
		ack.Ack == strings.ToValidUTF8(string(signed.Acknowledgement), "\uFFFD") &&
		ack.Success != cosmos.IsTransferAckError(signed.Acknowledgement)
}

func matchesPacketTimeout(sent secretmsg.SecretMessage, signed cosmos.MsgTimeout) bool {
	var msg cosmos.IbcPacketTimeoutMsg
	if err := json.Unmarshal(sent.Msg, &msg); err != nil {
		return false
	}
	return samePacket(msg.Packet, signed.Packet) && cosmos.HumanAddr(msg.Relayer) == signed.Signer
}

func matchesHooksTransferTimeout(sent secretmsg.SecretMessage, signed cosmos.Packet) bool {
	var msg cosmos.IBCLifecycleComplete
	if err := json.Unmarshal(sent.Msg, &msg); err != nil {
		return false
	}
	timeout := msg.IBCLifecycleComplete.Timeout
	if timeout == nil {
		return false
	}
	return timeout.Channel == signed.SourceChannel && timeout.Sequence == signed.Sequence
}

// jsonEqual compares two JSON documents by value.
func jsonEqual(a, b []byte) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func matchesContract(contract cosmos.HumanAddr, signed cosmos.ChainMessage) bool {
	switch m := signed.(type) {
	case cosmos.MsgExecuteContract:
		return contract == m.Contract
	case cosmos.MsgMigrateContract:
		return contract == m.Contract
	case cosmos.MsgUpdateAdmin:
		return contract == m.Contract
	case cosmos.MsgClearAdmin:
		return contract == m.Contract
	case cosmos.MsgInstantiateContract:
		// the address does not exist when the message is signed
		return true
	case cosmos.MsgRecvPacket:
		if m.Packet.DestinationPort == cosmos.TransferPort {
			return hooksIncomingContract(contract, m.Packet.Data)
		}
		return contractFromPort(contract, m.Packet.DestinationPort)
	case cosmos.MsgAcknowledgement:
		return ackOrTimeoutContract(contract, m.Packet)
	case cosmos.MsgTimeout:
		return ackOrTimeoutContract(contract, m.Packet)
	default:
		return false
	}
}

func contractFromPort(contract cosmos.HumanAddr, port string) bool {
	addr, ok := strings.CutPrefix(port, cosmos.ContractPortPrefix)
	return ok && contract == cosmos.HumanAddr(addr)
}

// hooksIncomingContract: ibc-hooks routes a transfer to the contract named
// both as the receiver and in the memo.
func hooksIncomingContract(contract cosmos.HumanAddr, data []byte) bool {
	pd, memo, ok := cosmos.ParsePacketData(data)
	if !ok {
		return false
	}
	var hooks cosmos.IbcHooksIncomingTransferMsg
	if err := json.Unmarshal([]byte(memo), &hooks); err != nil {
		return false
	}
	return contract == cosmos.HumanAddr(pd.Receiver) && contract == hooks.Wasm.Contract
}

// ackOrTimeoutContract: a packet sent over the transfer port belongs to the
// contract that sent it and asked for the callback, otherwise the contract
// owns the source port.
func ackOrTimeoutContract(contract cosmos.HumanAddr, packet cosmos.Packet) bool {
	if packet.SourcePort != cosmos.TransferPort {
		return contractFromPort(contract, packet.SourcePort)
	}

	pd, memo, ok := cosmos.ParsePacketData(packet.Data)
	if !ok {
		return false
	}
	var callback cosmos.IbcHooksOutgoingTransferMemo
	if err := json.Unmarshal([]byte(memo), &callback); err != nil {
		return false
	}
	return contract == callback.IbcCallback && contract == cosmos.HumanAddr(pd.Sender)
}

func matchesFunds(sent cosmos.Coins, signed cosmos.ChainMessage) bool {
	switch m := signed.(type) {
	case cosmos.MsgExecuteContract:
		return sent.Equal(m.SentFunds)
	case cosmos.MsgInstantiateContract:
		return sent.Equal(m.InitFunds)
	case cosmos.MsgRecvPacket:
		if m.Packet.DestinationPort == cosmos.TransferPort {
			return hooksIncomingFunds(sent, m.Packet)
		}
		return len(sent) == 0
	case cosmos.MsgAcknowledgement, cosmos.MsgTimeout,
		cosmos.MsgMigrateContract, cosmos.MsgUpdateAdmin, cosmos.MsgClearAdmin:
		return len(sent) == 0
	default:
		return false
	}
}

// hooksIncomingFunds: the contract is credited exactly the transferred coin,
// under its local denom.
func hooksIncomingFunds(sent cosmos.Coins, packet cosmos.Packet) bool {
	if len(sent) != 1 {
		return false
	}
	var pd cosmos.FungibleTokenPacketData
	if err := json.Unmarshal(packet.Data, &pd); err != nil {
		return false
	}
	if sent[0].Amount != pd.Amount {
		return false
	}

	denom := cosmos.LocalDenom(packet.SourcePort, packet.SourceChannel, packet.DestinationPort, packet.DestinationChannel, pd.Denom)
	return strings.EqualFold(sent[0].Denom, denom)
}

func matchesAdmin(call Call, signed cosmos.ChainMessage) bool {
	switch signed.(type) {
	case cosmos.MsgMigrateContract, cosmos.MsgUpdateAdmin, cosmos.MsgClearAdmin:
		return len(call.Admin) > 0 && call.Admin.Equal(call.Sender)
	default:
		return true
	}
}
