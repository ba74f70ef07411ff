package validation

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ruteri/secret-compute-enclave/contractkey"
	"github.com/ruteri/secret-compute-enclave/cosmos"
)

// ReplyParams says which contract a sub-message reply must be routed back
// to, and under which sub-message id.
type ReplyParams struct {
	RecipientCodeHash [HexHashSize]byte
	SubMsgID          uint64
}

type ValidatedMessage struct {
	Msg         []byte
	ReplyParams []ReplyParams
}

// ValidateMsg checks that a decrypted message was addressed to the code
// identified by codeHash and strips the addressing from it. IBC messages may
// only be encrypted for IbcPacketReceive, in which case the packet data is
// validated.
func ValidateMsg(msg []byte, codeHash contractkey.CodeHash, dataForValidation []byte, handleType HandleType) (ValidatedMessage, error) {
	if !handleType.IsIBC() {
		return validateBasicMsg(msg, codeHash, dataForValidation)
	}
	if handleType != HandleTypeIbcPacketReceive {
		return ValidatedMessage{}, fmt.Errorf("%w: only ibc packet receive messages can be encrypted", ErrValidation)
	}

	var packet cosmos.IbcPacketReceiveMsg
	if err := json.Unmarshal(msg, &packet); err != nil {
		return ValidatedMessage{}, fmt.Errorf("%w: ibc packet receive: %v", ErrParse, err)
	}
	validated, err := validateBasicMsg(packet.Packet.Data, codeHash, dataForValidation)
	if err != nil {
		return ValidatedMessage{}, err
	}
	packet.Packet.Data = validated.Msg

	out, err := json.Marshal(packet)
	if err != nil {
		return ValidatedMessage{}, fmt.Errorf("%w: ibc packet receive: %v", ErrParse, err)
	}
	return ValidatedMessage{Msg: out, ReplyParams: validated.ReplyParams}, nil
}

// validateBasicMsg handles
//
//	hex_code_hash(64) || RoutingMarker* || msg
//
// When dataForValidation is set, the hash and the markers come from it
// instead and msg is taken whole. Routing markers at the front of msg are
// stripped in both cases.
func validateBasicMsg(msg []byte, codeHash contractkey.CodeHash, dataForValidation []byte) (ValidatedMessage, error) {
	var (
		receivedHash []byte
		params       []ReplyParams
		rest         []byte
	)

	if dataForValidation != nil {
		if len(dataForValidation) < HexHashSize {
			return ValidatedMessage{}, fmt.Errorf("%w: validation data shorter than code hash", ErrValidation)
		}
		receivedHash = dataForValidation[:HexHashSize]

		markers, trailing, err := splitRoutingMarkers(dataForValidation[HexHashSize:])
		if err != nil {
			return ValidatedMessage{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if len(trailing) != 0 {
			return ValidatedMessage{}, fmt.Errorf("%w: trailing bytes in validation data", ErrValidation)
		}
		params = appendReplyParams(params, markers)
		rest = msg
	} else {
		if len(msg) < HexHashSize {
			return ValidatedMessage{}, fmt.Errorf("%w: expected code hash to be prepended to the msg", ErrValidation)
		}
		receivedHash = msg[:HexHashSize]
		rest = msg[HexHashSize:]
	}

	decoded, err := hex.DecodeString(string(receivedHash))
	if err != nil {
		return ValidatedMessage{}, fmt.Errorf("%w: malformed code hash", ErrValidation)
	}
	if string(decoded) != string(codeHash[:]) {
		return ValidatedMessage{}, fmt.Errorf("%w: mismatched code hash", ErrValidation)
	}

	markers, rest, err := splitRoutingMarkers(rest)
	if err != nil {
		return ValidatedMessage{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	params = appendReplyParams(params, markers)

	return ValidatedMessage{Msg: append([]byte{}, rest...), ReplyParams: params}, nil
}

func appendReplyParams(params []ReplyParams, markers []RoutingMarker) []ReplyParams {
	for _, m := range markers {
		params = append(params, ReplyParams{RecipientCodeHash: m.CodeHash, SubMsgID: m.SubMsgID})
	}
	return params
}
