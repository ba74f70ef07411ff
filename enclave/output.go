package enclave

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
	"github.com/ruteri/secret-compute-enclave/validation"
)

// CallbackSigner signs messages a contract sends to another contract.
type CallbackSigner interface {
	CallbackSignature(sender cosmos.CanonicalAddr, msg []byte, funds cosmos.Coins) ([]byte, error)
}

// InternalReplyInfo travels in the data of an encrypted sub-message result.
// The host moves InternalMsgID into the reply id and InternalReplyEnclaveSig
// into the reply's callback signature.
type InternalReplyInfo struct {
	InternalReplyEnclaveSig []byte `json:"internal_reply_enclave_sig"`
	InternalMsgID           []byte `json:"internal_msg_id"`
	Data                    []byte `json:"data,omitempty"`
}

type outputAttribute struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Encrypted *bool  `json:"encrypted,omitempty"`
}

// encrypted attributes are the default
func (a outputAttribute) isEncrypted() bool {
	return a.Encrypted == nil || *a.Encrypted
}

type outputEvent struct {
	Type       string            `json:"type"`
	Attributes []outputAttribute `json:"attributes"`
}

// wasmFields names the fields of a wasm execute/instantiate message, which
// differ between the legacy and the current response format.
type wasmFields struct {
	codeHash string
	funds    string
}

var (
	legacyWasmFields = wasmFields{codeHash: "callback_code_hash", funds: "send"}
	wasmV1Fields     = wasmFields{codeHash: "code_hash", funds: "funds"}
)

// outputEncoder rewrites engine output for the caller of one call.
//
// Encrypted output is sealed under the call's nonce and user key, so only
// the caller can read it. Sub-messages to other contracts are re-encrypted
// under the same header and signed so the callee accepts them without a
// transaction signature.
type outputEncoder struct {
	key         cryptoutils.AESKey
	header      secretmsg.SecretMessage
	contract    cosmos.CanonicalAddr
	codeHash    [validation.HexHashSize]byte
	sender      cosmos.CanonicalAddr
	replyParams []validation.ReplyParams
	signer      CallbackSigner
}

// encrypt handles the three output shapes: {"Err": any}, {"Ok": string} and
// {"Ok": response}. Fields it does not know are kept as they are.
func (e *outputEncoder) encrypt(output []byte) ([]byte, error) {
	if e.header.IsPlaintextSentinel() {
		return nil, fmt.Errorf("%w: encrypted output requested for a plaintext call", validation.ErrValidation)
	}
	result, err := decodeResult(output)
	if err != nil {
		return nil, err
	}

	switch {
	case result["Err"] != nil:
		if err := e.encryptErr(result); err != nil {
			return nil, err
		}
	case isJSONString(result["Ok"]):
		ct, err := e.encryptSerializable(result["Ok"], nil)
		if err != nil {
			return nil, err
		}
		if result["Ok"], err = marshalJSON(ct); err != nil {
			return nil, err
		}
	default:
		ok, err := e.encryptResponse(result["Ok"])
		if err != nil {
			return nil, err
		}
		result["Ok"] = ok
	}

	return marshalJSON(result)
}

// plaintext prepares the output of a call that was not encrypted. Wasm
// sub-messages are signed as they are and no attribute is encrypted.
func (e *outputEncoder) plaintext(output []byte) ([]byte, error) {
	result, err := decodeResult(output)
	if err != nil {
		return nil, err
	}
	if result["Err"] != nil || isJSONString(result["Ok"]) {
		return marshalJSON(result)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(result["Ok"], &resp); err != nil {
		return nil, fmt.Errorf("%w: response: %v", ErrInvalidOutput, err)
	}

	_, legacy := resp["log"]
	if err := e.rewriteMessages(resp, legacy, e.signPlaintextWasmMsg); err != nil {
		return nil, err
	}
	for _, field := range []string{"log", "attributes"} {
		if err := rewriteAttributes(resp, field, markPlaintext); err != nil {
			return nil, err
		}
	}
	if err := rewriteEvents(resp, markPlaintext); err != nil {
		return nil, err
	}

	if result["Ok"], err = marshalJSON(resp); err != nil {
		return nil, err
	}
	return marshalJSON(result)
}

func decodeResult(output []byte) (map[string]json.RawMessage, error) {
	var result map[string]json.RawMessage
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if result["Err"] == nil && result["Ok"] == nil {
		return nil, fmt.Errorf("%w: neither Ok nor Err", ErrInvalidOutput)
	}
	return result, nil
}

// encryptErr wraps the error as {"generic_err":{"msg": ciphertext}}. For a
// sub-message of an encrypted call the reply routing info is added next to
// it.
func (e *outputEncoder) encryptErr(result map[string]json.RawMessage) error {
	ct, err := e.encryptSerializable(result["Err"], e.replyPrefix())
	if err != nil {
		return err
	}
	wrapped := map[string]any{"generic_err": map[string]string{"msg": ct}}
	if result["Err"], err = marshalJSON(wrapped); err != nil {
		return err
	}

	if len(e.replyParams) == 0 {
		return nil
	}
	info, err := e.internalReplyInfo(validation.SubMsgResult{Err: &ct})
	if err != nil {
		return err
	}
	if result["internal_msg_id"], err = marshalJSON(info.InternalMsgID); err != nil {
		return err
	}
	result["internal_reply_enclave_sig"], err = marshalJSON(info.InternalReplyEnclaveSig)
	return err
}

func (e *outputEncoder) encryptResponse(raw json.RawMessage) (json.RawMessage, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: response: %v", ErrInvalidOutput, err)
	}

	_, legacy := resp["log"]
	if err := e.rewriteMessages(resp, legacy, e.encryptWasmMsg); err != nil {
		return nil, err
	}

	encryptAttr := func(a *outputAttribute) error {
		if !a.isEncrypted() {
			return nil
		}
		var err error
		if a.Key, err = e.sealString([]byte(a.Key)); err != nil {
			return err
		}
		a.Value, err = e.sealString([]byte(a.Value))
		return err
	}
	for _, field := range []string{"log", "attributes"} {
		if err := rewriteAttributes(resp, field, encryptAttr); err != nil {
			return nil, err
		}
	}
	if err := rewriteEvents(resp, encryptAttr); err != nil {
		return nil, err
	}

	if err := e.encryptData(resp); err != nil {
		return nil, err
	}
	return marshalJSON(resp)
}

// encryptData replaces data with base64(aead(base64(data))). A sub-message
// of an encrypted call gets the recipient code hash prepended and the
// result wrapped in InternalReplyInfo, even without data.
func (e *outputEncoder) encryptData(resp map[string]json.RawMessage) error {
	var data []byte
	if raw, ok := resp["data"]; ok && !isJSONNull(raw) {
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("%w: data: %v", ErrInvalidOutput, err)
		}
	} else if len(e.replyParams) == 0 {
		return nil
	}

	var sealed []byte
	if data != nil {
		b64, err := marshalJSON(data)
		if err != nil {
			return err
		}
		pt := append(e.replyPrefix(), bytes.Trim(b64, `"`)...)
		if sealed, err = e.key.Encrypt(pt); err != nil {
			return err
		}
	}

	out := sealed
	if len(e.replyParams) > 0 {
		info, err := e.internalReplyInfo(validation.SubMsgResult{Ok: &validation.SubMsgResponse{Data: sealed}})
		if err != nil {
			return err
		}
		if out, err = json.Marshal(info); err != nil {
			return err
		}
	}

	var err error
	resp["data"], err = marshalJSON(out)
	return err
}

// internalReplyInfo builds the encrypted reply id the caller's enclave will
// route the reply with:
//
//	aead(recipient_code_hash || RoutingMarker* || decimal sub_msg_id)
//
// and signs it for the caller together with the encrypted result, so the
// host cannot pair the id with another result.
func (e *outputEncoder) internalReplyInfo(result validation.SubMsgResult) (InternalReplyInfo, error) {
	first := e.replyParams[0]
	markers := make([]validation.RoutingMarker, 0, len(e.replyParams)-1)
	for _, p := range e.replyParams[1:] {
		markers = append(markers, validation.RoutingMarker{SubMsgID: p.SubMsgID, CodeHash: p.RecipientCodeHash})
	}

	id, err := e.key.Encrypt(validation.EncodeReplyID(first.RecipientCodeHash, markers, first.SubMsgID))
	if err != nil {
		return InternalReplyInfo{}, err
	}
	signed, err := validation.ReplySignBytes(id, result)
	if err != nil {
		return InternalReplyInfo{}, err
	}
	sig, err := e.signer.CallbackSignature(e.sender, signed, nil)
	if err != nil {
		return InternalReplyInfo{}, err
	}
	info := InternalReplyInfo{InternalReplyEnclaveSig: sig, InternalMsgID: id}
	if result.Ok != nil {
		info.Data = result.Ok.Data
	}
	return info, nil
}

func (e *outputEncoder) replyPrefix() []byte {
	if len(e.replyParams) == 0 {
		return nil
	}
	hash := e.replyParams[0].RecipientCodeHash
	return append([]byte{}, hash[:]...)
}

// encryptSerializable seals the JSON value v without its surrounding
// quotes and returns base64 of the ciphertext.
func (e *outputEncoder) encryptSerializable(v json.RawMessage, prefix []byte) (string, error) {
	canonical, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	pt := append(prefix, bytes.Trim(canonical, `"`)...)
	return e.sealString(pt)
}

func (e *outputEncoder) sealString(pt []byte) (string, error) {
	ct, err := e.key.Encrypt(pt)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

type wasmMsgRewrite func(body map[string]json.RawMessage, fields wasmFields, marker *validation.RoutingMarker) error

// rewriteMessages applies rewrite to every wasm execute and instantiate
// message of a response. Current responses hold sub-messages, legacy ones
// hold the messages directly.
func (e *outputEncoder) rewriteMessages(resp map[string]json.RawMessage, legacy bool, rewrite wasmMsgRewrite) error {
	raw, ok := resp["messages"]
	if !ok || isJSONNull(raw) {
		return nil
	}
	var messages []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return fmt.Errorf("%w: messages: %v", ErrInvalidOutput, err)
	}

	for _, m := range messages {
		if legacy {
			if _, err := rewriteWasm(m, legacyWasmFields, nil, rewrite); err != nil {
				return err
			}
			continue
		}

		var cosmosMsg map[string]json.RawMessage
		if err := json.Unmarshal(m["msg"], &cosmosMsg); err != nil {
			return fmt.Errorf("%w: sub-message: %v", ErrInvalidOutput, err)
		}
		marker, err := e.replyMarker(m)
		if err != nil {
			return err
		}
		isWasm, err := rewriteWasm(cosmosMsg, wasmV1Fields, marker, rewrite)
		if err != nil {
			return err
		}
		if !isWasm {
			continue
		}
		if m["msg"], err = marshalJSON(cosmosMsg); err != nil {
			return err
		}
		if !e.header.IsPlaintextSentinel() {
			m["was_msg_encrypted"] = json.RawMessage("true")
		}
	}

	var err error
	resp["messages"], err = marshalJSON(messages)
	return err
}

// replyMarker tells the callee where to route the reply of a sub-message,
// if the contract asked for one.
func (e *outputEncoder) replyMarker(subMsg map[string]json.RawMessage) (*validation.RoutingMarker, error) {
	var replyOn string
	if raw, ok := subMsg["reply_on"]; ok {
		if err := json.Unmarshal(raw, &replyOn); err != nil {
			return nil, fmt.Errorf("%w: reply_on: %v", ErrInvalidOutput, err)
		}
	}
	if replyOn == "" || replyOn == "never" {
		return nil, nil
	}

	var id uint64
	if err := json.Unmarshal(subMsg["id"], &id); err != nil {
		return nil, fmt.Errorf("%w: sub-message id: %v", ErrInvalidOutput, err)
	}
	return &validation.RoutingMarker{SubMsgID: id, CodeHash: e.codeHash}, nil
}

func rewriteWasm(cosmosMsg map[string]json.RawMessage, fields wasmFields, marker *validation.RoutingMarker, rewrite wasmMsgRewrite) (bool, error) {
	raw, ok := cosmosMsg["wasm"]
	if !ok {
		return false, nil
	}
	var wasm map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wasm); err != nil {
		return false, fmt.Errorf("%w: wasm message: %v", ErrInvalidOutput, err)
	}

	for _, kind := range []string{"execute", "instantiate"} {
		raw, ok := wasm[kind]
		if !ok {
			continue
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(raw, &body); err != nil {
			return false, fmt.Errorf("%w: wasm %s: %v", ErrInvalidOutput, kind, err)
		}
		if err := rewrite(body, fields, marker); err != nil {
			return false, err
		}

		var err error
		if wasm[kind], err = marshalJSON(body); err != nil {
			return false, err
		}
		if cosmosMsg["wasm"], err = marshalJSON(wasm); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func wasmMsgParts(body map[string]json.RawMessage, fields wasmFields) (codeHash string, msg []byte, funds cosmos.Coins, err error) {
	if err = json.Unmarshal(body[fields.codeHash], &codeHash); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidOutput, fields.codeHash, err)
	}
	if err = json.Unmarshal(body["msg"], &msg); err != nil {
		return "", nil, nil, fmt.Errorf("%w: msg: %v", ErrInvalidOutput, err)
	}
	if raw, ok := body[fields.funds]; ok && !isJSONNull(raw) {
		if err = json.Unmarshal(raw, &funds); err != nil {
			return "", nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidOutput, fields.funds, err)
		}
	}
	return codeHash, msg, funds, nil
}

// encryptWasmMsg replaces msg with the SecretMessage
//
//	nonce || user_pub || aead(code_hash || RoutingMarker? || msg)
//
// and signs its payload as coming from this contract.
func (e *outputEncoder) encryptWasmMsg(body map[string]json.RawMessage, fields wasmFields, marker *validation.RoutingMarker) error {
	codeHash, msg, funds, err := wasmMsgParts(body, fields)
	if err != nil {
		return err
	}

	pt := []byte(codeHash)
	if marker != nil {
		pt = append(pt, marker.Bytes()...)
	}
	pt = append(pt, msg...)

	ct, err := e.key.Encrypt(pt)
	if err != nil {
		return err
	}
	return e.setWasmMsg(body, e.header.WithMsg(ct).Bytes(), ct, funds)
}

func (e *outputEncoder) signPlaintextWasmMsg(body map[string]json.RawMessage, fields wasmFields, _ *validation.RoutingMarker) error {
	_, msg, funds, err := wasmMsgParts(body, fields)
	if err != nil {
		return err
	}
	return e.setWasmMsg(body, msg, msg, funds)
}

func (e *outputEncoder) setWasmMsg(body map[string]json.RawMessage, wire, signed []byte, funds cosmos.Coins) error {
	sig, err := e.signer.CallbackSignature(e.contract, signed, funds)
	if err != nil {
		return err
	}
	if body["msg"], err = marshalJSON(wire); err != nil {
		return err
	}
	body["callback_sig"], err = marshalJSON(sig)
	return err
}

func markPlaintext(a *outputAttribute) error {
	plain := false
	a.Encrypted = &plain
	return nil
}

func rewriteAttributes(resp map[string]json.RawMessage, field string, rewrite func(*outputAttribute) error) error {
	raw, ok := resp[field]
	if !ok || isJSONNull(raw) {
		return nil
	}
	var attrs []outputAttribute
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOutput, field, err)
	}
	for i := range attrs {
		if err := rewrite(&attrs[i]); err != nil {
			return err
		}
	}

	var err error
	resp[field], err = marshalJSON(attrs)
	return err
}

func rewriteEvents(resp map[string]json.RawMessage, rewrite func(*outputAttribute) error) error {
	raw, ok := resp["events"]
	if !ok || isJSONNull(raw) {
		return nil
	}
	var events []outputEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return fmt.Errorf("%w: events: %v", ErrInvalidOutput, err)
	}
	for i := range events {
		for j := range events[i].Attributes {
			if err := rewrite(&events[i].Attributes[j]); err != nil {
				return err
			}
		}
	}

	var err error
	resp["events"], err = marshalJSON(events)
	return err
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// canonicalJSON re-encodes v compactly with object keys sorted.
func canonicalJSON(v json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return marshalJSON(value)
}

// marshalJSON encodes without HTML escaping and without the trailing
// newline json.Encoder adds.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return []byte(strings.TrimSuffix(buf.String(), "\n")), nil
}
