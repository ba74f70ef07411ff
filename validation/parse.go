package validation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
)

// ParsedMessage is the outcome of ParseMessage.
//
// SecretMsg is the envelope provenance checks run against and whose nonce
// and key encrypt the output. DecryptedMsg is what the contract sees.
// DataForValidation is set for encrypted replies and carries the code hash
// and routing markers recovered from the reply id.
type ParsedMessage struct {
	ShouldValidateSigInfo bool
	ShouldValidateInput   bool
	WasMsgEncrypted       bool
	ShouldEncryptOutput   bool
	SecretMsg             secretmsg.SecretMessage
	DecryptedMsg          []byte
	DataForValidation     []byte
}

// Codec is the part of secretmsg.Codec the parser needs.
type Codec interface {
	TryDecrypt(raw []byte) (secretmsg.Outcome, error)
	Decrypt(m secretmsg.SecretMessage) ([]byte, error)
}

type Parser struct {
	codec Codec
	log   *slog.Logger
}

func NewParser(codec Codec, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{codec: codec, log: log}
}

// ParseMessage turns the raw input of a handle call into the contract's
// plaintext and the checks that must run before it executes.
func (p *Parser) ParseMessage(raw []byte, handleType HandleType) (ParsedMessage, error) {
	switch handleType {
	case HandleTypeExecute:
		return p.parseExecute(raw)
	case HandleTypeReply:
		return p.parseReply(raw)
	case HandleTypeIbcPacketReceive:
		return p.parseIbcPacketReceive(raw)
	case HandleTypeIbcChannelOpen, HandleTypeIbcChannelConnect, HandleTypeIbcChannelClose:
		return plaintextMessage(raw, false), nil
	case HandleTypeIbcPacketAck, HandleTypeIbcPacketTimeout,
		HandleTypeIbcWasmHooksIncomingTransfer,
		HandleTypeIbcWasmHooksOutgoingTransferAck,
		HandleTypeIbcWasmHooksOutgoingTransferTimeout:
		return plaintextMessage(raw, true), nil
	default:
		return ParsedMessage{}, fmt.Errorf("%w: unknown handle type %d", ErrParse, handleType)
	}
}

func plaintextMessage(raw []byte, validateInput bool) ParsedMessage {
	msg := append([]byte{}, raw...)
	return ParsedMessage{
		ShouldValidateInput: validateInput,
		SecretMsg:           secretmsg.Plaintext(msg),
		DecryptedMsg:        msg,
	}
}

// tryDecrypt applies the try-decrypt-else-plaintext policy. A complete JSON
// document cannot be a SecretMessage and is passed through as plaintext, so
// are inputs too short to carry the header. Anything else must decrypt.
func (p *Parser) tryDecrypt(raw []byte) (secretmsg.Outcome, error) {
	if json.Valid(raw) {
		plain := append([]byte{}, raw...)
		return secretmsg.Outcome{
			Kind:      secretmsg.PlaintextFallback,
			Message:   secretmsg.Plaintext(plain),
			Plaintext: plain,
		}, nil
	}
	return p.codec.TryDecrypt(raw)
}

func (p *Parser) parseExecute(raw []byte) (ParsedMessage, error) {
	outcome, err := p.tryDecrypt(raw)
	if err != nil {
		p.log.Warn("failed to decrypt execute message", "err", err)
		return ParsedMessage{}, err
	}
	p.log.Debug("parsed execute message", "outcome", outcome.Kind, "len", len(raw))

	return ParsedMessage{
		ShouldValidateSigInfo: true,
		ShouldValidateInput:   true,
		WasMsgEncrypted:       outcome.WasEncrypted(),
		ShouldEncryptOutput:   outcome.WasEncrypted(),
		SecretMsg:             outcome.Message,
		DecryptedMsg:          outcome.Plaintext,
	}, nil
}

func (p *Parser) parseIbcPacketReceive(raw []byte) (ParsedMessage, error) {
	var packet cosmos.IbcPacketReceiveMsg
	if err := json.Unmarshal(raw, &packet); err != nil {
		p.log.Warn("failed to decode ibc packet receive message", "err", err)
		return ParsedMessage{}, fmt.Errorf("%w: ibc packet receive: %v", ErrParse, err)
	}

	outcome, err := p.tryDecrypt(packet.Packet.Data)
	if err != nil {
		p.log.Warn("failed to decrypt ibc packet data", "err", err)
		return ParsedMessage{}, err
	}

	secretMsg := secretmsg.Plaintext(append([]byte{}, raw...))
	if outcome.WasEncrypted() {
		packet.Packet.Data = outcome.Plaintext
		secretMsg = outcome.Message
	}

	decrypted, err := json.Marshal(packet)
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("%w: ibc packet receive: %v", ErrParse, err)
	}

	return ParsedMessage{
		ShouldValidateInput: true,
		WasMsgEncrypted:     outcome.WasEncrypted(),
		ShouldEncryptOutput: outcome.WasEncrypted(),
		SecretMsg:           secretMsg,
		DecryptedMsg:        decrypted,
	}, nil
}

func (p *Parser) parseReply(raw []byte) (ParsedMessage, error) {
	envelope, err := secretmsg.FromSlice(raw)
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("%w: reply: %v", ErrParse, err)
	}

	var reply Reply
	if err := json.Unmarshal(envelope.Msg, &reply); err != nil {
		p.log.Warn("failed to decode reply", "err", err)
		return ParsedMessage{}, fmt.Errorf("%w: reply: %v", ErrParse, err)
	}

	if !reply.IsEncrypted {
		return p.parsePlaintextReply(envelope, reply)
	}
	return p.parseEncryptedReply(envelope, reply)
}

// parsePlaintextReply handles replies to plaintext sub-messages. They are
// routed by the already validated parent call and carry no signature.
func (p *Parser) parsePlaintextReply(envelope secretmsg.SecretMessage, reply Reply) (ParsedMessage, error) {
	segments, err := ParseIDSegments(reply.ID)
	if err != nil || len(segments) != 1 {
		p.log.Warn("failed to parse plaintext reply id")
		return ParsedMessage{}, fmt.Errorf("%w: reply id", ErrParse)
	}
	id := uint64(segments[0].(NumericID))

	return p.wrapReply(envelope, reply, DecryptedReply{ID: id, Result: reply.Result}, ParsedMessage{
		ShouldEncryptOutput: reply.WasOrigMsgEncrypted,
	})
}

// parseEncryptedReply decrypts the id and the result of a reply to an
// encrypted sub-message. Both are sealed under the parent call's nonce and
// key, which binds the reply to that call.
func (p *Parser) parseEncryptedReply(envelope secretmsg.SecretMessage, reply Reply) (ParsedMessage, error) {
	decryptedID, err := p.codec.Decrypt(envelope.WithMsg(reply.ID))
	if err != nil {
		p.log.Warn("failed to decrypt reply id", "err", err)
		return ParsedMessage{}, err
	}
	id, dataForValidation, err := ParseReplyID(decryptedID)
	if err != nil {
		p.log.Warn("failed to parse encrypted reply id", "err", err)
		return ParsedMessage{}, err
	}

	var result SubMsgResult
	if reply.Result.Ok != nil {
		data, err := p.decryptReplyData(envelope, reply.Result.Ok.Data)
		if err != nil {
			return ParsedMessage{}, err
		}
		result.Ok = &SubMsgResponse{Events: reply.Result.Ok.Events, Data: data}
	} else {
		msg, err := p.decryptReplyError(envelope, *reply.Result.Err)
		if err != nil {
			return ParsedMessage{}, err
		}
		result.Err = &msg
	}

	parsed, err := p.wrapReply(envelope, reply, DecryptedReply{ID: id, Result: result}, ParsedMessage{
		ShouldValidateSigInfo: true,
		WasMsgEncrypted:       true,
		ShouldEncryptOutput:   true,
		DataForValidation:     dataForValidation,
	})
	if err != nil {
		return ParsedMessage{}, err
	}
	signed, err := ReplySignBytes(reply.ID, reply.Result)
	if err != nil {
		return ParsedMessage{}, err
	}
	parsed.SecretMsg = envelope.WithMsg(signed)
	return parsed, nil
}

// decryptReplyData opens code_hash(64) || base64(data).
func (p *Parser) decryptReplyData(envelope secretmsg.SecretMessage, data []byte) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	pt, err := p.codec.Decrypt(envelope.WithMsg(data))
	if err != nil {
		p.log.Warn("failed to decrypt reply data", "err", err)
		return nil, err
	}
	if len(pt) < HexHashSize || !utf8.Valid(pt[HexHashSize:]) {
		return nil, fmt.Errorf("%w: reply data", ErrParse)
	}
	out, err := base64.StdEncoding.DecodeString(string(pt[HexHashSize:]))
	if err != nil {
		return nil, fmt.Errorf("%w: reply data is not base64", ErrParse)
	}
	return out, nil
}

// decryptReplyError opens base64(aead(code_hash(64) || message)).
func (p *Parser) decryptReplyError(envelope secretmsg.SecretMessage, b64 string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("%w: reply error is not base64", ErrParse)
	}
	pt, err := p.codec.Decrypt(envelope.WithMsg(ct))
	if err != nil {
		p.log.Warn("failed to decrypt reply error", "err", err)
		return "", err
	}
	if len(pt) < HexHashSize || !utf8.Valid(pt[HexHashSize:]) {
		return "", fmt.Errorf("%w: reply error", ErrParse)
	}
	return string(pt[HexHashSize:]), nil
}

// wrapReply fills in the envelope and plaintext of a parsed reply. The
// envelope carries the reply as the host sent it with events redacted.
func (p *Parser) wrapReply(envelope secretmsg.SecretMessage, reply Reply, decrypted DecryptedReply, parsed ParsedMessage) (ParsedMessage, error) {
	reply.Result = RedactEvents(reply.Result)
	redacted, err := json.Marshal(reply)
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("%w: reply: %v", ErrParse, err)
	}
	plain, err := json.Marshal(decrypted)
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("%w: reply: %v", ErrParse, err)
	}

	parsed.SecretMsg = envelope.WithMsg(redacted)
	parsed.DecryptedMsg = plain
	return parsed, nil
}
