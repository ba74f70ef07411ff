package validation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
)

// CallbackKeySource provides the secret callback signatures are keyed with.
type CallbackKeySource interface {
	ConsensusCallbackSecret() (kms.SeedsHolder[cryptoutils.AESKey], error)
}

type VerifyRequest struct {
	Call
	SigInfo           cosmos.SigInfo
	ShouldVerifySig   bool
	ShouldVerifyInput bool
}

// Verifier checks that a call was produced by the transaction consensus
// agreed on.
type Verifier struct {
	keys  CallbackKeySource
	addrs cosmos.AddressCodec
	log   *slog.Logger
}

func NewVerifier(keys CallbackKeySource, addrs cosmos.AddressCodec, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{keys: keys, addrs: addrs, log: log}
}

// CallbackSignature signs a message this enclave passes from contract
// sender to another contract, using the current callback secret.
func (v *Verifier) CallbackSignature(sender cosmos.CanonicalAddr, msg []byte, funds cosmos.Coins) ([]byte, error) {
	secret, err := v.keys.ConsensusCallbackSecret()
	if err != nil {
		return nil, err
	}
	return CreateCallbackSignature(secret.Current, sender, msg, funds), nil
}

// VerifyParams runs the provenance checks the parsed message asked for.
//
// A callback signature, when present, is the only check: the calling
// contract was itself verified by this enclave. Otherwise the transaction
// signature must verify and belong to the sender, and with input
// verification one of the signed messages must match the call.
//
// Every failure returns ErrProvenanceMismatch. The reason is only logged.
func (v *Verifier) VerifyParams(req VerifyRequest) error {
	if req.ShouldVerifySig {
		if req.SigInfo.HasCallbackSig() {
			return v.verifyCallbackSig(req)
		}
		if err := v.verifySignature(req); err != nil {
			return v.reject("signature", err)
		}
	}

	if req.ShouldVerifyInput {
		if err := v.verifyInput(req); err != nil {
			return v.reject("input", err)
		}
	}

	v.log.Debug("parameters verified", "operation", req.Operation, "handle_type", req.HandleType)
	return nil
}

func (v *Verifier) reject(stage string, err error) error {
	if errors.Is(err, ErrUninitialized) {
		return err
	}
	v.log.Warn("provenance verification failed", "stage", stage)
	v.log.Debug("provenance verification failure detail", "stage", stage, "err", err)
	return ErrProvenanceMismatch
}

func (v *Verifier) verifyCallbackSig(req VerifyRequest) error {
	secret, err := v.keys.ConsensusCallbackSecret()
	if err != nil {
		return err
	}
	if !VerifyCallbackSignature(secret.Current, req.SigInfo.CallbackSig, req.Sender, req.Msg.Msg, req.SentFunds) {
		return v.reject("callback", errors.New("callback signature mismatch"))
	}
	v.log.Debug("callback signature verified, sender is the calling contract")
	return nil
}

func (v *Verifier) verifySignature(req VerifyRequest) error {
	signer, err := v.signer(req.SigInfo, req.Sender)
	if err != nil {
		return err
	}
	if err := signer.VerifyBytes(req.SigInfo.SignBytes, req.SigInfo.Signature, req.SigInfo.SignMode); err != nil {
		return err
	}
	if !signer.Address().Equal(req.Sender) {
		return errors.New("message sender is not the transaction signer")
	}
	return nil
}

// signer recovers the public key the sign bytes were signed with.
func (v *Verifier) signer(sigInfo cosmos.SigInfo, sender cosmos.CanonicalAddr) (cosmos.Secp256k1PubKey, error) {
	switch sigInfo.SignMode {
	case cosmos.SignModeDirect:
		doc, err := cosmos.DecodeSignDoc(sigInfo.SignBytes, v.addrs)
		if err != nil {
			return nil, err
		}
		key, ok := doc.AuthInfo.SenderPublicKey(sender)
		if !ok {
			return nil, errors.New("sender not found in auth_info.signer_infos")
		}
		return key, nil
	case cosmos.SignModeLegacyAminoJSON, cosmos.SignModeEIP191:
		return cosmos.PubKeyFromAnyBytes(sigInfo.PublicKey)
	default:
		return nil, fmt.Errorf("%w: %s", cosmos.ErrUnsupportedSignMode, sigInfo.SignMode)
	}
}

// signedMessages returns the top-level messages of the signed transaction.
func (v *Verifier) signedMessages(sigInfo cosmos.SigInfo) ([]cosmos.ChainMessage, error) {
	switch sigInfo.SignMode {
	case cosmos.SignModeDirect:
		doc, err := cosmos.DecodeSignDoc(sigInfo.SignBytes, v.addrs)
		if err != nil {
			return nil, err
		}
		return doc.Body.Messages, nil
	case cosmos.SignModeLegacyAminoJSON:
		doc, err := cosmos.DecodeStdSignDoc(sigInfo.SignBytes)
		if err != nil {
			return nil, err
		}
		return doc.ChainMessages(v.addrs)
	case cosmos.SignModeEIP191:
		doc, err := cosmos.DecodeEIP191SignDoc(sigInfo.SignBytes)
		if err != nil {
			return nil, err
		}
		return doc.ChainMessages(v.addrs)
	default:
		return nil, fmt.Errorf("%w: %s", cosmos.ErrUnsupportedSignMode, sigInfo.SignMode)
	}
}

func (v *Verifier) verifyInput(req VerifyRequest) error {
	msgs, err := v.signedMessages(req.SigInfo)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if Matches(req.Call, m) {
			return nil
		}
	}
	return fmt.Errorf("none of %d signed messages matches the call", len(msgs))
}
