package validation

import (
	"crypto/hmac"
	"encoding/json"

	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
)

// CreateCallbackSignature authenticates a message one contract sends to
// another:
//
//	HMAC-SHA256(callback_secret, sender || msg || json(funds))
//
// msg is the payload of the SecretMessage only, without its header.
func CreateCallbackSignature(secret cryptoutils.AESKey, sender cosmos.CanonicalAddr, msg []byte, funds cosmos.Coins) []byte {
	// Coins always marshal to a list
	fundsJSON, _ := json.Marshal(funds)

	data := make([]byte, 0, len(sender)+len(msg)+len(fundsJSON))
	data = append(data, sender...)
	data = append(data, msg...)
	data = append(data, fundsJSON...)

	sig := secret.SignSHA256(data)
	return sig[:]
}

// VerifyCallbackSignature recomputes the signature in constant time. An
// empty signature never verifies.
func VerifyCallbackSignature(secret cryptoutils.AESKey, sig []byte, sender cosmos.CanonicalAddr, msg []byte, funds cosmos.Coins) bool {
	if len(sig) == 0 {
		return false
	}
	return hmac.Equal(sig, CreateCallbackSignature(secret, sender, msg, funds))
}
