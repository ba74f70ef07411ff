// Package secretmsg implements the SecretMessage envelope:
//
//	[0..32)  nonce
//	[32..64) user X25519 public key
//	[64..)   AES-SIV ciphertext
//
// There are no length prefixes and the ciphertext may be empty. Inputs
// shorter than 64 bytes are not SecretMessages; TryDecrypt passes them
// through as plaintext with a zero header. Any framed message that fails
// authentication is rejected with ErrDecryption.
package secretmsg
