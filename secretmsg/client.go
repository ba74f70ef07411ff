package secretmsg

import (
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
)

// ClientEncryptionKey is the user-side view of the message key:
// DeriveKey(X25519(user_priv, node_io_pub), nonce).
func ClientEncryptionKey(nodeIOPublicKey PublicKey, user cryptoutils.KeyPair, nonce Nonce) (cryptoutils.AESKey, error) {
	shared, err := user.DiffieHellman(nodeIOPublicKey)
	if err != nil {
		return cryptoutils.AESKey{}, err
	}
	return shared.DeriveKey(nonce[:]), nil
}

// SealForNode encrypts a contract input for a node.
func SealForNode(nodeIOPublicKey PublicKey, user cryptoutils.KeyPair, nonce Nonce, plaintext []byte) (SecretMessage, error) {
	key, err := ClientEncryptionKey(nodeIOPublicKey, user, nonce)
	if err != nil {
		return SecretMessage{}, err
	}

	ct, err := key.Encrypt(plaintext)
	if err != nil {
		return SecretMessage{}, err
	}
	return SecretMessage{Nonce: nonce, UserPublicKey: user.PublicKey(), Msg: ct}, nil
}

// OpenFromNode decrypts a ciphertext the node produced for this user and nonce.
func OpenFromNode(nodeIOPublicKey PublicKey, user cryptoutils.KeyPair, nonce Nonce, ciphertext []byte) ([]byte, error) {
	key, err := ClientEncryptionKey(nodeIOPublicKey, user, nonce)
	if err != nil {
		return nil, ErrDecryption
	}
	return key.Decrypt(ciphertext)
}
