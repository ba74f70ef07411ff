// Package cryptoutils holds the primitives shared by the enclave key
// hierarchy and the message codec.
//
//   - DeriveKey: HKDF-SHA256 over key || data with the fixed network salt,
//     empty info and a 32-byte output. Derivation labels for the seed
//     hierarchy are big-endian uint32 values.
//   - AESKey.Encrypt / Decrypt: AES-SIV (CMAC, 256-bit key) with a single
//     empty associated-data element. Ciphertexts carry a 16-byte synthetic IV.
//   - KeyPair: X25519, where the derived 32 bytes are the private scalar.
//   - AttestationProvider: TDX quotes over the registration report data.
//
// Decryption failures are reported as ErrDecryption without detail.
package cryptoutils
