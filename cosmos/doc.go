// Package cosmos holds the chain-side types the enclave inspects when it
// verifies where an input came from: bech32 addresses, coins, secp256k1
// account keys, the SigInfo passed by the host, SIGN_MODE_DIRECT protobuf
// sign docs, legacy amino JSON and EIP-191 sign docs, and the IBC envelopes
// contracts receive.
//
// Protobuf messages are decoded field by field with protowire. Only the
// fields that take part in verification are read.
package cosmos
