// Package enclave runs contract calls inside the trusted boundary.
//
// An Enclave parses and authenticates the host's call arguments, hands the
// decrypted message to an interfaces.Engine and encrypts the engine's
// output for the original caller. ExtismEngine runs contracts compiled to
// WebAssembly.
package enclave
