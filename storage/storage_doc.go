// Package storage provides sealing backends for enclave-private blobs.
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/enclave/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - vault://vault.internal:8200/secret/enclave?token=...
//   - keyring://secret-enclave
//
// Several URIs combine into a MultiSealer that writes to every available
// backend and reads from the first that has the data. SoftwareSealer wraps
// any backend with AES-SIV under a host-provided key, binding the sealed path
// as associated data.
//
// Sealed paths are relative slash-separated names. Absolute paths and ".."
// components are rejected with ErrInvalidPath.
package storage
