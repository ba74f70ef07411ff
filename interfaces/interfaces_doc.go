// Package interfaces defines the contracts between the enclave core and its
// pluggable parts, without including implementation details.
//
// # Sealing
//
//   - Sealer: persists enclave-private blobs (file, S3, Vault, OS keyring)
//   - SealerLocation: parsed backend URI
//
// Errors returned by sealing backends:
//
//   - ErrSealedDataNotFound: nothing stored under the path
//   - ErrBackendUnavailable: backend is not accessible
//   - ErrInvalidLocationURI: backend URI is malformed
//
// # Execution
//
//   - Engine: runs contract code over a JSON env and message
package interfaces
