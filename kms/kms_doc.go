// Package kms holds the enclave key hierarchy.
//
// Two 32-byte consensus seeds exist side by side: genesis, fixed at network
// birth, and current, which can be rotated. Every purpose key is derived one
// level deep from a seed with cryptoutils.DeriveKey and a big-endian uint32
// label:
//
//	1  seed exchange keypair      (both generations)
//	2  IO exchange keypair        (both generations)
//	3  state IKM                  (both generations)
//	4  callback secret            (both generations)
//	5  randomness encryption key  (current)
//	6  initial randomness seed    (current)
//	7  admin proof secret         (current)
//	8  contract key proof secret  (current)
//
// KeyHierarchy is initialized once, by generating, provisioning or unsealing
// the seeds, and is read-only afterwards. Accessors return ErrUninitialized
// until then.
//
// Seeds can be backed up as Shamir shares (SplitSeeds / CombineSeeds) and
// recovered on a fresh node through SeedRecovery, which only accepts shares
// signed by registered admins.
package kms
