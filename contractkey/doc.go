// Package contractkey derives and authenticates per-contract keys.
//
// A contract key is sender_id || contract_id where
//
//	sender_id   = SHA256(canonical_sender || u64_be(block_height))
//	contract_id = HMAC-SHA256(state_ikm.genesis.DeriveKey(sender_id),
//	                          sender_id || code_hash || canonical_contract)
//
// The key is produced once at instantiation and then recomputed and compared
// on every call. A migrated contract carries its original key plus a proof
// tying the original to the current key.
package contractkey
