// Package validation decides what an incoming call is allowed to mean.
//
// ParseMessage turns the raw bytes the host passed for a handle type into
// the plaintext the contract will see, together with the flags that say
// which checks must run. ValidateMsg checks that a decrypted message was
// addressed to this contract's code. VerifyParams proves that the message
// came from the transaction consensus agreed on, either through a callback
// signature minted by this enclave or through the user's transaction
// signature and a signed chain message that matches the call.
//
// Every exported error is terminal for the call. Errors returned to the host
// never say which provenance check failed.
package validation
