// Package main (cmd/secretcli) is the operator and wallet command line for
// enclave nodes.
//
// Wallet side, it seals contract messages to a node's io exchange key and
// opens encrypted outputs:
//
//	secretcli keygen --user-key-file=user.key
//	secretcli encrypt --code-file=counter.wasm '{"increment":{}}'
//	secretcli decrypt <sent message> <output value>
//
// Operator side, it backs up the sealed consensus seeds as Shamir shares and
// restores them onto new sealing backends:
//
//	secretcli seed split --sealing-uri=file:///var/lib/enclave --threshold=2 --total-shares=3
//	secretcli seed combine --sealing-uri=vault://127.0.0.1:8200/secret/enclave seed-share-0.hex seed-share-2.hex
package main
