// Package main (cmd/admin) implements the admin client for the consensus seed
// bootstrap of an enclave node.
//
// Commands:
//
//	status              - Query the current state of the seed bootstrap
//	generate-admin      - Generate a new administrator key pair
//	generate-config     - Create the admin keys file the node is started with
//	init-generate       - Generate fresh seeds and split them with the given threshold/shares
//	init-recovery       - Put the node in recovery mode with the given threshold
//	fetch-share         - Retrieve this admin's encrypted share and save it to a file
//	submit-share        - Decrypt a saved share and submit it during recovery
//
// Administrators authenticate with ECDSA signatures over the request path and
// body. Each share is encrypted to a single admin's key, and only that admin
// can fetch or submit it.
//
// Example workflow:
//
//  1. Each administrator generates a key pair:
//     admin generate-admin --admin-privkey-file=admin1-private.pem --admin-pubkey-file=admin1-public.pem
//
//  2. Create the admin keys file and start the node with it:
//     admin generate-config --admin-pubkey-files=admin1-public.pem,admin2-public.pem
//     enclaved --admin-keys-file=admin-keys.json
//
//  3. On the genesis node, generate 2-of-2 shares and fetch them:
//     admin init-generate --threshold=2 --total-shares=2
//     admin fetch-share
//
//  4. On a new node, recover the seeds:
//     admin init-recovery --threshold=2
//     admin submit-share --wait=1m
package main
