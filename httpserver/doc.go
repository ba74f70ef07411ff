/*
Package httpserver is the operator-facing HTTP surface of an enclave node.

Public API:

	GET  /api/public/registration        node public keys and attestation quote
	GET  /api/public/io_exchange_pubkey  base64 of the current IO exchange key

The registration quote carries SHA256(io_exchange_pubkey) ||
SHA256(seed_exchange_pubkey) of the current generation as report data. Both
endpoints answer 503 until the node holds its consensus seeds.

Host API, served unless disabled. Bodies are JSON with base64 byte fields;
env is the JSON environment the chain builds for the call:

	POST /api/host/init          {"code", "env", "msg", "sig_info"}
	POST /api/host/handle        {... , "handle_type"}
	POST /api/host/query         {"code", "env", "msg"}
	POST /api/host/migrate       {... , "admin", "previous_code_hash"}
	POST /api/host/admin_change  {"env", "sig_info", "admin", "new_admin"}

Failures return {"error": "<call> failed: <category>"}. The category is coarse
(parse error, contract key rejected, verification failed, decryption failed,
execution failed) and never names the check that failed.

Admin API, mounted under /admin when admin keys are configured:

	GET  /admin/status
	POST /admin/init/generate  {"threshold": n, "total_shares": m}
	GET  /admin/share
	POST /admin/init/recover   {"threshold": n}
	POST /admin/share          {"share": b64, "signature": b64}

Admin requests other than status carry X-Admin-ID and X-Admin-Signature, an
ASN.1 ECDSA P-256 signature over SHA256(path || body). Admin failures return
{"error": "<reason>"}. Generated shares are encrypted to the
retrieving admin's key; submitted shares are signed over SHA256(share).

Health: /livez, /readyz, /drain and /undrain. pprof is served under /debug
when enabled.
*/
package httpserver
