// Package main (cmd/enclaved) runs an enclave node.
//
// On start the node unseals its consensus seeds from the configured sealing
// backends. When none are found it either generates them (--init-seed, used
// once at network genesis) or waits for administrators to recover them
// through the /admin API (--admin-keys-file). Until seeds are present
// /readyz reports unavailable and contract calls fail with 503.
//
// Example usage:
//
//	enclaved --config=enclave.yaml \
//	    --listen-addr=0.0.0.0:8080 \
//	    --sealing-uri=file:///var/lib/enclave \
//	    --sealing-uri=s3://bucket/enclave?region=us-east-1 \
//	    --attestation=qemu-tdx \
//	    --admin-keys-file=./admin-keys.json
package main
