package common

// PackageName is used as the metrics namespace.
const PackageName = "secret_compute_enclave"

// Version is overridden at build time with -ldflags "-X .../common.Version=...".
var Version = "dev"
