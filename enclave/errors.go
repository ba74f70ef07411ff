package enclave

import "errors"

var (
	ErrInvalidEnv    = errors.New("invalid call environment")
	ErrInvalidOutput = errors.New("invalid contract output")
	ErrEngine        = errors.New("contract execution failed")
)
