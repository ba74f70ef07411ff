package validation

import (
	"errors"

	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
)

var (
	ErrParse              = errors.New("failed to parse message")
	ErrValidation         = errors.New("message validation failed")
	ErrProvenanceMismatch = errors.New("message provenance verification failed")
	ErrDecryption         = secretmsg.ErrDecryption
	ErrUninitialized      = kms.ErrUninitialized
)
