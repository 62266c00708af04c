package core

import "errors"

// Domain separation tags.
const (
	DSTSig = "EQS/TSS/v1/SIG" // partial and combined threshold signatures
	DSTDkg = "EQS/TSS/v1/DKG" // row encryption key derivation
	DSTApp = "EQS/APP/v1/MSG" // application messages
)

// IsValidDST reports whether dst is one of the known tags.
func IsValidDST(dst string) bool { return dst == DSTSig || dst == DSTDkg || dst == DSTApp }

// ErrInvalidDST is returned for unknown domain separation tags.
var ErrInvalidDST = errors.New("invalid dst")
