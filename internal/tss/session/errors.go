package session

import (
	"errors"

	"github.com/zmlAEQ/Aequa-dkg/internal/tss/registry"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
)

var (
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrInvalidDealer    = errors.New("invalid dealer")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidPhase     = errors.New("invalid phase")
	ErrInvalidShare     = errors.New("invalid share")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNoRound          = errors.New("no such round")
	ErrRoundDone        = errors.New("round already complete")

	// ErrNoMember is returned for senders outside the live committee.
	ErrNoMember = registry.ErrNoMember

	ErrInvalidComplaint = vss.ErrInvalidComplaint
)
