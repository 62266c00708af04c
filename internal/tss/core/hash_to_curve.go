package core

import bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"

// HashToCurve maps msg to G2 under one of the known tags.
func HashToCurve(msg []byte, dst string) (bls381.G2Point, error) {
	if !IsValidDST(dst) {
		return bls381.G2Point{}, ErrInvalidDST
	}
	return bls381.HashToG2(msg, []byte(dst)), nil
}

// RoundMessage is the message members sign for a randomness round.
func RoundMessage(round uint64, input []byte) []byte {
	out := make([]byte, 0, len(DSTApp)+8+len(input))
	out = append(out, DSTApp...)
	for i := 7; i >= 0; i-- {
		out = append(out, byte(round>>(8*i)))
	}
	return append(out, input...)
}
