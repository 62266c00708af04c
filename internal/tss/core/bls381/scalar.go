package bls381

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	blst "github.com/supranational/blst/bindings/go"
)

// Scalar is a big-endian encoded element of Fr.
type Scalar [ScalarSize]byte

// ScalarFromBytes validates that b is a canonical non-zero element of Fr.
func ScalarFromBytes(b []byte) (Scalar, error) {
	var s Scalar
	if len(b) != ScalarSize {
		return s, fmt.Errorf("scalar: %w: %d", ErrInvalidLength, len(b))
	}
	if new(blst.Scalar).Deserialize(b) == nil {
		return s, ErrInvalidScalar
	}
	copy(s[:], b)
	return s, nil
}

// ScalarFromBlst encodes s.
func ScalarFromBlst(s *blst.Scalar) Scalar {
	var out Scalar
	copy(out[:], s.Serialize())
	return out
}

// Blst decodes s. Zero and out-of-range values are rejected.
func (s Scalar) Blst() (*blst.Scalar, error) {
	out := new(blst.Scalar).Deserialize(s[:])
	if out == nil {
		return nil, ErrInvalidScalar
	}
	return out, nil
}

func (s Scalar) Bytes() []byte { return append([]byte(nil), s[:]...) }

// Zeroize wipes the encoded secret.
func (s *Scalar) Zeroize() {
	for i := range s {
		s[i] = 0
	}
}

// ScalarFromUint64 returns v as an Fr element.
func ScalarFromUint64(v uint64) *blst.Scalar {
	var buf [ScalarSize]byte
	binary.BigEndian.PutUint64(buf[ScalarSize-8:], v)
	var s blst.Scalar
	_ = s.FromBEndian(buf[:])
	return &s
}

// RandScalar draws a uniformly distributed non-zero scalar from r.
func RandScalar(r io.Reader) (*blst.Scalar, error) {
	var ikm [32]byte
	if _, err := io.ReadFull(r, ikm[:]); err != nil {
		return nil, err
	}
	sk := blst.KeyGen(ikm[:])
	if sk == nil {
		return nil, errors.New("bad randomness")
	}
	return sk, nil
}
