// Package bls381 holds the fixed-length BLS12-381 encodings used across the
// module (compressed G1/G2 points, big-endian Fr scalars) and the signing
// primitives built on them. Arithmetic is done on blst types; values cross
// package and storage boundaries in the encoded form defined here.
package bls381

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

const (
	G1Size     = 48
	G2Size     = 96
	ScalarSize = 32
)

var (
	ErrInvalidLength = errors.New("invalid length")
	ErrInvalidPoint  = errors.New("invalid point")
	ErrInvalidScalar = errors.New("invalid scalar")
)

// compressed encodings set bit 6 of the first byte for the point at infinity
const infinityFlag = 0x40

// G1Point is a compressed G1 element.
type G1Point [G1Size]byte

// G2Point is a compressed G2 element.
type G2Point [G2Size]byte

// G1FromBytes copies b into a G1Point after checking that it decodes to a
// point of the prime-order subgroup.
func G1FromBytes(b []byte) (G1Point, error) {
	var p G1Point
	if len(b) != G1Size {
		return p, fmt.Errorf("g1: %w: %d", ErrInvalidLength, len(b))
	}
	copy(p[:], b)
	if _, err := p.Affine(); err != nil {
		return G1Point{}, err
	}
	return p, nil
}

// G1FromP1 encodes a projective point.
func G1FromP1(p *blst.P1) G1Point {
	var out G1Point
	copy(out[:], p.ToAffine().Compress())
	return out
}

// G1FromAffine encodes an affine point.
func G1FromAffine(a *blst.P1Affine) G1Point {
	var out G1Point
	copy(out[:], a.Compress())
	return out
}

// Affine decodes p and checks subgroup membership.
func (p G1Point) Affine() (*blst.P1Affine, error) {
	aff := new(blst.P1Affine).Uncompress(p[:])
	if aff == nil || !aff.InG1() {
		return nil, ErrInvalidPoint
	}
	return aff, nil
}

// P1 decodes p into projective form.
func (p G1Point) P1() (*blst.P1, error) {
	aff, err := p.Affine()
	if err != nil {
		return nil, err
	}
	var out blst.P1
	out.FromAffine(aff)
	return &out, nil
}

func (p G1Point) IsInfinity() bool { return p[0]&infinityFlag != 0 }
func (p G1Point) Bytes() []byte    { return append([]byte(nil), p[:]...) }
func (p G1Point) String() string   { return hex.EncodeToString(p[:]) }

func (p G1Point) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(p[:])), nil
}

func (p *G1Point) UnmarshalText(b []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return err
	}
	return p.UnmarshalBinary(raw)
}

func (p G1Point) MarshalBinary() ([]byte, error) { return p.Bytes(), nil }

// UnmarshalBinary only checks the length; use Affine to validate the point.
func (p *G1Point) UnmarshalBinary(b []byte) error {
	if len(b) != G1Size {
		return fmt.Errorf("g1: %w: %d", ErrInvalidLength, len(b))
	}
	copy(p[:], b)
	return nil
}

// G2FromBytes copies b into a G2Point after subgroup validation.
func G2FromBytes(b []byte) (G2Point, error) {
	var p G2Point
	if len(b) != G2Size {
		return p, fmt.Errorf("g2: %w: %d", ErrInvalidLength, len(b))
	}
	copy(p[:], b)
	if _, err := p.Affine(); err != nil {
		return G2Point{}, err
	}
	return p, nil
}

func G2FromP2(p *blst.P2) G2Point {
	var out G2Point
	copy(out[:], p.ToAffine().Compress())
	return out
}

func (p G2Point) Affine() (*blst.P2Affine, error) {
	aff := new(blst.P2Affine).Uncompress(p[:])
	if aff == nil || !aff.InG2() {
		return nil, ErrInvalidPoint
	}
	return aff, nil
}

func (p G2Point) P2() (*blst.P2, error) {
	aff, err := p.Affine()
	if err != nil {
		return nil, err
	}
	var out blst.P2
	out.FromAffine(aff)
	return &out, nil
}

func (p G2Point) IsInfinity() bool { return p[0]&infinityFlag != 0 }
func (p G2Point) Bytes() []byte    { return append([]byte(nil), p[:]...) }
func (p G2Point) String() string   { return hex.EncodeToString(p[:]) }

func (p G2Point) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(p[:])), nil
}

func (p *G2Point) UnmarshalText(b []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return err
	}
	return p.UnmarshalBinary(raw)
}

func (p G2Point) MarshalBinary() ([]byte, error) { return p.Bytes(), nil }

func (p *G2Point) UnmarshalBinary(b []byte) error {
	if len(b) != G2Size {
		return fmt.Errorf("g2: %w: %d", ErrInvalidLength, len(b))
	}
	copy(p[:], b)
	return nil
}
