package bls381

import (
	"io"

	blst "github.com/supranational/blst/bindings/go"
)

// KeyPair is a BLS key with the public key in G1 and signatures in G2.
type KeyPair struct {
	Secret Scalar
	Public G1Point
}

// GenerateKey draws a fresh key pair from r.
func GenerateKey(r io.Reader) (KeyPair, error) {
	sk, err := RandScalar(r)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Secret: ScalarFromBlst(sk), Public: PublicKey(sk)}, nil
}

// PublicKey returns g1^sk.
func PublicKey(sk *blst.Scalar) G1Point {
	return G1FromAffine(new(blst.P1Affine).From(sk))
}

// ParsePubKey decodes a member public key. The identity is rejected.
func ParsePubKey(b []byte) (G1Point, error) {
	p, err := G1FromBytes(b)
	if err != nil {
		return G1Point{}, err
	}
	if p.IsInfinity() {
		return G1Point{}, ErrInvalidPoint
	}
	return p, nil
}

// HashToG2 maps msg to G2 under dst.
func HashToG2(msg, dst []byte) G2Point {
	return G2FromP2(blst.HashToG2(msg, dst))
}

// Sign returns H(msg)^sk.
func Sign(sk Scalar, msg, dst []byte) (G2Point, error) {
	s, err := sk.Blst()
	if err != nil {
		return G2Point{}, err
	}
	sig := new(blst.P2Affine).Sign(s, msg, dst)
	var out G2Point
	copy(out[:], sig.Compress())
	return out, nil
}

// Verify checks sig against pk and msg under dst. Both points are group-checked.
func Verify(pk G1Point, sig G2Point, msg, dst []byte) bool {
	pkAff := new(blst.P1Affine).Uncompress(pk[:])
	if pkAff == nil {
		return false
	}
	sigAff := new(blst.P2Affine).Uncompress(sig[:])
	if sigAff == nil {
		return false
	}
	return sigAff.Verify(true, pkAff, true, msg, dst)
}
