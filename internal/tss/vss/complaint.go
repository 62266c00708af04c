package vss

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/zmlAEQ/Aequa-dkg/internal/tss/core"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/poly"
)

var ErrInvalidComplaint = errors.New("invalid complaint")

// ComplaintProofSize is the wire length of the proof: A1 || A2 || z.
const ComplaintProofSize = 2*bls381.G1Size + bls381.ScalarSize

// Complaint accuses a dealer of a bad row. It reveals Shared = U^sk, the
// point the row key is derived from, and a Chaum-Pedersen proof that
// log_g(pk) == log_U(Shared). Anyone can then open the row and check it
// against the dealer's commitments without learning sk.
type Complaint struct {
	Shared bls381.G1Point
	A1     bls381.G1Point
	A2     bls381.G1Point
	Z      bls381.Scalar
}

// Wire returns the revealed point and the proof blob.
func (c Complaint) Wire() (shared, proof []byte) {
	proof = make([]byte, 0, ComplaintProofSize)
	proof = append(proof, c.A1[:]...)
	proof = append(proof, c.A2[:]...)
	proof = append(proof, c.Z[:]...)
	return c.Shared.Bytes(), proof
}

// DecodeComplaint only checks lengths. Points are validated by CheckComplaint,
// which must also accept complaints about rows whose ephemeral key is invalid.
func DecodeComplaint(shared, proof []byte) (Complaint, error) {
	var c Complaint
	if len(shared) != bls381.G1Size || len(proof) != ComplaintProofSize {
		return c, fmt.Errorf("%w: %d byte point, %d byte proof", ErrInvalidComplaint, len(shared), len(proof))
	}
	copy(c.Shared[:], shared)
	copy(c.A1[:], proof[:bls381.G1Size])
	copy(c.A2[:], proof[bls381.G1Size:2*bls381.G1Size])
	copy(c.Z[:], proof[2*bls381.G1Size:])
	return c, nil
}

func challenge(index uint16, pub, u, shared, a1, a2 bls381.G1Point) *blst.Scalar {
	h := sha256.New()
	h.Write([]byte(core.DSTDkg + "/DLEQ"))
	h.Write(binary.BigEndian.AppendUint16(nil, index))
	for _, p := range []bls381.G1Point{pub, u, shared, a1, a2} {
		h.Write(p[:])
	}
	return blst.KeyGen(h.Sum(nil))
}

// NewComplaint builds the complaint of the member at index holding sk about
// blob. A row whose ephemeral key does not decode needs no proof and gets an
// empty complaint.
func NewComplaint(sk bls381.Scalar, index uint16, blob EncryptedRow, r io.Reader) (Complaint, error) {
	if len(blob) < bls381.G1Size {
		return Complaint{}, nil
	}
	u := blob.ephemeral()
	up, err := u.P1()
	if err != nil {
		return Complaint{}, nil
	}
	x, err := sk.Blst()
	if err != nil {
		return Complaint{}, err
	}
	k, err := bls381.RandScalar(r)
	if err != nil {
		return Complaint{}, err
	}
	c := Complaint{
		Shared: bls381.G1FromP1(up.Mult(x)),
		A1:     bls381.G1FromP1(blst.P1Generator().Mult(k)),
		A2:     bls381.G1FromP1(up.Mult(k)),
	}
	e := challenge(index, bls381.PublicKey(x), u, c.Shared, c.A1, c.A2)
	ex, ok := e.Mul(x)
	if !ok {
		return Complaint{}, ErrInvalidComplaint
	}
	z, ok := k.Add(ex)
	if !ok {
		return Complaint{}, ErrInvalidComplaint
	}
	c.Z = bls381.ScalarFromBlst(z)
	return c, nil
}

func (c Complaint) verify(pub bls381.G1Point, index uint16, u bls381.G1Point) error {
	pk, err := pub.P1()
	if err != nil {
		return err
	}
	up, err := u.P1()
	if err != nil {
		return err
	}
	var pts [3]*blst.P1
	for i, p := range []bls381.G1Point{c.Shared, c.A1, c.A2} {
		if pts[i], err = p.P1(); err != nil {
			return err
		}
	}
	shared, a1, a2 := pts[0], pts[1], pts[2]
	z, err := c.Z.Blst()
	if err != nil {
		return err
	}
	e := challenge(index, pub, u, c.Shared, c.A1, c.A2)
	if !blst.P1Generator().Mult(z).Equals(a1.Add(pk.Mult(e))) {
		return errors.New("proof does not match public key")
	}
	if !up.Mult(z).Equals(a2.Add(shared.Mult(e))) {
		return errors.New("proof does not match revealed key")
	}
	return nil
}

// CheckComplaint returns nil when the complaint of the member at index
// holding pub is upheld: the row addressed to it does not open under the
// proven key, or opens to a row the dealer did not commit to. A complaint
// about a good row, or one with a bad proof, fails with ErrInvalidComplaint.
func CheckComplaint(pub bls381.G1Point, index uint16, blob EncryptedRow, commits []poly.Commitment, t int, c Complaint) error {
	if len(blob) != EncryptedRowSize(t) {
		return nil
	}
	u := blob.ephemeral()
	if _, err := u.P1(); err != nil {
		return nil
	}
	if err := c.verify(pub, index, u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidComplaint, err)
	}
	shared, _ := c.Shared.P1()
	row, err := openRow(shared, index, blob, t)
	if err != nil {
		return nil
	}
	defer row.Zeroize()
	if VerifyRow(row, commits, index) {
		return fmt.Errorf("%w: row %d matches the dealer commitments", ErrInvalidComplaint, index)
	}
	return nil
}
