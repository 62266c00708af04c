// Package combine folds per-member shares into group values by Lagrange
// interpolation at zero. Member i contributes at x = i+1.
package combine

import (
	"errors"
	"fmt"
	"sort"

	blst "github.com/supranational/blst/bindings/go"

	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/poly"
)

var (
	ErrInvalidParams = errors.New("invalid params")
	ErrInvalidShare  = errors.New("invalid share")
	ErrNotEnough     = errors.New("not enough shares")
	ErrDuplicate     = errors.New("duplicate share index")
)

type ScalarShare struct {
	Index uint16
	Value *blst.Scalar
}

type G1Share struct {
	Index uint16
	Value bls381.G1Point
}

type G2Share struct {
	Index uint16
	Value bls381.G2Point
}

// LagrangeAtZero returns λ_i(0) = Π_{j≠i} x_j / (x_j - x_i) over the
// evaluation points of indices.
func LagrangeAtZero(i uint16, indices []uint16) (*blst.Scalar, error) {
	if len(indices) == 0 {
		return nil, ErrInvalidParams
	}
	xi := bls381.ScalarFromUint64(poly.MemberX(i))
	num := bls381.ScalarFromUint64(1)
	den := bls381.ScalarFromUint64(1)
	found := false
	for _, j := range indices {
		if j == i {
			found = true
			continue
		}
		xj := bls381.ScalarFromUint64(poly.MemberX(j))
		var ok bool
		if num, ok = num.Mul(xj); !ok {
			return nil, ErrInvalidShare
		}
		diff, ok := xj.Sub(xi)
		if !ok {
			return nil, ErrInvalidShare
		}
		if den, ok = den.Mul(diff); !ok {
			return nil, ErrInvalidShare
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: index %d not in set", ErrInvalidParams, i)
	}
	out, ok := num.Mul(den.Inverse())
	if !ok {
		return nil, ErrInvalidShare
	}
	return out, nil
}

// pick sorts indices, rejects duplicates, and returns the positions of the k
// lowest indices.
func pick(indices []uint16, k int) ([]int, []uint16, error) {
	if k <= 0 {
		return nil, nil, ErrInvalidParams
	}
	if len(indices) < k {
		return nil, nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnough, len(indices), k)
	}
	pos := make([]int, len(indices))
	for i := range pos {
		pos[i] = i
	}
	sort.Slice(pos, func(a, b int) bool { return indices[pos[a]] < indices[pos[b]] })
	for i := 1; i < len(pos); i++ {
		if indices[pos[i]] == indices[pos[i-1]] {
			return nil, nil, fmt.Errorf("%w: %d", ErrDuplicate, indices[pos[i]])
		}
	}
	pos = pos[:k]
	chosen := make([]uint16, k)
	for i, p := range pos {
		chosen[i] = indices[p]
	}
	return pos, chosen, nil
}

// CombineScalars interpolates the secret at zero from k shares. When more
// shares are given the k lowest indices are used.
func CombineScalars(shares []ScalarShare, k int) (*blst.Scalar, error) {
	indices := make([]uint16, len(shares))
	for i, s := range shares {
		if s.Value == nil {
			return nil, ErrInvalidParams
		}
		indices[i] = s.Index
	}
	pos, chosen, err := pick(indices, k)
	if err != nil {
		return nil, err
	}
	acc := new(blst.Scalar)
	for _, p := range pos {
		coeff, err := LagrangeAtZero(shares[p].Index, chosen)
		if err != nil {
			return nil, err
		}
		term, ok := shares[p].Value.Mul(coeff)
		if !ok {
			return nil, ErrInvalidShare
		}
		if _, ok := acc.AddAssign(term); !ok {
			return nil, ErrInvalidShare
		}
	}
	return acc, nil
}

// CombineG1 interpolates g1^{secret} from k public shares.
func CombineG1(shares []G1Share, k int) (bls381.G1Point, error) {
	indices := make([]uint16, len(shares))
	for i, s := range shares {
		indices[i] = s.Index
	}
	pos, chosen, err := pick(indices, k)
	if err != nil {
		return bls381.G1Point{}, err
	}
	acc := new(blst.P1)
	for _, p := range pos {
		coeff, err := LagrangeAtZero(shares[p].Index, chosen)
		if err != nil {
			return bls381.G1Point{}, err
		}
		pt, err := shares[p].Value.P1()
		if err != nil {
			return bls381.G1Point{}, fmt.Errorf("share %d: %w", shares[p].Index, err)
		}
		pt.MultAssign(coeff)
		acc.AddAssign(pt)
	}
	return bls381.G1FromP1(acc), nil
}

// CombineSignatures interpolates the group signature from k partial signatures.
func CombineSignatures(shares []G2Share, k int) (bls381.G2Point, error) {
	indices := make([]uint16, len(shares))
	for i, s := range shares {
		indices[i] = s.Index
	}
	pos, chosen, err := pick(indices, k)
	if err != nil {
		return bls381.G2Point{}, err
	}
	acc := new(blst.P2)
	for _, p := range pos {
		coeff, err := LagrangeAtZero(shares[p].Index, chosen)
		if err != nil {
			return bls381.G2Point{}, err
		}
		pt, err := shares[p].Value.P2()
		if err != nil {
			return bls381.G2Point{}, fmt.Errorf("share %d: %w", shares[p].Index, err)
		}
		pt.MultAssign(coeff)
		acc.AddAssign(pt)
	}
	return bls381.G2FromP2(acc), nil
}

// SumRowsAtZero returns Σ row_i(0), the member secret share built from the
// rows it accepted.
func SumRowsAtZero(rows []*poly.Poly) (*blst.Scalar, error) {
	if len(rows) == 0 {
		return nil, ErrInvalidParams
	}
	acc := new(blst.Scalar)
	for _, r := range rows {
		if _, ok := acc.AddAssign(r.Constant()); !ok {
			return nil, ErrInvalidShare
		}
	}
	return acc, nil
}

// SumConstants returns Σ c_i[0]. Applied to every qualified dealer's row-0
// commitment it yields the group public key; applied to their row m+1
// commitments it yields member m's public key share.
func SumConstants(commits []poly.Commitment) (bls381.G1Point, error) {
	if len(commits) == 0 {
		return bls381.G1Point{}, ErrInvalidParams
	}
	acc := new(blst.P1)
	for i, c := range commits {
		if len(c) == 0 {
			return bls381.G1Point{}, ErrInvalidParams
		}
		p, err := c.Constant().P1()
		if err != nil {
			return bls381.G1Point{}, fmt.Errorf("commit %d: %w", i, err)
		}
		acc.AddAssign(p)
	}
	return bls381.G1FromP1(acc), nil
}
