// Package poly implements the polynomials behind the VSS scheme: univariate
// rows over Fr, their Feldman commitments in G1, and the symmetric bivariate
// polynomial a dealer samples. Member i evaluates at x = i+1; x = 0 is the
// dealer's public row.
package poly

import (
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"

	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
)

var (
	ErrInvalidParams = errors.New("invalid params")
	ErrInvalidShare  = errors.New("invalid share")
)

// MemberX is the evaluation point of the member at index.
func MemberX(index uint16) uint64 { return uint64(index) + 1 }

// Poly is a univariate polynomial c_0 + c_1 x + ... + c_t x^t over Fr.
type Poly struct {
	coeffs []*blst.Scalar
}

// NewPoly wraps coeffs (lowest degree first). The slice is not copied.
func NewPoly(coeffs []*blst.Scalar) (*Poly, error) {
	if len(coeffs) == 0 {
		return nil, ErrInvalidParams
	}
	for _, c := range coeffs {
		if c == nil {
			return nil, ErrInvalidParams
		}
	}
	return &Poly{coeffs: coeffs}, nil
}

func (p *Poly) Degree() int              { return len(p.coeffs) - 1 }
func (p *Poly) Coeff(i int) *blst.Scalar { return p.coeffs[i] }
func (p *Poly) Constant() *blst.Scalar   { return p.coeffs[0] }

// Eval returns p(x) by Horner's rule.
func (p *Poly) Eval(x uint64) (*blst.Scalar, error) {
	if x == 0 {
		c := *p.coeffs[0]
		return &c, nil
	}
	xs := bls381.ScalarFromUint64(x)
	acc := *p.coeffs[len(p.coeffs)-1]
	for k := len(p.coeffs) - 2; k >= 0; k-- {
		if _, ok := acc.MulAssign(xs); !ok {
			return nil, ErrInvalidShare
		}
		if _, ok := acc.AddAssign(p.coeffs[k]); !ok {
			return nil, ErrInvalidShare
		}
	}
	return &acc, nil
}

// Commitment returns g1^{c_k} for every coefficient.
func (p *Poly) Commitment() Commitment {
	out := make(Commitment, len(p.coeffs))
	g := blst.P1Generator()
	for k, c := range p.coeffs {
		out[k] = bls381.G1FromP1(g.Mult(c))
	}
	return out
}

// Bytes encodes the coefficients as concatenated 32-byte big-endian scalars.
func (p *Poly) Bytes() []byte {
	out := make([]byte, 0, len(p.coeffs)*bls381.ScalarSize)
	for _, c := range p.coeffs {
		out = append(out, c.Serialize()...)
	}
	return out
}

// PolyFromBytes decodes a degree-t polynomial produced by Bytes.
func PolyFromBytes(b []byte, t int) (*Poly, error) {
	if t < 0 || len(b) != (t+1)*bls381.ScalarSize {
		return nil, fmt.Errorf("poly: %w: %d bytes for degree %d", bls381.ErrInvalidLength, len(b), t)
	}
	coeffs := make([]*blst.Scalar, t+1)
	for k := range coeffs {
		s := new(blst.Scalar).Deserialize(b[k*bls381.ScalarSize : (k+1)*bls381.ScalarSize])
		if s == nil {
			return nil, fmt.Errorf("poly: coefficient %d: %w", k, bls381.ErrInvalidScalar)
		}
		coeffs[k] = s
	}
	return &Poly{coeffs: coeffs}, nil
}

// Zeroize overwrites the coefficients.
func (p *Poly) Zeroize() {
	for _, c := range p.coeffs {
		*c = blst.Scalar{}
	}
}
