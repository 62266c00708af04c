package poly

import (
	"fmt"
	"io"

	blst "github.com/supranational/blst/bindings/go"

	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
)

// BivarPoly is a symmetric polynomial f(x, y) = Σ a_ij x^i y^j with a_ij = a_ji.
// Row x of f is the univariate polynomial f(x, y) in y.
type BivarPoly struct {
	t int
	a [][]*blst.Scalar
}

// RandomBivar samples a symmetric polynomial of degree t in each variable.
func RandomBivar(t int, r io.Reader) (*BivarPoly, error) {
	if t < 0 {
		return nil, ErrInvalidParams
	}
	a := newMatrix(t)
	for i := 0; i <= t; i++ {
		for j := i; j <= t; j++ {
			s, err := bls381.RandScalar(r)
			if err != nil {
				return nil, err
			}
			a[i][j], a[j][i] = s, s
		}
	}
	return &BivarPoly{t: t, a: a}, nil
}

func newMatrix(t int) [][]*blst.Scalar {
	a := make([][]*blst.Scalar, t+1)
	for i := range a {
		a[i] = make([]*blst.Scalar, t+1)
	}
	return a
}

func (b *BivarPoly) Degree() int { return b.t }

// Secret is f(0, 0), this dealer's contribution to the group secret.
func (b *BivarPoly) Secret() *blst.Scalar { return b.a[0][0] }

// Row returns f(x, y) as a polynomial in y: c_k = Σ_i a_ik x^i.
func (b *BivarPoly) Row(x uint64) (*Poly, error) {
	coeffs := make([]*blst.Scalar, b.t+1)
	for k := 0; k <= b.t; k++ {
		col := make([]*blst.Scalar, b.t+1)
		for i := 0; i <= b.t; i++ {
			col[i] = b.a[i][k]
		}
		c, err := (&Poly{coeffs: col}).Eval(x)
		if err != nil {
			return nil, err
		}
		v := *c
		coeffs[k] = &v
	}
	return &Poly{coeffs: coeffs}, nil
}

// Commitment returns A_ij = g1^{a_ij}.
func (b *BivarPoly) Commitment() *BivarCommitment {
	g := blst.P1Generator()
	pts := make([][]bls381.G1Point, b.t+1)
	for i := range pts {
		pts[i] = make([]bls381.G1Point, b.t+1)
	}
	for i := 0; i <= b.t; i++ {
		for j := i; j <= b.t; j++ {
			p := bls381.G1FromP1(g.Mult(b.a[i][j]))
			pts[i][j], pts[j][i] = p, p
		}
	}
	return &BivarCommitment{t: b.t, pts: pts}
}

// Coefficients returns the upper triangle a_ij (i <= j) in row-major order.
func (b *BivarPoly) Coefficients() [][]byte {
	out := make([][]byte, 0, (b.t+1)*(b.t+2)/2)
	for i := 0; i <= b.t; i++ {
		for j := i; j <= b.t; j++ {
			out = append(out, b.a[i][j].Serialize())
		}
	}
	return out
}

// BivarFromCoefficients restores a polynomial from Coefficients.
func BivarFromCoefficients(t int, coeffs [][]byte) (*BivarPoly, error) {
	if t < 0 || len(coeffs) != (t+1)*(t+2)/2 {
		return nil, ErrInvalidParams
	}
	a := newMatrix(t)
	n := 0
	for i := 0; i <= t; i++ {
		for j := i; j <= t; j++ {
			s := new(blst.Scalar).Deserialize(coeffs[n])
			if s == nil {
				return nil, fmt.Errorf("bivar: coefficient %d: %w", n, bls381.ErrInvalidScalar)
			}
			a[i][j], a[j][i] = s, s
			n++
		}
	}
	return &BivarPoly{t: t, a: a}, nil
}

// Zeroize overwrites every coefficient.
func (b *BivarPoly) Zeroize() {
	for i := 0; i <= b.t; i++ {
		for j := i; j <= b.t; j++ {
			*b.a[i][j] = blst.Scalar{}
		}
	}
}

// BivarCommitment is the public commitment to a BivarPoly.
type BivarCommitment struct {
	t   int
	pts [][]bls381.G1Point
}

// Row returns the commitment to row x: C_k = Σ_i A_ik x^i.
func (c *BivarCommitment) Row(x uint64) (Commitment, error) {
	out := make(Commitment, c.t+1)
	for k := 0; k <= c.t; k++ {
		col := make(Commitment, c.t+1)
		for i := 0; i <= c.t; i++ {
			col[i] = c.pts[i][k]
		}
		p, err := col.Eval(x)
		if err != nil {
			return nil, err
		}
		out[k] = bls381.G1FromP1(p)
	}
	return out, nil
}
