package poly

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	blst "github.com/supranational/blst/bindings/go"

	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
)

// Commitment is the Feldman commitment C_k = g1^{c_k} of a polynomial.
type Commitment []bls381.G1Point

func (c Commitment) Degree() int              { return len(c) - 1 }
func (c Commitment) Constant() bls381.G1Point { return c[0] }

// Eval returns g1^{p(x)} = Σ C_k x^k.
func (c Commitment) Eval(x uint64) (*blst.P1, error) {
	if len(c) == 0 {
		return nil, ErrInvalidParams
	}
	if x == 0 {
		return c[0].P1()
	}
	acc, err := c[len(c)-1].P1()
	if err != nil {
		return nil, err
	}
	xs := bls381.ScalarFromUint64(x)
	for k := len(c) - 2; k >= 0; k-- {
		p, err := c[k].P1()
		if err != nil {
			return nil, err
		}
		acc.MultAssign(xs)
		acc.AddAssign(p)
	}
	return acc, nil
}

func (c Commitment) Equal(o Commitment) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] != o[i] {
			return false
		}
	}
	return true
}

// Bytes concatenates the compressed points.
func (c Commitment) Bytes() []byte {
	out := make([]byte, 0, len(c)*bls381.G1Size)
	for _, p := range c {
		out = append(out, p[:]...)
	}
	return out
}

const cacheSize = 4096

var decoded, _ = lru.New[string, Commitment](cacheSize)

// DecodeCommitment parses t+1 compressed G1 points and checks each is in
// the subgroup. Successful decodes are cached.
func DecodeCommitment(b []byte, t int) (Commitment, error) {
	if t < 0 || len(b) != (t+1)*bls381.G1Size {
		return nil, fmt.Errorf("commitment: %w: %d bytes for degree %d", bls381.ErrInvalidLength, len(b), t)
	}
	if c, ok := decoded.Get(string(b)); ok {
		return append(Commitment(nil), c...), nil
	}
	out := make(Commitment, t+1)
	for k := range out {
		p, err := bls381.G1FromBytes(b[k*bls381.G1Size : (k+1)*bls381.G1Size])
		if err != nil {
			return nil, fmt.Errorf("commitment: point %d: %w", k, err)
		}
		out[k] = p
	}
	decoded.Add(string(b), out)
	return append(Commitment(nil), out...), nil
}
