// Package vss implements the dealer and verifier sides of Feldman VSS over a
// symmetric bivariate polynomial. A dealer publishes n+1 row commitments
// (row 0 public, row i+1 for member i) and one encrypted row per member.
package vss

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/poly"
)

var (
	ErrInvalidShare = errors.New("invalid share")
	ErrDecrypt      = errors.New("row decryption failed")
)

// DealerShare is one dealer's public contribution.
type DealerShare struct {
	Commits []poly.Commitment // n+1 rows, each t+1 points
	Rows    []EncryptedRow    // n rows, one per member index
}

// Wire returns the commitments and rows as raw byte blobs.
func (d *DealerShare) Wire() (commits [][]byte, rows [][]byte) {
	commits = make([][]byte, len(d.Commits))
	for i, c := range d.Commits {
		commits[i] = c.Bytes()
	}
	rows = make([][]byte, len(d.Rows))
	for i, r := range d.Rows {
		rows[i] = append([]byte(nil), r...)
	}
	return commits, rows
}

// DecodeDealerShare parses raw blobs for a committee of n members and degree t.
// Lengths and point encodings are checked; consistency is left to VerifyDealerCommits.
func DecodeDealerShare(commits, rows [][]byte, t, n int) (*DealerShare, error) {
	if len(commits) != n+1 {
		return nil, fmt.Errorf("%w: %d commits for %d members", ErrInvalidShare, len(commits), n)
	}
	if len(rows) != n {
		return nil, fmt.Errorf("%w: %d rows for %d members", ErrInvalidShare, len(rows), n)
	}
	d := &DealerShare{Commits: make([]poly.Commitment, n+1), Rows: make([]EncryptedRow, n)}
	for i, b := range commits {
		c, err := poly.DecodeCommitment(b, t)
		if err != nil {
			return nil, fmt.Errorf("%w: commit %d: %v", ErrInvalidShare, i, err)
		}
		d.Commits[i] = c
	}
	size := EncryptedRowSize(t)
	for i, r := range rows {
		if len(r) != size {
			return nil, fmt.Errorf("%w: row %d has %d bytes, want %d", ErrInvalidShare, i, len(r), size)
		}
		d.Rows[i] = append(EncryptedRow(nil), r...)
	}
	return d, nil
}

// VerifyDealerCommits checks that the row commitments come from a single
// symmetric polynomial: C_a(b) == C_b(a) for every pair of rows.
func VerifyDealerCommits(commits []poly.Commitment, t int) error {
	for i, c := range commits {
		if c.Degree() != t {
			return fmt.Errorf("%w: commit %d has degree %d, want %d", ErrInvalidShare, i, c.Degree(), t)
		}
	}
	// evals[a][b] = C_a(b)
	evals := make([][]bls381.G1Point, len(commits))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for a := range commits {
		a := a
		evals[a] = make([]bls381.G1Point, len(commits))
		g.Go(func() error {
			for b := range commits {
				if a == b {
					continue
				}
				p, err := commits[a].Eval(uint64(b))
				if err != nil {
					return fmt.Errorf("%w: commit %d: %v", ErrInvalidShare, a, err)
				}
				evals[a][b] = bls381.G1FromP1(p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for a := range commits {
		for b := a + 1; b < len(commits); b++ {
			if evals[a][b] != evals[b][a] {
				return fmt.Errorf("%w: rows %d and %d disagree", ErrInvalidShare, a, b)
			}
		}
	}
	return nil
}

// VerifyRow reports whether row is the row committed to for the member at index.
func VerifyRow(row *poly.Poly, commits []poly.Commitment, index uint16) bool {
	i := int(index) + 1
	if row == nil || i >= len(commits) {
		return false
	}
	return row.Commitment().Equal(commits[i])
}

// Deal samples a fresh degree-t polynomial and deals it to pubkeys.
func Deal(t int, pubkeys []bls381.G1Point, r io.Reader) (*DealerShare, *poly.BivarPoly, error) {
	f, err := poly.RandomBivar(t, r)
	if err != nil {
		return nil, nil, err
	}
	d, err := DealPoly(f, pubkeys, r)
	if err != nil {
		return nil, nil, err
	}
	return d, f, nil
}

// DealPoly commits to f and encrypts row i+1 of f for pubkeys[i].
// Rows are encrypted concurrently; randomness is drawn from r up front.
func DealPoly(f *poly.BivarPoly, pubkeys []bls381.G1Point, r io.Reader) (*DealerShare, error) {
	n := len(pubkeys)
	if n == 0 {
		return nil, poly.ErrInvalidParams
	}
	com := f.Commitment()
	d := &DealerShare{Commits: make([]poly.Commitment, n+1), Rows: make([]EncryptedRow, n)}
	for x := 0; x <= n; x++ {
		c, err := com.Row(uint64(x))
		if err != nil {
			return nil, err
		}
		d.Commits[x] = c
	}
	entropy := make([]rowEntropy, n)
	for i := range entropy {
		e, err := readEntropy(r)
		if err != nil {
			return nil, err
		}
		entropy[i] = e
	}
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range pubkeys {
		i := i
		g.Go(func() error {
			idx := uint16(i)
			row, err := f.Row(poly.MemberX(idx))
			if err != nil {
				return err
			}
			defer row.Zeroize()
			enc, err := encryptRow(pubkeys[i], idx, row, entropy[i])
			if err != nil {
				return err
			}
			d.Rows[i] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

// RowShare is a member's acknowledgement: it accepted the rows of the listed
// dealers and PKShare = g1^{share} is the public key of the folded share.
type RowShare struct {
	PKShare  bls381.G1Point
	Accepted []uint16
}
