// Package dkg is the member side of the protocol: dealing a bivariate
// polynomial, folding the qualified dealers' rows into a secret share, and
// signing randomness rounds with that share.
package dkg

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/zmlAEQ/Aequa-dkg/internal/tss/combine"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/core"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/poly"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
	"github.com/zmlAEQ/Aequa-dkg/pkg/metrics"
)

var ErrRejected = errors.New("rows rejected")

// RejectedError lists why rows were rejected. Complaints carries one
// complaint per rejected dealer that published a row for this member; once
// they are upheld AcceptRows can be retried with the dealers that remain.
type RejectedError struct {
	Complaints []DealerComplaint
	reasons    error
}

type DealerComplaint struct {
	Dealer    uint16
	Complaint vss.Complaint
}

func (e *RejectedError) Error() string { return fmt.Sprintf("%v: %v", ErrRejected, e.reasons) }
func (e *RejectedError) Unwrap() error { return ErrRejected }

// Dealer is a qualified dealer's published share.
type Dealer struct {
	Index uint16
	Share *vss.DealerShare
}

type Participant struct {
	cfg      Config
	key      bls381.KeyPair
	keys     *KeyStore
	sessions *SessionStore
}

func NewParticipant(cfg Config) (*Participant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sk, _ := bls381.ScalarFromBytes(cfg.SecretKey)
	b, err := sk.Blst()
	if err != nil {
		return nil, err
	}
	path := cfg.KeySharePath
	if path == "" {
		path = defaultKeySharePath
	}
	keys, err := NewKeyStoreFromEnv(path)
	if err != nil {
		return nil, err
	}
	p := &Participant{
		cfg:  cfg,
		key:  bls381.KeyPair{Secret: sk, Public: bls381.PublicKey(b)},
		keys: keys,
	}
	if cfg.SessionDir != "" {
		p.sessions = NewSessionStore(cfg.SessionDir)
	}
	return p, nil
}

func (p *Participant) Address() string        { return p.cfg.Address }
func (p *Participant) PubKey() bls381.G1Point { return p.key.Public }

// polynomial returns the persisted dealing polynomial for this session, or a
// fresh one that is persisted before use.
func (p *Participant) polynomial(threshold int) (*poly.BivarPoly, error) {
	if p.sessions != nil {
		if st, err := p.sessions.load(p.cfg.SessionID); err == nil && st.Threshold == threshold {
			logger.InfoJ("dkg_participant", map[string]any{"op": "deal", "session": p.cfg.SessionID, "result": "resume"})
			return poly.BivarFromCoefficients(threshold, st.Coeffs)
		}
	}
	f, err := poly.RandomBivar(threshold, rand.Reader)
	if err != nil {
		return nil, err
	}
	if p.sessions != nil {
		if err := p.sessions.save(p.cfg.SessionID, dealState{Threshold: threshold, Coeffs: f.Coefficients()}); err != nil {
			f.Zeroize()
			return nil, fmt.Errorf("persist deal session: %w", err)
		}
	}
	return f, nil
}

// Deal builds this member's dealer share for the committee members (public
// keys in index order).
func (p *Participant) Deal(_ context.Context, members []bls381.G1Point, threshold int) (*vss.DealerShare, error) {
	f, err := p.polynomial(threshold)
	if err != nil {
		return nil, err
	}
	defer f.Zeroize()
	share, err := vss.DealPoly(f, members, rand.Reader)
	if err != nil {
		return nil, err
	}
	metrics.Inc("dkg_participant_total", map[string]string{"op": "deal"})
	return share, nil
}

// AcceptRows decrypts and checks every qualified dealer's row for index. If
// any row fails, nothing is folded and a *RejectedError lists every rejected
// dealer with the complaints to publish against them. On success the secret
// share is persisted and the public part returned for ShareRow.
func (p *Participant) AcceptRows(ctx context.Context, index uint16, threshold int, dealers []Dealer) (vss.RowShare, error) {
	if len(dealers) == 0 {
		return vss.RowShare{}, fmt.Errorf("%w: no dealers", ErrRejected)
	}
	sort.Slice(dealers, func(i, j int) bool { return dealers[i].Index < dealers[j].Index })
	var (
		rows    []*poly.Poly
		commits []poly.Commitment
		errs    error
		rej     RejectedError
	)
	complain := func(d Dealer) {
		c, err := vss.NewComplaint(p.key.Secret, index, d.Share.Rows[index], rand.Reader)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dealer %d: complaint: %w", d.Index, err))
			return
		}
		rej.Complaints = append(rej.Complaints, DealerComplaint{Dealer: d.Index, Complaint: c})
	}
	for _, d := range dealers {
		if d.Share == nil || int(index) >= len(d.Share.Rows) {
			errs = multierr.Append(errs, fmt.Errorf("dealer %d: no row for member %d", d.Index, index))
			continue
		}
		row, err := vss.DecryptRow(p.key.Secret, index, d.Share.Rows[index], threshold)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dealer %d: %w", d.Index, err))
			complain(d)
			continue
		}
		if !vss.VerifyRow(row, d.Share.Commits, index) {
			row.Zeroize()
			errs = multierr.Append(errs, fmt.Errorf("dealer %d: %w", d.Index, vss.ErrInvalidShare))
			complain(d)
			continue
		}
		rows = append(rows, row)
		commits = append(commits, d.Share.Commits[0])
	}
	defer func() {
		for _, r := range rows {
			r.Zeroize()
		}
	}()
	if errs != nil {
		metrics.Inc("dkg_rows_rejected_total", nil)
		logger.WarnJ("dkg_participant", map[string]any{"op": "accept", "index": index, "rejected": len(multierr.Errors(errs)), "complaints": len(rej.Complaints), "err": errs.Error()})
		rej.reasons = errs
		return vss.RowShare{}, &rej
	}

	secret, err := combine.SumRowsAtZero(rows)
	if err != nil {
		return vss.RowShare{}, err
	}
	group, err := combine.SumConstants(commits)
	if err != nil {
		return vss.RowShare{}, err
	}
	sc := bls381.ScalarFromBlst(secret)
	defer sc.Zeroize()
	pk := bls381.PublicKey(secret)
	accepted := make([]uint16, len(dealers))
	for i, d := range dealers {
		accepted[i] = d.Index
	}
	if err := p.keys.SaveKeyShare(ctx, KeyShare{
		SessionID:   p.cfg.SessionID,
		Index:       index,
		Threshold:   uint16(threshold),
		Share:       sc.Bytes(),
		PKShare:     pk.Bytes(),
		GroupPubKey: group.Bytes(),
		Qualified:   accepted,
	}); err != nil {
		return vss.RowShare{}, err
	}
	metrics.Inc("dkg_participant_total", map[string]string{"op": "accept"})
	logger.InfoJ("dkg_participant", map[string]any{"op": "accept", "index": index, "dealers": len(dealers), "group_pubkey": group.String()})
	return vss.RowShare{PKShare: pk, Accepted: accepted}, nil
}

// SignRound produces this member's partial signature for a randomness round.
func (p *Participant) SignRound(ctx context.Context, round uint64, input []byte) (bls381.G2Point, error) {
	ks, err := p.keys.LoadKeyShare(ctx)
	if err != nil {
		return bls381.G2Point{}, err
	}
	sk, err := bls381.ScalarFromBytes(ks.Share)
	zero(ks.Share)
	if err != nil {
		return bls381.G2Point{}, fmt.Errorf("key share: %w", err)
	}
	defer sk.Zeroize()
	sig, err := bls381.Sign(sk, core.RoundMessage(round, input), []byte(core.DSTSig))
	if err != nil {
		return bls381.G2Point{}, err
	}
	metrics.Inc("dkg_participant_total", map[string]string{"op": "sign"})
	return sig, nil
}
