package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"lukechampine.com/blake3"

	"github.com/zmlAEQ/Aequa-dkg/internal/tss/combine"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/core"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/pkg/bus"
	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
	"github.com/zmlAEQ/Aequa-dkg/pkg/metrics"
)

// MaxInputSize bounds the caller-supplied round input.
const MaxInputSize = 1024

// Round is one randomness request. Members sign RoundMessage(ID, Input) with
// their shares; threshold+1 valid partial signatures are combined into the
// group signature, whose blake3 digest is the randomness.
type Round struct {
	ID          uint64                    `cbor:"id"`
	Requester   string                    `cbor:"requester"`
	Input       []byte                    `cbor:"input"`
	GroupPubKey bls381.G1Point            `cbor:"group_pubkey"`
	Sigs        map[uint16]bls381.G2Point `cbor:"sigs,omitempty"`
	Signature   *bls381.G2Point           `cbor:"signature,omitempty"`
	Randomness  []byte                    `cbor:"randomness,omitempty"`
	RequestedAt int64                     `cbor:"requested_at"`
	CompletedAt int64                     `cbor:"completed_at,omitempty"`
}

func (r *Round) Done() bool { return r.Signature != nil }

// Message is what members sign for this round.
func (r *Round) Message() []byte { return core.RoundMessage(r.ID, r.Input) }

// Signers lists the indices that contributed partial signatures.
func (r *Round) Signers() []uint16 {
	out := make([]uint16, 0, len(r.Sigs))
	for i := range r.Sigs {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// RequestRandom opens a new round bound to the current group key.
func (s *Session) RequestRandom(ctx context.Context, sender string, input []byte) (id uint64, err error) {
	begin := time.Now()
	defer func() { observe("request_random", begin, err) }()

	if sender == "" {
		return 0, fmt.Errorf("%w: empty sender", ErrUnauthorized)
	}
	if s.cfg.Status != WaitForRequest || s.cfg.GroupPubKey == nil {
		return 0, fmt.Errorf("%w: request_random in %s", ErrInvalidPhase, s.cfg.Status)
	}
	if len(input) > MaxInputSize {
		return 0, fmt.Errorf("%w: input of %d bytes", ErrInvalidInput, len(input))
	}
	s.lastRound++
	r := &Round{
		ID:          s.lastRound,
		Requester:   sender,
		Input:       append([]byte(nil), input...),
		GroupPubKey: *s.cfg.GroupPubKey,
		Sigs:        make(map[uint16]bls381.G2Point),
		RequestedAt: s.clock.Now().Unix(),
	}
	s.rounds[r.ID] = r
	logger.InfoJ("dkg_round", map[string]any{"op": "request", "round": r.ID, "requester": sender})
	metrics.AddGauge("dkg_rounds_pending", nil, 1)
	return r.ID, nil
}

// ShareSig adds sender's partial signature to round. The signature must
// verify under sender's public key share. The round completes once
// threshold+1 members have signed.
func (s *Session) ShareSig(ctx context.Context, sender string, round uint64, sig bls381.G2Point) (r *Round, err error) {
	begin := time.Now()
	defer func() { observe("share_sig", begin, err) }()

	m, err := s.reg.Lookup(sender)
	if err != nil {
		return nil, err
	}
	if s.cfg.Status != WaitForRequest {
		return nil, fmt.Errorf("%w: share_sig in %s", ErrInvalidPhase, s.cfg.Status)
	}
	r, ok := s.rounds[round]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoRound, round)
	}
	if r.Done() {
		return nil, fmt.Errorf("%w: %d", ErrRoundDone, round)
	}
	if m.RowShare == nil {
		return nil, fmt.Errorf("%w: member %d has no public key share", ErrInvalidShare, m.Index)
	}
	if !bls381.Verify(m.RowShare.PKShare, sig, r.Message(), []byte(core.DSTSig)) {
		return nil, fmt.Errorf("%w: partial signature from member %d", ErrInvalidShare, m.Index)
	}

	k := int(s.cfg.Threshold) + 1
	shares := make([]combine.G2Share, 0, len(r.Sigs)+1)
	for i, p := range r.Sigs {
		if i != m.Index {
			shares = append(shares, combine.G2Share{Index: i, Value: p})
		}
	}
	shares = append(shares, combine.G2Share{Index: m.Index, Value: sig})
	var combined *bls381.G2Point
	if len(shares) >= k {
		out, err := combine.CombineSignatures(shares, k)
		if err != nil {
			return nil, err
		}
		if !bls381.Verify(r.GroupPubKey, out, r.Message(), []byte(core.DSTSig)) {
			return nil, fmt.Errorf("%w: combined signature does not verify", ErrInvalidShare)
		}
		combined = &out
	}

	r.Sigs[m.Index] = sig
	if combined != nil {
		digest := blake3.Sum256(combined[:])
		r.Signature = combined
		r.Randomness = digest[:]
		r.CompletedAt = s.clock.Now().Unix()
		logger.InfoJ("dkg_round", map[string]any{"op": "complete", "round": r.ID, "signers": len(r.Sigs), "randomness": hex.EncodeToString(r.Randomness)})
		metrics.Inc("dkg_rounds_total", map[string]string{"result": "ok"})
		metrics.AddGauge("dkg_rounds_pending", nil, -1)
		s.publish(ctx, bus.Event{
			Kind:  bus.KindRandomness,
			Round: r.ID,
			Attrs: map[string]string{"round": strconv.FormatUint(r.ID, 10), "randomness": hex.EncodeToString(r.Randomness)},
			Body:  r,
		})
	}
	return r, nil
}

// Round returns the round with id.
func (s *Session) Round(id uint64) (*Round, error) {
	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoRound, id)
	}
	return r, nil
}

// LatestRound returns the most recently completed round.
func (s *Session) LatestRound() (*Round, error) {
	var best *Round
	for _, r := range s.rounds {
		if r.Done() && (best == nil || r.ID > best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNoRound
	}
	return best, nil
}
