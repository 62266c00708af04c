// Package session is the DKG session state machine. A session moves from
// WaitForDealer to WaitForRow once enough dealers have published, and to
// WaitForRequest once every live member has acknowledged its rows; Reset is
// the only way back. Every operation validates completely before it mutates,
// so a returned error leaves the session unchanged.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"

	"github.com/zmlAEQ/Aequa-dkg/internal/tss/combine"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/poly"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/registry"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
	"github.com/zmlAEQ/Aequa-dkg/pkg/bus"
	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
	"github.com/zmlAEQ/Aequa-dkg/pkg/metrics"
)

type Status string

const (
	WaitForDealer  Status = "wait_for_dealer"
	WaitForRow     Status = "wait_for_row"
	WaitForRequest Status = "wait_for_request"
)

const (
	evDealersReady = "dealers_ready"
	evRowsReady    = "rows_ready"
	evDealersLost  = "dealers_lost"
	evReset        = "reset"
)

// Coin is the fee attached to randomness requests. It is recorded, not charged.
type Coin struct {
	Denom  string `json:"denom" cbor:"denom"`
	Amount string `json:"amount" cbor:"amount"`
}

// Config is the session configuration and progress counters.
type Config struct {
	Total             uint16          `cbor:"total"`
	Dealer            uint16          `cbor:"dealer"`
	Threshold         uint16          `cbor:"threshold"`
	SharedDealerCount uint16          `cbor:"shared_dealer_count"`
	SharedRowCount    uint16          `cbor:"shared_row_count"`
	Status            Status          `cbor:"status"`
	Creator           string          `cbor:"creator"`
	Fee               *Coin           `cbor:"fee,omitempty"`
	GroupPubKey       *bls381.G1Point `cbor:"group_pubkey,omitempty"`
	// Qualified lists the dealers frozen when the session entered WaitForRow.
	Qualified []uint16 `cbor:"qualified,omitempty"`
	// Disqualified lists dealers removed by an upheld complaint this epoch.
	Disqualified []uint16 `cbor:"disqualified,omitempty"`
}

// Session owns the registry and configuration of one DKG epoch.
type Session struct {
	cfg       Config
	reg       *registry.Registry
	rounds    map[uint64]*Round
	lastRound uint64

	machine *fsm.FSM
	clock   clock.Clock
	bus     *bus.Bus
}

type Option func(*Session)

// WithClock sets the time source used to stamp rounds.
func WithClock(c clock.Clock) Option { return func(s *Session) { s.clock = c } }

// WithBus publishes phase changes and completed rounds on b.
func WithBus(b *bus.Bus) Option { return func(s *Session) { s.bus = b } }

// New starts an epoch. dealer defaults to threshold+1 when nil.
func New(creator string, entries []registry.Entry, threshold uint16, dealer *uint16, fee *Coin, opts ...Option) (*Session, error) {
	reg, err := registry.New(entries)
	if err != nil {
		return nil, err
	}
	d := threshold + 1
	if dealer != nil {
		d = *dealer
	}
	total := uint16(reg.Live())
	if err := validate(total, threshold, d); err != nil {
		return nil, err
	}
	s := &Session{
		cfg: Config{
			Total:     total,
			Dealer:    d,
			Threshold: threshold,
			Status:    WaitForDealer,
			Creator:   creator,
			Fee:       fee,
		},
		reg:    reg,
		rounds: make(map[uint64]*Round),
	}
	s.init(opts)
	logger.InfoJ("dkg_session", map[string]any{"op": "init", "total": total, "threshold": threshold, "dealer": d, "result": "ok"})
	metrics.SetGauge("dkg_committee_size", nil, float64(total))
	return s, nil
}

func (s *Session) init(opts []Option) {
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	s.machine = fsm.NewFSM(
		string(s.cfg.Status),
		fsm.Events{
			{Name: evDealersReady, Src: []string{string(WaitForDealer)}, Dst: string(WaitForRow)},
			{Name: evRowsReady, Src: []string{string(WaitForRow)}, Dst: string(WaitForRequest)},
			{Name: evDealersLost, Src: []string{string(WaitForRow)}, Dst: string(WaitForDealer)},
			{Name: evReset, Src: []string{string(WaitForDealer), string(WaitForRow), string(WaitForRequest)}, Dst: string(WaitForDealer)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) { s.onEnter(ctx, e) },
		},
	)
}

func validate(total, threshold, dealer uint16) error {
	if threshold == 0 || threshold > total {
		return fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, total)
	}
	if dealer == 0 || dealer > total {
		return fmt.Errorf("%w: %d of %d", ErrInvalidDealer, dealer, total)
	}
	return nil
}

func (s *Session) onEnter(ctx context.Context, e *fsm.Event) {
	s.cfg.Status = Status(e.Dst)
	logger.InfoJ("dkg_session", map[string]any{"event": "phase", "from": e.Src, "status": e.Dst, "trigger": e.Event})
	metrics.Inc("dkg_phase_total", map[string]string{"status": e.Dst})
	s.publish(ctx, bus.Event{Kind: bus.KindPhase, Attrs: map[string]string{"from": e.Src, "status": e.Dst}})
}

func (s *Session) publish(ctx context.Context, ev bus.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, ev)
	}
}

func (s *Session) fire(ctx context.Context, event string) error {
	err := s.machine.Event(ctx, event)
	var noop fsm.NoTransitionError
	if err != nil && !errors.As(err, &noop) {
		return err
	}
	s.cfg.Status = Status(s.machine.Current())
	return nil
}

func observe(op string, begin time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Inc("dkg_ops_total", map[string]string{"op": op, "result": result})
	metrics.ObserveSummary("dkg_op_ms", map[string]string{"op": op}, float64(time.Since(begin).Microseconds())/1000)
}

// Config returns a copy of the configuration.
func (s *Session) Config() Config {
	c := s.cfg
	c.Qualified = append([]uint16(nil), s.cfg.Qualified...)
	c.Disqualified = append([]uint16(nil), s.cfg.Disqualified...)
	return c
}

func (s *Session) Status() Status { return s.cfg.Status }

// Registry exposes the committee for read access.
func (s *Session) Registry() *registry.Registry { return s.reg }

// Member returns the live member at address.
func (s *Session) Member(address string) (*registry.Member, error) { return s.reg.Lookup(address) }

// ShareDealer records sender's dealer share. The share must have n+1 row
// commitments of degree threshold, n encrypted rows, and commitments that
// agree pairwise. Resubmission replaces the stored share without counting
// the dealer twice.
func (s *Session) ShareDealer(ctx context.Context, sender string, share *vss.DealerShare) (err error) {
	begin := time.Now()
	defer func() { observe("share_dealer", begin, err) }()

	m, err := s.reg.Lookup(sender)
	if err != nil {
		return err
	}
	if s.cfg.Status != WaitForDealer {
		return fmt.Errorf("%w: share_dealer in %s", ErrInvalidPhase, s.cfg.Status)
	}
	if contains(s.cfg.Disqualified, m.Index) {
		return fmt.Errorf("%w: dealer %d was disqualified", ErrInvalidShare, m.Index)
	}
	if err := s.checkDealerShape(share); err != nil {
		return err
	}
	if err := vss.VerifyDealerCommits(share.Commits, int(s.cfg.Threshold)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}

	first := m.DealerShare == nil
	m.DealerShare = share
	if first {
		s.cfg.SharedDealerCount++
	}
	logger.InfoJ("dkg_session", map[string]any{"op": "share_dealer", "member": m.Index, "first": first, "count": s.cfg.SharedDealerCount, "result": "ok"})
	if s.cfg.SharedDealerCount >= s.cfg.Dealer {
		s.cfg.Qualified = s.dealers()
		return s.fire(ctx, evDealersReady)
	}
	return nil
}

func (s *Session) checkDealerShape(share *vss.DealerShare) error {
	n, t := s.reg.Size(), int(s.cfg.Threshold)
	if share == nil || len(share.Commits) != n+1 || len(share.Rows) != n {
		return fmt.Errorf("%w: want %d commits and %d rows", ErrInvalidShare, n+1, n)
	}
	size := vss.EncryptedRowSize(t)
	for i, r := range share.Rows {
		if len(r) != size {
			return fmt.Errorf("%w: row %d has %d bytes, want %d", ErrInvalidShare, i, len(r), size)
		}
	}
	return nil
}

// dealers lists live members holding a dealer share, in index order.
func (s *Session) dealers() []uint16 {
	var out []uint16
	for _, m := range s.reg.Members() {
		if !m.Deleted && m.DealerShare != nil {
			out = append(out, m.Index)
		}
	}
	return out
}

// ExpectedPKShare is Σ commits_i[index+1][0] over the qualified dealers, the
// public key of the share member index folds from their rows.
func (s *Session) ExpectedPKShare(index uint16) (bls381.G1Point, error) {
	return s.sumQualified(int(index) + 1)
}

func (s *Session) sumQualified(row int) (bls381.G1Point, error) {
	if len(s.cfg.Qualified) == 0 {
		return bls381.G1Point{}, fmt.Errorf("%w: no qualified dealers", ErrInvalidPhase)
	}
	commits := make([]poly.Commitment, 0, len(s.cfg.Qualified))
	for _, i := range s.cfg.Qualified {
		d, err := s.reg.ByIndex(i)
		if err != nil {
			return bls381.G1Point{}, err
		}
		if d.DealerShare == nil || row >= len(d.DealerShare.Commits) {
			return bls381.G1Point{}, fmt.Errorf("%w: dealer %d has no share", ErrInvalidShare, i)
		}
		commits = append(commits, d.DealerShare.Commits[row])
	}
	return combine.SumConstants(commits)
}

// ShareRow records sender's acknowledgement. Accepted must list exactly the
// qualified dealers and PKShare must match their commitments.
func (s *Session) ShareRow(ctx context.Context, sender string, share vss.RowShare) (err error) {
	begin := time.Now()
	defer func() { observe("share_row", begin, err) }()

	m, err := s.reg.Lookup(sender)
	if err != nil {
		return err
	}
	if s.cfg.Status != WaitForRow {
		return fmt.Errorf("%w: share_row in %s", ErrInvalidPhase, s.cfg.Status)
	}
	accepted := append([]uint16(nil), share.Accepted...)
	sort.Slice(accepted, func(i, j int) bool { return accepted[i] < accepted[j] })
	if !equalIndices(accepted, s.cfg.Qualified) {
		return fmt.Errorf("%w: accepted %v, qualified %v", ErrInvalidShare, accepted, s.cfg.Qualified)
	}
	want, err := s.ExpectedPKShare(m.Index)
	if err != nil {
		return err
	}
	if share.PKShare != want {
		return fmt.Errorf("%w: pk share does not match dealer commitments", ErrInvalidShare)
	}

	first := m.RowShare == nil
	m.RowShare = &vss.RowShare{PKShare: share.PKShare, Accepted: accepted}
	if first {
		s.cfg.SharedRowCount++
	}
	logger.InfoJ("dkg_session", map[string]any{"op": "share_row", "member": m.Index, "first": first, "count": s.cfg.SharedRowCount, "result": "ok"})
	if s.cfg.SharedRowCount >= s.cfg.Total {
		gpk, err := s.sumQualified(0)
		if err != nil {
			return err
		}
		s.cfg.GroupPubKey = &gpk
		return s.fire(ctx, evRowsReady)
	}
	return nil
}

// Complain disqualifies a qualified dealer whose row for sender is faulty.
// The complaint must prove the key sender derived for the row; the row is
// then opened and checked against the dealer's commitments. An upheld
// complaint drops every row acknowledgement, since each covered the old
// qualified set. If no qualified dealer is left the session returns to
// WaitForDealer.
func (s *Session) Complain(ctx context.Context, sender string, dealer uint16, c vss.Complaint) (err error) {
	begin := time.Now()
	defer func() { observe("complain", begin, err) }()

	m, err := s.reg.Lookup(sender)
	if err != nil {
		return err
	}
	if s.cfg.Status != WaitForRow {
		return fmt.Errorf("%w: complain in %s", ErrInvalidPhase, s.cfg.Status)
	}
	if !contains(s.cfg.Qualified, dealer) {
		return fmt.Errorf("%w: dealer %d is not qualified", ErrInvalidComplaint, dealer)
	}
	d, err := s.reg.ByIndex(dealer)
	if err != nil {
		return err
	}
	if d.DealerShare == nil || int(m.Index) >= len(d.DealerShare.Rows) {
		return fmt.Errorf("%w: dealer %d has no share", ErrInvalidShare, dealer)
	}
	row := d.DealerShare.Rows[m.Index]
	if err := vss.CheckComplaint(m.PubKey, m.Index, row, d.DealerShare.Commits, int(s.cfg.Threshold), c); err != nil {
		return err
	}

	qualified := make([]uint16, 0, len(s.cfg.Qualified)-1)
	for _, q := range s.cfg.Qualified {
		if q != dealer {
			qualified = append(qualified, q)
		}
	}
	s.cfg.Qualified = qualified
	s.cfg.Disqualified = append(s.cfg.Disqualified, dealer)
	sort.Slice(s.cfg.Disqualified, func(i, j int) bool { return s.cfg.Disqualified[i] < s.cfg.Disqualified[j] })
	for _, mm := range s.reg.Members() {
		mm.RowShare = nil
	}
	s.cfg.SharedRowCount = 0
	logger.WarnJ("dkg_session", map[string]any{"op": "complain", "member": m.Index, "dealer": dealer, "qualified": len(qualified), "result": "disqualified"})
	metrics.Inc("dkg_disqualified_total", nil)
	if len(qualified) > 0 {
		return nil
	}
	for _, i := range s.cfg.Disqualified {
		if dm, err := s.reg.ByIndex(i); err == nil {
			dm.DealerShare = nil
		}
	}
	s.cfg.SharedDealerCount = uint16(len(s.dealers()))
	return s.fire(ctx, evDealersLost)
}

func contains(set []uint16, v uint16) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func equalIndices(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Reset starts a new epoch. Only the creator may reset. A nil threshold keeps
// the current threshold and dealer; a new threshold sets dealer to
// threshold+1. A nil members list keeps the registry. Completed randomness
// rounds survive; pending ones are dropped.
func (s *Session) Reset(ctx context.Context, sender string, threshold *uint16, members []registry.Entry) (err error) {
	begin := time.Now()
	defer func() { observe("reset", begin, err) }()

	if sender != s.cfg.Creator {
		return fmt.Errorf("%w: %s is not the creator", ErrUnauthorized, sender)
	}
	reg := s.reg
	if members != nil {
		if reg, err = registry.New(members); err != nil {
			return err
		}
	}
	t, d := s.cfg.Threshold, s.cfg.Dealer
	if threshold != nil {
		t, d = *threshold, *threshold+1
	}
	total := uint16(reg.Live())
	if err := validate(total, t, d); err != nil {
		return err
	}

	reg.ClearShares()
	s.reg = reg
	s.cfg.Total, s.cfg.Threshold, s.cfg.Dealer = total, t, d
	s.cfg.SharedDealerCount, s.cfg.SharedRowCount = 0, 0
	s.cfg.Qualified, s.cfg.Disqualified = nil, nil
	s.cfg.GroupPubKey = nil
	for id, r := range s.rounds {
		if !r.Done() {
			delete(s.rounds, id)
		}
	}
	logger.InfoJ("dkg_session", map[string]any{"op": "reset", "total": total, "threshold": t, "dealer": d, "result": "ok"})
	metrics.SetGauge("dkg_committee_size", nil, float64(total))
	return s.fire(ctx, evReset)
}

// RemoveMember soft-removes address. The committee must still satisfy the
// threshold and dealer bounds afterwards, and once rounds are being served
// enough members must remain to sign them. Removal is refused while rows are
// being collected; before that, a removed dealer's share is discarded.
func (s *Session) RemoveMember(ctx context.Context, sender, address string) (err error) {
	begin := time.Now()
	defer func() { observe("remove_member", begin, err) }()

	if sender != s.cfg.Creator {
		return fmt.Errorf("%w: %s is not the creator", ErrUnauthorized, sender)
	}
	m, err := s.reg.Lookup(address)
	if err != nil {
		return err
	}
	if s.cfg.Status == WaitForRow {
		return fmt.Errorf("%w: remove_member in %s", ErrInvalidPhase, s.cfg.Status)
	}
	total := s.cfg.Total - 1
	if err := validate(total, s.cfg.Threshold, s.cfg.Dealer); err != nil {
		return err
	}
	if s.cfg.Status == WaitForRequest && s.cfg.Threshold+1 > total {
		return fmt.Errorf("%w: %d signers needed, %d members left", ErrInvalidThreshold, s.cfg.Threshold+1, total)
	}

	if err := s.reg.SoftRemove(address); err != nil {
		return err
	}
	if s.cfg.Status == WaitForDealer && m.DealerShare != nil {
		m.DealerShare = nil
		s.cfg.SharedDealerCount--
	}
	s.cfg.Total = total
	logger.InfoJ("dkg_session", map[string]any{"op": "remove_member", "member": m.Index, "total": total, "result": "ok"})
	metrics.SetGauge("dkg_committee_size", nil, float64(total))
	return nil
}
