// Package contract exposes the DKG session as a message-driven contract over
// a key/value store. Each call runs in one store transaction: the session is
// loaded, the operation applied, and the result written back only when the
// operation succeeds.
package contract

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/zmlAEQ/Aequa-dkg/internal/state"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/registry"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/session"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
	"github.com/zmlAEQ/Aequa-dkg/pkg/bus"
	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
	"github.com/zmlAEQ/Aequa-dkg/pkg/metrics"
)

var (
	ErrInvalidMsg         = errors.New("invalid message")
	ErrNotInitialized     = errors.New("contract not initialized")
	ErrAlreadyInitialized = errors.New("contract already initialized")
)

const (
	defaultPageLimit = 30
	maxPageLimit     = 100
)

type Contract struct {
	mu    sync.Mutex
	store state.Store
	clock clock.Clock
	bus   *bus.Bus
}

type Option func(*Contract)

// WithClock sets the block clock handed to the session.
func WithClock(c clock.Clock) Option { return func(k *Contract) { k.clock = c } }

// WithBus publishes committed responses and session events on b.
func WithBus(b *bus.Bus) Option { return func(k *Contract) { k.bus = b } }

func New(store state.Store, opts ...Option) *Contract {
	c := &Contract{store: store, clock: clock.New()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// update runs fn against the stored session. Session events are buffered and
// only published once the transaction has committed.
func (c *Contract) update(ctx context.Context, fn func(tx state.Tx, local *bus.Bus) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	local := bus.New(64)
	sub := local.Subscribe()
	defer local.Unsubscribe(sub)
	if err := c.store.Update(func(tx state.Tx) error { return fn(tx, local) }); err != nil {
		return err
	}
	for {
		select {
		case ev := <-sub:
			c.publish(ctx, ev)
		default:
			return nil
		}
	}
}

func (c *Contract) publish(ctx context.Context, ev bus.Event) {
	if c.bus != nil {
		c.bus.Publish(ctx, ev)
	}
}

func (c *Contract) restore(tx state.Tx, local *bus.Bus) (*session.Session, error) {
	st, err := load(tx)
	if err != nil {
		return nil, err
	}
	return session.Restore(st, session.WithClock(c.clock), session.WithBus(local))
}

func decodeMembers(in []MemberMsg) ([]registry.Entry, error) {
	out := make([]registry.Entry, 0, len(in))
	for i, m := range in {
		pk, err := bls381.ParsePubKey(m.PubKey)
		if err != nil {
			return nil, fmt.Errorf("%w: member %d pubkey: %v", ErrInvalidMsg, i, err)
		}
		out = append(out, registry.Entry{Address: m.Address, PubKey: pk})
	}
	return out, nil
}

// Instantiate creates the session. It can only run once per store.
func (c *Contract) Instantiate(ctx context.Context, sender string, msg InitMsg) (*Response, error) {
	entries, err := decodeMembers(msg.Members)
	if err != nil {
		return nil, err
	}
	resp := new(Response)
	err = c.update(ctx, func(tx state.Tx, local *bus.Bus) error {
		if _, err := tx.Get(keyConfig); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, state.ErrNotFound) {
			return err
		}
		s, err := session.New(sender, entries, msg.Threshold, msg.Dealer, msg.Fee, session.WithClock(c.clock), session.WithBus(local))
		if err != nil {
			return err
		}
		cfg := s.Config()
		resp.add("action", "instantiate").
			add("total", strconv.Itoa(int(cfg.Total))).
			add("threshold", strconv.Itoa(int(cfg.Threshold))).
			add("dealer", strconv.Itoa(int(cfg.Dealer))).
			add("status", string(cfg.Status))
		return save(tx, s.Snapshot())
	})
	c.finish(ctx, "instantiate", sender, resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Execute applies one state-changing message from sender.
func (c *Contract) Execute(ctx context.Context, sender string, msg ExecuteMsg) (*Response, error) {
	action, err := msg.Action()
	if err != nil {
		return nil, err
	}
	resp := new(Response)
	resp.add("action", action)
	err = c.update(ctx, func(tx state.Tx, local *bus.Bus) error {
		s, err := c.restore(tx, local)
		if err != nil {
			return err
		}
		if err := c.apply(ctx, s, sender, msg, resp); err != nil {
			return err
		}
		resp.add("status", string(s.Status()))
		return save(tx, s.Snapshot())
	})
	c.finish(ctx, action, sender, resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Contract) apply(ctx context.Context, s *session.Session, sender string, msg ExecuteMsg, resp *Response) error {
	cfg := s.Config()
	switch {
	case msg.ShareDealer != nil:
		share, err := vss.DecodeDealerShare(msg.ShareDealer.Share.Commits, msg.ShareDealer.Share.Rows, int(cfg.Threshold), s.Registry().Size())
		if err != nil {
			return err
		}
		if err := s.ShareDealer(ctx, sender, share); err != nil {
			return err
		}
		resp.add("member", sender)
	case msg.ShareRow != nil:
		pk, err := bls381.G1FromBytes(msg.ShareRow.Share.PKShare)
		if err != nil {
			return fmt.Errorf("%w: pk_share: %v", ErrInvalidMsg, err)
		}
		if err := s.ShareRow(ctx, sender, vss.RowShare{PKShare: pk, Accepted: msg.ShareRow.Share.Accepted}); err != nil {
			return err
		}
		resp.add("member", sender)
	case msg.Complain != nil:
		c, err := vss.DecodeComplaint(msg.Complain.Shared, msg.Complain.Proof)
		if err != nil {
			return err
		}
		if err := s.Complain(ctx, sender, msg.Complain.Dealer, c); err != nil {
			return err
		}
		resp.add("member", sender).add("dealer", strconv.Itoa(int(msg.Complain.Dealer)))
	case msg.Reset != nil:
		var entries []registry.Entry
		if msg.Reset.Members != nil {
			var err error
			if entries, err = decodeMembers(msg.Reset.Members); err != nil {
				return err
			}
		}
		if err := s.Reset(ctx, sender, msg.Reset.Threshold, entries); err != nil {
			return err
		}
		resp.add("total", strconv.Itoa(int(s.Config().Total)))
	case msg.RemoveMember != nil:
		if err := s.RemoveMember(ctx, sender, msg.RemoveMember.Address); err != nil {
			return err
		}
		resp.add("member", msg.RemoveMember.Address)
	case msg.RequestRandom != nil:
		id, err := s.RequestRandom(ctx, sender, msg.RequestRandom.Input)
		if err != nil {
			return err
		}
		resp.add("round", strconv.FormatUint(id, 10))
		resp.Data = map[string]uint64{"round": id}
	case msg.ShareSig != nil:
		sig, err := bls381.G2FromBytes(msg.ShareSig.Sig)
		if err != nil {
			return fmt.Errorf("%w: sig: %v", ErrInvalidMsg, err)
		}
		r, err := s.ShareSig(ctx, sender, msg.ShareSig.Round, sig)
		if err != nil {
			return err
		}
		resp.add("round", strconv.FormatUint(r.ID, 10)).add("member", sender)
		if r.Done() {
			resp.add("randomness", fmt.Sprintf("%x", r.Randomness))
			resp.Data = roundResponse(r)
		}
	}
	return nil
}

func (c *Contract) finish(ctx context.Context, action, sender string, resp *Response, err error) {
	fields := map[string]any{"action": action, "sender": sender}
	if err != nil {
		fields["result"] = "error"
		fields["err"] = err.Error()
		logger.WarnJ("dkg_contract", fields)
		metrics.Inc("contract_calls_total", map[string]string{"action": action, "result": "error"})
		return
	}
	fields["result"] = "ok"
	logger.InfoJ("dkg_contract", fields)
	metrics.Inc("contract_calls_total", map[string]string{"action": action, "result": "ok"})
	c.publish(ctx, bus.Event{Kind: bus.KindExecute, Attrs: resp.attrs(), Body: resp, TraceID: traceID(ctx)})
}

// Query answers read-only messages. Results are one of the *Response types.
func (c *Contract) Query(_ context.Context, msg QueryMsg) (any, error) {
	kind, err := msg.kind()
	if err != nil {
		return nil, err
	}
	var out any
	err = c.store.View(func(tx state.Tx) error {
		st, err := load(tx)
		if err != nil {
			return err
		}
		s, err := session.Restore(st)
		if err != nil {
			return err
		}
		out, err = query(s, kind, msg)
		return err
	})
	return out, err
}

func query(s *session.Session, kind string, msg QueryMsg) (any, error) {
	switch kind {
	case "get_member":
		m, err := s.Member(msg.GetMember.Address)
		if err != nil {
			return nil, err
		}
		return memberResponse(m), nil
	case "get_members":
		q := msg.GetMembers
		order := registry.Ascending
		switch q.Order {
		case "", "asc", "ascending":
		case "desc", "descending":
			order = registry.Descending
		default:
			return nil, fmt.Errorf("%w: order %q", ErrInvalidMsg, q.Order)
		}
		limit := q.Limit
		if limit <= 0 {
			limit = defaultPageLimit
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
		page := s.Registry().Page
		if q.IncludeDeleted {
			page = s.Registry().PageAll
		}
		resp := MembersResponse{Members: []MemberResponse{}}
		for _, m := range page(limit, q.Offset, order) {
			resp.Members = append(resp.Members, memberResponse(m))
		}
		return resp, nil
	case "get_config_info":
		cfg := s.Config()
		resp := ConfigResponse{
			Total:             cfg.Total,
			Dealer:            cfg.Dealer,
			Threshold:         cfg.Threshold,
			SharedDealerCount: cfg.SharedDealerCount,
			SharedRowCount:    cfg.SharedRowCount,
			Status:            cfg.Status,
			Creator:           cfg.Creator,
			Fee:               cfg.Fee,
			Qualified:         cfg.Qualified,
			Disqualified:      cfg.Disqualified,
		}
		if cfg.GroupPubKey != nil {
			resp.GroupPubKey = cfg.GroupPubKey.Bytes()
		}
		return resp, nil
	case "get_round":
		r, err := s.Round(msg.GetRound.Round)
		if err != nil {
			return nil, err
		}
		return roundResponse(r), nil
	default:
		r, err := s.LatestRound()
		if err != nil {
			return nil, err
		}
		return roundResponse(r), nil
	}
}

func memberResponse(m *registry.Member) MemberResponse {
	out := MemberResponse{Index: m.Index, Address: m.Address, PubKey: m.PubKey.Bytes(), Deleted: m.Deleted}
	if m.DealerShare != nil {
		commits, rows := m.DealerShare.Wire()
		out.DealerShare = &DealerShareMsg{Commits: commits, Rows: rows}
	}
	if m.RowShare != nil {
		out.RowShare = &RowShareMsg{PKShare: m.RowShare.PKShare.Bytes(), Accepted: m.RowShare.Accepted}
	}
	return out
}

func roundResponse(r *session.Round) RoundResponse {
	out := RoundResponse{
		ID:          r.ID,
		Requester:   r.Requester,
		Input:       r.Input,
		Signers:     r.Signers(),
		Randomness:  r.Randomness,
		RequestedAt: r.RequestedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Signature != nil {
		out.Signature = r.Signature.Bytes()
	}
	return out
}

type traceKey struct{}

// WithTraceID tags ctx so events published for the call carry id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
