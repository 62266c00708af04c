package session

import (
	"fmt"
	"sort"

	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/registry"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
)

// State is the persisted form of a Session.
type State struct {
	Config    Config         `cbor:"config"`
	Members   []MemberRecord `cbor:"members"`
	Rounds    []*Round       `cbor:"rounds,omitempty"`
	LastRound uint64         `cbor:"last_round"`
}

type MemberRecord struct {
	Index    uint16          `cbor:"index"`
	Address  string          `cbor:"address"`
	PubKey   bls381.G1Point  `cbor:"pubkey"`
	Deleted  bool            `cbor:"deleted,omitempty"`
	Commits  [][]byte        `cbor:"commits,omitempty"`
	Rows     [][]byte        `cbor:"rows,omitempty"`
	PKShare  *bls381.G1Point `cbor:"pk_share,omitempty"`
	Accepted []uint16        `cbor:"accepted,omitempty"`
}

// Snapshot captures the session for storage.
func (s *Session) Snapshot() State {
	st := State{Config: s.Config(), LastRound: s.lastRound}
	for _, m := range s.reg.Members() {
		rec := MemberRecord{Index: m.Index, Address: m.Address, PubKey: m.PubKey, Deleted: m.Deleted}
		if m.DealerShare != nil {
			rec.Commits, rec.Rows = m.DealerShare.Wire()
		}
		if m.RowShare != nil {
			pk := m.RowShare.PKShare
			rec.PKShare = &pk
			rec.Accepted = append([]uint16(nil), m.RowShare.Accepted...)
		}
		st.Members = append(st.Members, rec)
	}
	for _, r := range s.rounds {
		st.Rounds = append(st.Rounds, r)
	}
	sort.Slice(st.Rounds, func(i, j int) bool { return st.Rounds[i].ID < st.Rounds[j].ID })
	return st
}

// Restore rebuilds a session from a snapshot.
func Restore(st State, opts ...Option) (*Session, error) {
	members := make([]*registry.Member, len(st.Members))
	n, t := len(st.Members), int(st.Config.Threshold)
	for i, rec := range st.Members {
		m := &registry.Member{Index: rec.Index, Address: rec.Address, PubKey: rec.PubKey, Deleted: rec.Deleted}
		if len(rec.Commits) > 0 {
			d, err := vss.DecodeDealerShare(rec.Commits, rec.Rows, t, n)
			if err != nil {
				return nil, fmt.Errorf("restore member %d: %w", rec.Index, err)
			}
			m.DealerShare = d
		}
		if rec.PKShare != nil {
			m.RowShare = &vss.RowShare{PKShare: *rec.PKShare, Accepted: rec.Accepted}
		}
		members[i] = m
	}
	reg, err := registry.Restore(members)
	if err != nil {
		return nil, err
	}
	switch st.Config.Status {
	case WaitForDealer, WaitForRow, WaitForRequest:
	default:
		return nil, fmt.Errorf("restore: unknown status %q", st.Config.Status)
	}
	s := &Session{cfg: st.Config, reg: reg, rounds: make(map[uint64]*Round, len(st.Rounds)), lastRound: st.LastRound}
	for _, r := range st.Rounds {
		if r.Sigs == nil {
			r.Sigs = make(map[uint16]bls381.G2Point)
		}
		s.rounds[r.ID] = r
	}
	s.init(opts)
	return s, nil
}
