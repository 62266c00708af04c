// Package registry keeps the committee: an address-sorted, deduplicated member
// list whose positions are the members' stable indices for the epoch.
package registry

import (
	"errors"
	"fmt"
	"sort"

	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/vss"
)

// MaxMembers bounds the committee so indices fit the wire format and the
// pairwise commitment check stays tractable.
const MaxMembers = 1024

var (
	ErrNoMember      = errors.New("no member")
	ErrInvalidMember = errors.New("invalid member")
)

// Entry is a member as submitted in Init or Reset.
type Entry struct {
	Address string
	PubKey  bls381.G1Point
}

type Member struct {
	Index       uint16
	Address     string
	PubKey      bls381.G1Point
	DealerShare *vss.DealerShare
	RowShare    *vss.RowShare
	Deleted     bool
}

// Order selects the direction of Page.
type Order int

const (
	Ascending Order = iota
	Descending
)

type Registry struct {
	members []*Member
	byAddr  map[string]*Member
}

// New builds a registry from entries. Duplicate addresses keep their first
// occurrence; members are sorted by address and indexed by position.
func New(entries []Entry) (*Registry, error) {
	seen := make(map[string]struct{}, len(entries))
	uniq := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Address == "" {
			return nil, fmt.Errorf("%w: empty address", ErrInvalidMember)
		}
		if e.PubKey.IsInfinity() {
			return nil, fmt.Errorf("%w: %s: identity pubkey", ErrInvalidMember, e.Address)
		}
		if _, err := e.PubKey.Affine(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMember, e.Address, err)
		}
		if _, ok := seen[e.Address]; ok {
			continue
		}
		seen[e.Address] = struct{}{}
		uniq = append(uniq, e)
	}
	if len(uniq) > MaxMembers {
		return nil, fmt.Errorf("%w: %d members exceeds %d", ErrInvalidMember, len(uniq), MaxMembers)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].Address < uniq[j].Address })
	r := &Registry{members: make([]*Member, len(uniq)), byAddr: make(map[string]*Member, len(uniq))}
	for i, e := range uniq {
		m := &Member{Index: uint16(i), Address: e.Address, PubKey: e.PubKey}
		r.members[i] = m
		r.byAddr[e.Address] = m
	}
	return r, nil
}

// Restore rebuilds a registry from stored members without re-sorting.
func Restore(members []*Member) (*Registry, error) {
	r := &Registry{members: members, byAddr: make(map[string]*Member, len(members))}
	for i, m := range members {
		if int(m.Index) != i {
			return nil, fmt.Errorf("%w: %s has index %d at position %d", ErrInvalidMember, m.Address, m.Index, i)
		}
		r.byAddr[m.Address] = m
	}
	return r, nil
}

// Lookup returns the live member at address.
func (r *Registry) Lookup(address string) (*Member, error) {
	m, ok := r.byAddr[address]
	if !ok || m.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrNoMember, address)
	}
	return m, nil
}

// ByIndex returns the member at index, deleted or not.
func (r *Registry) ByIndex(i uint16) (*Member, error) {
	if int(i) >= len(r.members) {
		return nil, fmt.Errorf("%w: index %d", ErrNoMember, i)
	}
	return r.members[i], nil
}

// SoftRemove marks the member deleted. Indices of the others are unchanged.
func (r *Registry) SoftRemove(address string) error {
	m, err := r.Lookup(address)
	if err != nil {
		return err
	}
	m.Deleted = true
	return nil
}

// Size counts every slot, deleted members included. It is the n used for
// the shape of dealer shares.
func (r *Registry) Size() int { return len(r.members) }

// Live counts members that are not deleted.
func (r *Registry) Live() int {
	n := 0
	for _, m := range r.members {
		if !m.Deleted {
			n++
		}
	}
	return n
}

// Members returns every member in index order.
func (r *Registry) Members() []*Member { return r.members }

// PubKeys returns the member public keys in index order.
func (r *Registry) PubKeys() []bls381.G1Point {
	out := make([]bls381.G1Point, len(r.members))
	for i, m := range r.members {
		out[i] = m.PubKey
	}
	return out
}

// ClearShares drops every stored dealer and row share.
func (r *Registry) ClearShares() {
	for _, m := range r.members {
		m.DealerShare = nil
		m.RowShare = nil
	}
}

// Page lists live members in index order (or reverse), skipping offset and
// returning at most limit entries. limit <= 0 means no limit.
func (r *Registry) Page(limit, offset int, order Order) []*Member {
	live := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		if !m.Deleted {
			live = append(live, m)
		}
	}
	return page(live, limit, offset, order)
}

// PageAll is Page over every slot, soft-removed members included.
func (r *Registry) PageAll(limit, offset int, order Order) []*Member {
	return page(append([]*Member(nil), r.members...), limit, offset, order)
}

func page(live []*Member, limit, offset int, order Order) []*Member {
	if order == Descending {
		for i, j := 0, len(live)-1; i < j; i, j = i+1, j-1 {
			live[i], live[j] = live[j], live[i]
		}
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(live) {
		return nil
	}
	live = live[offset:]
	if limit > 0 && limit < len(live) {
		live = live[:limit]
	}
	return live
}
