package contract

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/zmlAEQ/Aequa-dkg/internal/state"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/session"
)

// Layout:
//
//	config          -> configRecord
//	member/<be16>   -> session.MemberRecord
//	round/<be64>    -> session.Round
var (
	keyConfig    = []byte("config")
	prefixMember = []byte("member/")
	prefixRound  = []byte("round/")
)

type configRecord struct {
	Config    session.Config `cbor:"config"`
	LastRound uint64         `cbor:"last_round"`
}

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

func memberKey(i uint16) []byte {
	return binary.BigEndian.AppendUint16(append([]byte(nil), prefixMember...), i)
}

func roundKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixRound...), id)
}

// load reads the session state. It returns ErrNotInitialized when nothing was
// stored yet.
func load(tx state.Tx) (session.State, error) {
	var st session.State
	raw, err := tx.Get(keyConfig)
	if errors.Is(err, state.ErrNotFound) {
		return st, ErrNotInitialized
	}
	if err != nil {
		return st, err
	}
	var cr configRecord
	if err := cbor.Unmarshal(raw, &cr); err != nil {
		return st, fmt.Errorf("decode config: %w", err)
	}
	st.Config, st.LastRound = cr.Config, cr.LastRound
	if err := tx.ForEach(prefixMember, func(k, v []byte) error {
		var rec session.MemberRecord
		if err := cbor.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode %x: %w", k, err)
		}
		st.Members = append(st.Members, rec)
		return nil
	}); err != nil {
		return st, err
	}
	err = tx.ForEach(prefixRound, func(k, v []byte) error {
		r := new(session.Round)
		if err := cbor.Unmarshal(v, r); err != nil {
			return fmt.Errorf("decode %x: %w", k, err)
		}
		st.Rounds = append(st.Rounds, r)
		return nil
	})
	return st, err
}

// save writes st and removes member and round records it no longer holds.
func save(tx state.Tx, st session.State) error {
	raw, err := encMode.Marshal(configRecord{Config: st.Config, LastRound: st.LastRound})
	if err != nil {
		return err
	}
	if err := tx.Put(keyConfig, raw); err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(st.Members)+len(st.Rounds))
	for _, rec := range st.Members {
		b, err := encMode.Marshal(rec)
		if err != nil {
			return err
		}
		k := memberKey(rec.Index)
		keep[string(k)] = struct{}{}
		if err := tx.Put(k, b); err != nil {
			return err
		}
	}
	for _, r := range st.Rounds {
		b, err := encMode.Marshal(r)
		if err != nil {
			return err
		}
		k := roundKey(r.ID)
		keep[string(k)] = struct{}{}
		if err := tx.Put(k, b); err != nil {
			return err
		}
	}
	var stale [][]byte
	collect := func(k, _ []byte) error {
		if _, ok := keep[string(k)]; !ok {
			stale = append(stale, k)
		}
		return nil
	}
	if err := tx.ForEach(prefixMember, collect); err != nil {
		return err
	}
	if err := tx.ForEach(prefixRound, collect); err != nil {
		return err
	}
	for _, k := range stale {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
