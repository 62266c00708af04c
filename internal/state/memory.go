package state

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps everything in a map. Update stages writes and applies
// them only when the callback succeeds.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{data: make(map[string][]byte)} }

func (s *MemoryStore) View(fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{base: s.data, readOnly: true})
}

func (s *MemoryStore) Update(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{base: s.data, staged: make(map[string][]byte), deleted: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.deleted {
		delete(s.data, k)
	}
	for k, v := range tx.staged {
		s.data[k] = v
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	base     map[string][]byte
	staged   map[string][]byte
	deleted  map[string]struct{}
	readOnly bool
}

func (t *memTx) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := t.staged[k]; ok {
		return append([]byte(nil), v...), nil
	}
	if _, ok := t.deleted[k]; ok {
		return nil, ErrNotFound
	}
	v, ok := t.base[k]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memTx) Put(key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	k := string(key)
	delete(t.deleted, k)
	t.staged[k] = append([]byte(nil), value...)
	return nil
}

func (t *memTx) Delete(key []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	k := string(key)
	delete(t.staged, k)
	t.deleted[k] = struct{}{}
	return nil
}

func (t *memTx) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	keys := make([]string, 0)
	seen := make(map[string]struct{})
	for k := range t.base {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	for k := range t.staged {
		if _, ok := seen[k]; !ok && strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := t.Get([]byte(k))
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}
