package state

import (
	"bytes"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucket = []byte("dkg")

// BoltStore persists the contract state in a single bbolt bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) View(fn func(Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error { return fn(boltTx{b: tx.Bucket(bucket)}) })
}

func (s *BoltStore) Update(fn func(Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error { return fn(boltTx{b: tx.Bucket(bucket)}) })
}

func (s *BoltStore) Close() error { return s.db.Close() }

type boltTx struct{ b *bolt.Bucket }

// Get copies the value; bbolt memory is only valid inside the transaction.
func (t boltTx) Get(key []byte) ([]byte, error) {
	v := t.b.Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t boltTx) Put(key, value []byte) error {
	if !t.b.Writable() {
		return ErrReadOnly
	}
	return t.b.Put(key, value)
}

func (t boltTx) Delete(key []byte) error {
	if !t.b.Writable() {
		return ErrReadOnly
	}
	return t.b.Delete(key)
}

func (t boltTx) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	c := t.b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(append([]byte(nil), k...), append([]byte(nil), v...)); err != nil {
			return err
		}
	}
	return nil
}
