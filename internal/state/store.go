// Package state is the key/value storage the contract runs on. Writes happen
// inside Update transactions and are discarded when the callback fails.
package state

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrReadOnly = errors.New("read-only transaction")
)

// Tx is a view of the store inside one transaction.
type Tx interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// ForEach visits keys with prefix in ascending byte order.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
}

// Store runs read-only and read-write transactions.
type Store interface {
	View(fn func(Tx) error) error
	Update(fn func(Tx) error) error
	Close() error
}
