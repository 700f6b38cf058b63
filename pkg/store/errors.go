package store

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is a read miss. Callers usually substitute a default.
	ErrNotFound = errors.New("not found")
	// ErrKeyExists is returned by a no-overwrite put on an existing entry.
	ErrKeyExists = errors.New("key exists")
	// ErrStoreFull means the byte limit of the store would be exceeded.
	ErrStoreFull = errors.New("store full")
	// ErrTxnTooBig means a single transaction holds more writes than badger
	// can commit at once. Growing the store does not help, split the work.
	ErrTxnTooBig = errors.New("transaction too big")
	// ErrConflict is a logical precondition failure raised by engines, such
	// as a stale as-of stamp or an event id stored under another kind.
	ErrConflict = errors.New("conflict")
	// ErrBadTxn is returned when using a finished transaction, or a parent
	// while its child is active.
	ErrBadTxn = errors.New("transaction not usable")
	// ErrReadOnly is returned by writes in a read transaction.
	ErrReadOnly = errors.New("read only transaction")
	// ErrIncompatible is returned when a sub-database is reopened with
	// different flags than it was created with.
	ErrIncompatible = errors.New("incompatible sub-database flags")
	// ErrDBsFull means no more sub-databases can be created.
	ErrDBsFull = errors.New("sub-database limit reached")
	// ErrClosed is returned after the store is closed.
	ErrClosed = errors.New("store closed")
)

// mapErr converts badger errors into this package's sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrTxnTooBig):
		return ErrTxnTooBig
	case errors.Is(err, badger.ErrDBClosed):
		return ErrClosed
	case errors.Is(err, badger.ErrDiscardedTxn):
		return ErrBadTxn
	}
	return err
}
