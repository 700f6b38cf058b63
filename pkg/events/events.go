// Package events stores signed events under a date ordered key with a
// bidirectional kind index.
//
// Sub-databases:
//
//	events      stamp|id -> binary event
//	eventKinds  kind -> id (duplicate-sorted)
//	eventIndex  id -> kind|stamp
package events

import (
	"errors"
	"fmt"
	"os"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
	"github.com/Hubmakerlabs/localstr/pkg/keys/composite"
	"github.com/Hubmakerlabs/localstr/pkg/keys/createdat"
	"github.com/Hubmakerlabs/localstr/pkg/keys/id"
	"github.com/Hubmakerlabs/localstr/pkg/keys/kinder"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	"github.com/nbd-wtf/go-nostr"
)

var log, chk = slog.New(os.Stderr)

func DefaultConfig() store.Config {
	return store.Config{
		Name:    "events",
		MapSize: 512 * units.MiB,
		GrowBy:  256 * units.MiB,
		MaxDBs:  8,
	}
}

type Store struct {
	cfg    store.Config
	st     *store.Store
	events store.DBI
	kinds  store.DBI
	index  store.DBI
}

func New(cfg store.Config) *Store { return &Store{cfg: cfg} }

func (s *Store) Config() store.Config { return s.cfg }

// Bind opens the sub-databases in st.
func (s *Store) Bind(st *store.Store) (err error) {
	if s.events, err = st.OpenDB("events", store.Create); chk.E(err) {
		return
	}
	if s.kinds, err = st.OpenDB("eventKinds",
		store.Create|store.DupSort); chk.E(err) {
		return
	}
	if s.index, err = st.OpenDB("eventIndex", store.Create); chk.E(err) {
		return
	}
	s.st = st
	return
}

// DB is the underlying store, for composing transactions.
func (s *Store) DB() *store.Store { return s.st }

type indexEntry struct {
	kind  *kinder.T
	stamp *createdat.T
}

func (s *Store) lookup(tx *store.Txn, eid *id.T) (e *indexEntry, err error) {
	var v []byte
	if v, err = tx.Get(s.index, eid.Val[:]); err != nil {
		return
	}
	e = &indexEntry{kind: &kinder.T{}, stamp: &createdat.T{}}
	if !keys.Decode(v, e.kind, e.stamp) {
		log.W.F("malformed index entry for event %s", eid.Hex())
		return nil, store.ErrNotFound
	}
	return
}

// WriteEvents stores evs in one transaction, a child of parent when given.
// An id already stored under a different kind fails the whole write with
// store.ErrConflict. Storing an event again is harmless.
func (s *Store) WriteEvents(evs []*nostr.Event, parent *store.Txn) error {
	return s.st.Run(parent, func(tx *store.Txn) (err error) {
		for _, ev := range evs {
			if err = s.write(tx, ev); err != nil {
				return
			}
		}
		return
	})
}

func (s *Store) write(tx *store.Txn, ev *nostr.Event) (err error) {
	if !kinder.Valid(ev.Kind) {
		return fmt.Errorf("event %s: kind %d out of range", ev.ID, ev.Kind)
	}
	var body []byte
	if body, err = Marshal(ev); err != nil {
		return
	}
	var eid *id.T
	if eid, err = id.FromHex(ev.ID); err != nil {
		return
	}
	k := kinder.New(ev.Kind)
	ts := stamp.FromUnix(int64(ev.CreatedAt))
	var existing *indexEntry
	existing, err = s.lookup(tx, eid)
	switch {
	case err == nil:
		if existing.kind.Val != k.Val {
			return fmt.Errorf("%w: event %s stored as kind %d, not %d",
				store.ErrConflict, ev.ID, existing.kind.Val, k.Val)
		}
	case errors.Is(err, store.ErrNotFound):
		if err = tx.Put(s.kinds, keys.Write(k), eid.Val[:], 0); err != nil {
			return
		}
		if err = tx.Put(s.index, eid.Val[:],
			keys.Write(k, createdat.New(ts)), 0); err != nil {
			return
		}
	default:
		return
	}
	return tx.Put(s.events, keys.Write(composite.New(ts, eid)), body, 0)
}

// scan walks the body store newest first, calling fn with each decodable
// event until fn returns false.
func (s *Store) scan(tx *store.Txn, fn func(c *composite.T,
	ev *nostr.Event) (more bool, err error)) (err error) {

	var c *store.Cursor
	if c, err = tx.Cursor(s.events); err != nil {
		return
	}
	defer c.Close()
	var k, v []byte
	for k, v, err = c.Last(); err == nil; k, v, err = c.Prev() {
		ck, ok := composite.Decode(k)
		if !ok {
			log.W.F("skipping malformed event key %x", k)
			continue
		}
		var ev *nostr.Event
		if ev, err = Unmarshal(v); err != nil {
			log.W.F("skipping undecodable event %x: %v", ck.ID, err)
			err = nil
			continue
		}
		var more bool
		if more, err = fn(ck, ev); err != nil || !more {
			return
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	return
}

// GetEvents returns up to limit events, newest first. A limit of zero or
// less returns everything.
func (s *Store) GetEvents(limit int) (evs []*nostr.Event, err error) {
	err = s.st.View(func(tx *store.Txn) error {
		return s.scan(tx, func(_ *composite.T, ev *nostr.Event) (bool, error) {
			evs = append(evs, ev)
			return limit <= 0 || len(evs) < limit, nil
		})
	})
	return
}

// GetEventsOfKind returns up to limit events of kind, newest first. It walks
// the whole body store in date order and probes the kind index for each
// event, so its cost follows the total number of events rather than the
// number of the kind.
func (s *Store) GetEventsOfKind(kind, limit int) (evs []*nostr.Event,
	err error) {

	if !kinder.Valid(kind) {
		return
	}
	kk := keys.Write(kinder.New(kind))
	err = s.st.View(func(tx *store.Txn) error {
		return s.scan(tx, func(c *composite.T, ev *nostr.Event) (bool, error) {
			err := tx.GetBoth(s.kinds, kk, c.ID[:])
			switch {
			case errors.Is(err, store.ErrNotFound):
				return true, nil
			case err != nil:
				return false, err
			}
			evs = append(evs, ev)
			return limit <= 0 || len(evs) < limit, nil
		})
	})
	return
}

// GetEvent returns the event with the hex id, or nil if it is not stored.
func (s *Store) GetEvent(eventID string) (ev *nostr.Event, err error) {
	var eid *id.T
	if eid, err = id.FromHex(eventID); err != nil {
		return
	}
	err = s.st.View(func(tx *store.Txn) (err error) {
		var e *indexEntry
		if e, err = s.lookup(tx, eid); err != nil {
			return
		}
		var v []byte
		if v, err = tx.Get(s.events,
			keys.Write(composite.New(e.stamp.Val, eid))); err != nil {
			return
		}
		if ev, err = Unmarshal(v); err != nil {
			log.W.F("undecodable event %s: %v", eventID, err)
			return store.ErrNotFound
		}
		return
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return
}

// DeleteEvents removes events and their index entries. Ids that are not
// stored are skipped.
func (s *Store) DeleteEvents(ids []string, parent *store.Txn) error {
	return s.st.Run(parent, func(tx *store.Txn) (err error) {
		for _, h := range ids {
			var eid *id.T
			if eid, err = id.FromHex(h); err != nil {
				return
			}
			var e *indexEntry
			if e, err = s.lookup(tx, eid); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					err = nil
					continue
				}
				return
			}
			for _, del := range []func() error{
				func() error { return tx.Del(s.kinds, keys.Write(e.kind), eid.Val[:]) },
				func() error {
					return tx.Del(s.events,
						keys.Write(composite.New(e.stamp.Val, eid)), nil)
				},
				func() error { return tx.Del(s.index, eid.Val[:], nil) },
			} {
				if err = del(); err != nil && !errors.Is(err, store.ErrNotFound) {
					return
				}
				err = nil
			}
		}
		return
	})
}

// Count is the number of stored events.
func (s *Store) Count() (n int, err error) {
	err = s.st.View(func(tx *store.Txn) (err error) {
		n, err = tx.Entries(s.index)
		return
	})
	return
}

// Clear removes every event. It runs outside any transaction so a store of
// any size can be cleared.
func (s *Store) Clear() error {
	return s.st.Drop(s.events, s.kinds, s.index)
}
