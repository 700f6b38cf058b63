// Package follows stores the follow graph, one edge set per follower.
//
// Sub-databases:
//
//	follows    follower -> followee (duplicate-sorted)
//	edges      follower|followee -> stamp the edge was added
//	refreshed  follower -> stamp of the last Set
package follows

import (
	"errors"
	"fmt"
	"os"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
	"github.com/Hubmakerlabs/localstr/pkg/keys/pubkey"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/exp/slices"
)

var log, chk = slog.New(os.Stderr)

type Store struct {
	cfg       store.Config
	st        *store.Store
	clock     stamp.Clock
	follows   store.DBI
	edges     store.DBI
	refreshed store.DBI
}

// New creates the engine. A nil clock uses the system clock.
func New(cfg store.Config, clock stamp.Clock) *Store {
	if clock == nil {
		clock = stamp.System
	}
	return &Store{cfg: cfg, clock: clock}
}

func (s *Store) Config() store.Config { return s.cfg }

func (s *Store) Bind(st *store.Store) (err error) {
	if s.follows, err = st.OpenDB("follows",
		store.Create|store.DupSort); chk.E(err) {
		return
	}
	if s.edges, err = st.OpenDB("edges", store.Create); chk.E(err) {
		return
	}
	if s.refreshed, err = st.OpenDB("refreshed", store.Create); chk.E(err) {
		return
	}
	s.st = st
	return
}

func (s *Store) DB() *store.Store { return s.st }

// decodeKeys converts hex keys, dropping duplicates, in byte order.
func decodeKeys(hexKeys []string) (out []*pubkey.T, err error) {
	for _, h := range hexKeys {
		var k *pubkey.T
		if k, err = pubkey.FromHex(h); err != nil {
			return nil, fmt.Errorf("followee %q: %w", h, err)
		}
		out = append(out, k)
	}
	slices.SortFunc(out, pubkey.Compare)
	out = slices.CompactFunc(out, func(a, b *pubkey.T) bool {
		return a.Val == b.Val
	})
	return
}

// Set makes the stored followees of follower equal to followees. Edges that
// remain are not rewritten and keep their stamps.
func (s *Store) Set(follower string, followees []string,
	parent *store.Txn) (err error) {

	var fk *pubkey.T
	if fk, err = pubkey.FromHex(follower); err != nil {
		return
	}
	var want []*pubkey.T
	if want, err = decodeKeys(followees); err != nil {
		return
	}
	now := s.clock.Now()
	return s.st.Run(parent, func(tx *store.Txn) (err error) {
		pending := make(map[[pubkey.Len]byte]*pubkey.T, len(want))
		for _, k := range want {
			pending[k.Val] = k
		}
		var c *store.Cursor
		if c, err = tx.Cursor(s.follows); err != nil {
			return
		}
		defer c.Close()
		var removed, kept int
		var gone []*pubkey.T
		var v []byte
		for _, v, err = c.FirstDup(fk.Val[:]); err == nil; _, v, err = c.NextDup() {
			cur := pubkey.New(v)
			if cur == nil {
				log.W.F("dropping malformed followee %x of %s", v, follower)
			} else if _, ok := pending[cur.Val]; ok {
				delete(pending, cur.Val)
				kept++
				continue
			}
			if err = c.DelCurrent(); err != nil {
				return
			}
			if cur != nil {
				gone = append(gone, cur)
			}
			removed++
		}
		if !errors.Is(err, store.ErrNotFound) {
			return
		}
		for _, k := range gone {
			if err = tx.Del(s.edges, keys.Write(fk, k), nil); err != nil &&
				!errors.Is(err, store.ErrNotFound) {
				return
			}
		}
		for _, k := range want {
			if _, ok := pending[k.Val]; !ok {
				continue
			}
			if err = tx.Put(s.follows, fk.Val[:], k.Val[:], 0); err != nil {
				return
			}
			if err = tx.Put(s.edges, keys.Write(fk, k), now.Bytes(),
				0); err != nil {
				return
			}
		}
		log.T.F("follows of %s: %d kept, %d added, %d removed", follower, kept,
			len(pending), removed)
		return tx.Put(s.refreshed, fk.Val[:], now.Bytes(), 0)
	})
}

func (s *Store) follows1(tx *store.Txn, fk *pubkey.T) (out []string,
	err error) {

	var c *store.Cursor
	if c, err = tx.Cursor(s.follows); err != nil {
		return
	}
	defer c.Close()
	var v []byte
	for _, v, err = c.FirstDup(fk.Val[:]); err == nil; _, v, err = c.NextDup() {
		if k := pubkey.New(v); k != nil {
			out = append(out, k.Hex())
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	return
}

// GetFollows returns the followees of pk in key order.
func (s *Store) GetFollows(pk string) (out []string, err error) {
	var fk *pubkey.T
	if fk, err = pubkey.FromHex(pk); err != nil {
		return
	}
	err = s.st.View(func(tx *store.Txn) (err error) {
		out, err = s.follows1(tx, fk)
		return
	})
	return
}

// GetFriends returns the followees of each of pks from one snapshot.
// Followers with no stored follows map to an empty list.
func (s *Store) GetFriends(pks []string) (out map[string][]string,
	err error) {

	out = make(map[string][]string, len(pks))
	err = s.st.View(func(tx *store.Txn) (err error) {
		for _, pk := range pks {
			var fk *pubkey.T
			if fk, err = pubkey.FromHex(pk); err != nil {
				return
			}
			if out[pk], err = s.follows1(tx, fk); err != nil {
				return
			}
		}
		return
	})
	return
}

// IsFriend reports whether follower follows followee.
func (s *Store) IsFriend(follower, followee string) (ok bool, err error) {
	var fk, ek *pubkey.T
	if fk, err = pubkey.FromHex(follower); err != nil {
		return
	}
	if ek, err = pubkey.FromHex(followee); err != nil {
		return
	}
	err = s.st.View(func(tx *store.Txn) error {
		return tx.GetBoth(s.follows, fk.Val[:], ek.Val[:])
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	}
	return
}

func (s *Store) getStamp(db store.DBI, k []byte) (t stamp.T, ok bool,
	err error) {

	err = s.st.View(func(tx *store.Txn) (err error) {
		var v []byte
		if v, err = tx.Get(db, k); err != nil {
			return
		}
		if t, ok = stamp.FromBytes(v); !ok {
			log.W.F("malformed stamp %x", v)
		}
		return
	})
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	return
}

// LastRefresh is when the follows of pk were last Set.
func (s *Store) LastRefresh(pk string) (t stamp.T, ok bool, err error) {
	var fk *pubkey.T
	if fk, err = pubkey.FromHex(pk); err != nil {
		return
	}
	return s.getStamp(s.refreshed, fk.Val[:])
}

// EdgeStamp is when follower started following followee.
func (s *Store) EdgeStamp(follower, followee string) (t stamp.T, ok bool,
	err error) {

	var fk, ek *pubkey.T
	if fk, err = pubkey.FromHex(follower); err != nil {
		return
	}
	if ek, err = pubkey.FromHex(followee); err != nil {
		return
	}
	return s.getStamp(s.edges, keys.Write(fk, ek))
}

// ParseContacts returns the distinct valid "p" tag keys of a kind 3 event.
func ParseContacts(ev *nostr.Event) (out []string, err error) {
	if ev.Kind != nostr.KindContactList {
		return nil, fmt.Errorf("event %s is kind %d, not %d", ev.ID, ev.Kind,
			nostr.KindContactList)
	}
	seen := make(map[string]struct{})
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		if _, err := pubkey.FromHex(tag[1]); err != nil {
			log.D.F("skipping contact %q in %s: %v", tag[1], ev.ID, err)
			continue
		}
		if _, dup := seen[tag[1]]; dup {
			continue
		}
		seen[tag[1]] = struct{}{}
		out = append(out, tag[1])
	}
	return
}
