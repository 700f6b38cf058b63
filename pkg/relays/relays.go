// Package relays is the relay directory: which relays each author lists and
// which authors list each relay.
//
// Sub-databases:
//
//	urls       urlhash -> normalised relay URL
//	keyRelays  pubkey -> urlhash (duplicate-sorted)
//	owners     urlhash -> pubkey (duplicate-sorted)
//	stamps     pubkey -> as-of stamp of the stored list
package relays

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Hubmakerlabs/localstr/pkg/keys/pubkey"
	"github.com/Hubmakerlabs/localstr/pkg/keys/urlhash"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/exp/slices"
)

var log, chk = slog.New(os.Stderr)

func DefaultConfig() store.Config {
	return store.Config{
		Name:    "relays",
		MapSize: 64 * units.MiB,
		GrowBy:  32 * units.MiB,
		MaxDBs:  8,
	}
}

// Delta is the change in the set of relays known to the directory caused by
// one SetRelays. It is only meaningful once the outermost transaction the
// call ran in has committed.
type Delta struct {
	Added   []string
	Removed []string
}

func (d Delta) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Merge appends o, cancelling a removal followed by an addition of the same
// relay and the reverse.
func (d *Delta) Merge(o Delta) {
	for _, u := range o.Added {
		if i := slices.Index(d.Removed, u); i >= 0 {
			d.Removed = slices.Delete(d.Removed, i, i+1)
			continue
		}
		d.Added = append(d.Added, u)
	}
	for _, u := range o.Removed {
		if i := slices.Index(d.Added, u); i >= 0 {
			d.Added = slices.Delete(d.Added, i, i+1)
			continue
		}
		d.Removed = append(d.Removed, u)
	}
}

type Store struct {
	cfg       store.Config
	st        *store.Store
	urls      store.DBI
	keyRelays store.DBI
	owners    store.DBI
	stamps    store.DBI
}

func New(cfg store.Config) *Store { return &Store{cfg: cfg} }

func (s *Store) Config() store.Config { return s.cfg }

func (s *Store) Bind(st *store.Store) (err error) {
	if s.urls, err = st.OpenDB("urls", store.Create); chk.E(err) {
		return
	}
	if s.keyRelays, err = st.OpenDB("keyRelays",
		store.Create|store.DupSort); chk.E(err) {
		return
	}
	if s.owners, err = st.OpenDB("owners",
		store.Create|store.DupSort); chk.E(err) {
		return
	}
	if s.stamps, err = st.OpenDB("stamps", store.Create); chk.E(err) {
		return
	}
	s.st = st
	return
}

func (s *Store) DB() *store.Store { return s.st }

type relay struct {
	url  string
	hash *urlhash.T
}

// normalise drops invalid URLs and duplicates.
func normalise(urls []string) (out []relay) {
	seen := make(map[[urlhash.Len]byte]bool)
	for _, u := range urls {
		n := nostr.NormalizeURL(u)
		if n == "" {
			log.D.F("skipping invalid relay url %q", u)
			continue
		}
		h := urlhash.New(n)
		if seen[h.Val] {
			continue
		}
		seen[h.Val] = true
		out = append(out, relay{n, h})
	}
	return
}

// SetRelays replaces the relay list of key if asOf is newer than the stored
// list. An equal asOf is ignored, an older one fails with
// store.ErrConflict. A relay leaves the directory when its last owner drops
// it.
func (s *Store) SetRelays(urls []string, key string, asOf stamp.T,
	parent *store.Txn) (delta Delta, err error) {

	var pk *pubkey.T
	if pk, err = pubkey.FromHex(key); err != nil {
		return
	}
	want := normalise(urls)
	err = s.st.Run(parent, func(tx *store.Txn) (err error) {
		delta = Delta{}
		var v []byte
		v, err = tx.Get(s.stamps, pk.Val[:])
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return
		default:
			stored, ok := stamp.FromBytes(v)
			if !ok {
				log.W.F("overwriting malformed relay list stamp of %s", key)
				break
			}
			if asOf == stored {
				return errUnchanged
			}
			if asOf < stored {
				return fmt.Errorf("%w: relay list of %s as of %v is older "+
					"than %v", store.ErrConflict, key, asOf, stored)
			}
		}
		pending := make(map[[urlhash.Len]byte]relay, len(want))
		for _, r := range want {
			pending[r.hash.Val] = r
		}
		var c *store.Cursor
		if c, err = tx.Cursor(s.keyRelays); err != nil {
			return
		}
		defer c.Close()
		var dropped []*urlhash.T
		for _, v, err = c.FirstDup(pk.Val[:]); err == nil; _, v, err = c.NextDup() {
			h := urlhash.FromBytes(v)
			if h != nil {
				if _, ok := pending[h.Val]; ok {
					delete(pending, h.Val)
					continue
				}
			}
			if err = c.DelCurrent(); err != nil {
				return
			}
			if h != nil {
				dropped = append(dropped, h)
			}
		}
		if !errors.Is(err, store.ErrNotFound) {
			return
		}
		for _, h := range dropped {
			var gone string
			if gone, err = s.disown(tx, h, pk); err != nil {
				return
			}
			if gone != "" {
				delta.Removed = append(delta.Removed, gone)
			}
		}
		for _, r := range want {
			if _, ok := pending[r.hash.Val]; !ok {
				continue
			}
			var added bool
			if added, err = s.own(tx, r, pk); err != nil {
				return
			}
			if added {
				delta.Added = append(delta.Added, r.url)
			}
		}
		return tx.Put(s.stamps, pk.Val[:], asOf.Bytes(), 0)
	})
	if errors.Is(err, errUnchanged) {
		return Delta{}, nil
	}
	if err != nil {
		delta = Delta{}
	}
	return
}

var errUnchanged = errors.New("unchanged")

// own records pk as an owner of r, reporting whether r is new to the
// directory.
func (s *Store) own(tx *store.Txn, r relay, pk *pubkey.T) (added bool,
	err error) {

	if err = tx.Put(s.keyRelays, pk.Val[:], r.hash.Val[:], 0); err != nil {
		return
	}
	if err = tx.Put(s.owners, r.hash.Val[:], pk.Val[:], 0); err != nil {
		return
	}
	err = tx.Put(s.urls, r.hash.Val[:], []byte(r.url), store.NoOverwrite)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrKeyExists):
		return false, nil
	}
	return
}

// disown removes pk as an owner of h, deleting the relay when nobody owns it
// any more and returning its URL in that case.
func (s *Store) disown(tx *store.Txn, h *urlhash.T, pk *pubkey.T) (gone string,
	err error) {

	if err = tx.Del(s.owners, h.Val[:], pk.Val[:]); err != nil &&
		!errors.Is(err, store.ErrNotFound) {
		return
	}
	var n int
	if n, err = tx.CountDups(s.owners, h.Val[:]); err != nil || n > 0 {
		return
	}
	var u []byte
	if u, err = tx.Get(s.urls, h.Val[:]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		}
		return
	}
	if err = tx.Del(s.urls, h.Val[:], nil); err != nil {
		return
	}
	return string(u), nil
}

func (s *Store) url(tx *store.Txn, h []byte) (u string, err error) {
	var v []byte
	if v, err = tx.Get(s.urls, h); err != nil {
		return
	}
	return string(v), nil
}

// GetRelays returns the relay URLs listed by key.
func (s *Store) GetRelays(key string) (out []string, err error) {
	var pk *pubkey.T
	if pk, err = pubkey.FromHex(key); err != nil {
		return
	}
	err = s.st.View(func(tx *store.Txn) (err error) {
		var c *store.Cursor
		if c, err = tx.Cursor(s.keyRelays); err != nil {
			return
		}
		var v []byte
		for _, v, err = c.FirstDup(pk.Val[:]); err == nil; _, v, err = c.NextDup() {
			u, err := s.url(tx, v)
			if err != nil {
				log.W.F("relay %x of %s has no url: %v", v, key, err)
				continue
			}
			out = append(out, u)
		}
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		}
		return
	})
	slices.Sort(out)
	return
}

// Owners returns the keys that list the relay.
func (s *Store) Owners(relayURL string) (out []string, err error) {
	h := urlhash.Relay(relayURL)
	err = s.st.View(func(tx *store.Txn) (err error) {
		var c *store.Cursor
		if c, err = tx.Cursor(s.owners); err != nil {
			return
		}
		var v []byte
		for _, v, err = c.FirstDup(h.Val[:]); err == nil; _, v, err = c.NextDup() {
			if k := pubkey.New(v); k != nil {
				out = append(out, k.Hex())
			}
		}
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		}
		return
	})
	return
}

// All returns every relay URL in the directory.
func (s *Store) All() (out []string, err error) {
	err = s.st.View(func(tx *store.Txn) (err error) {
		var c *store.Cursor
		if c, err = tx.Cursor(s.urls); err != nil {
			return
		}
		var v []byte
		for _, v, err = c.First(); err == nil; _, v, err = c.Next() {
			out = append(out, string(v))
		}
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		}
		return
	})
	slices.Sort(out)
	return
}

// URL resolves a relay hash, returning "" if it is not in the directory.
func (s *Store) URL(h *urlhash.T) (u string, err error) {
	err = s.st.View(func(tx *store.Txn) (err error) {
		u, err = s.url(tx, h.Val[:])
		return
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return
}

// AsOf returns the stamp of the stored relay list of key.
func (s *Store) AsOf(key string) (t stamp.T, ok bool, err error) {
	var pk *pubkey.T
	if pk, err = pubkey.FromHex(key); err != nil {
		return
	}
	err = s.st.View(func(tx *store.Txn) (err error) {
		var v []byte
		if v, err = tx.Get(s.stamps, pk.Val[:]); err != nil {
			return
		}
		t, ok = stamp.FromBytes(v)
		return
	})
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	return
}

// ParseRelayList reads relay URLs from a kind 10002 relay list, or from the
// JSON content of a kind 3 contact list in the older convention.
func ParseRelayList(ev *nostr.Event) (urls []string, err error) {
	switch ev.Kind {
	case nostr.KindRelayListMetadata:
		for _, tag := range ev.Tags {
			if len(tag) >= 2 && tag[0] == "r" {
				urls = append(urls, tag[1])
			}
		}
	case nostr.KindContactList:
		if ev.Content == "" {
			return
		}
		var m map[string]json.RawMessage
		if err = json.Unmarshal([]byte(ev.Content), &m); err != nil {
			return nil, fmt.Errorf("relay list in event %s: %w", ev.ID, err)
		}
		for u := range m {
			urls = append(urls, u)
		}
		slices.Sort(urls)
	default:
		return nil, fmt.Errorf("event %s of kind %d has no relay list", ev.ID,
			ev.Kind)
	}
	return
}
