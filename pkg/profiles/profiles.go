// Package profiles keeps the newest profile metadata of each author.
//
// Sub-databases:
//
//	profiles  pubkey -> as-of stamp|JSON profile
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Hubmakerlabs/localstr/pkg/keys/pubkey"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	ristretto "github.com/fiatjaf/generic-ristretto"
	"github.com/fiatjaf/generic-ristretto/z"
	"github.com/nbd-wtf/go-nostr"
)

var log, chk = slog.New(os.Stderr)

// DefaultConfig is the social family shared with the follow graph.
func DefaultConfig() store.Config {
	return store.Config{
		Name:    "social",
		MapSize: 256 * units.MiB,
		GrowBy:  128 * units.MiB,
		MaxDBs:  8,
	}
}

const DefaultCacheSize = 4096

type Store struct {
	cfg      store.Config
	st       *store.Store
	profiles store.DBI
	cache    *ristretto.Cache[string, *Profile]
}

// New creates the engine with an in memory cache of up to cacheSize decoded
// profiles. A cacheSize of zero disables the cache.
func New(cfg store.Config, cacheSize int) (s *Store) {
	s = &Store{cfg: cfg}
	if cacheSize <= 0 {
		return
	}
	var err error
	if s.cache, err = ristretto.NewCache[string, *Profile](
		&ristretto.Config[string, *Profile]{
			NumCounters: int64(cacheSize) * 10,
			MaxCost:     int64(cacheSize),
			BufferItems: 64,
			KeyToHash: func(key string) (uint64, uint64) {
				return z.MemHashString(key), 0
			},
		}); chk.E(err) {
		s.cache = nil
	}
	return
}

func (s *Store) Config() store.Config { return s.cfg }

func (s *Store) Bind(st *store.Store) (err error) {
	if s.profiles, err = st.OpenDB("profiles", store.Create); chk.E(err) {
		return
	}
	s.st = st
	return
}

func (s *Store) DB() *store.Store { return s.st }

func decode(pk string, v []byte) (p *Profile, asOf stamp.T, err error) {
	var ok bool
	if len(v) < stamp.Len {
		return nil, 0, fmt.Errorf("profile record of %s too short", pk)
	}
	if asOf, ok = stamp.FromBytes(v[:stamp.Len]); !ok {
		return nil, 0, fmt.Errorf("profile stamp of %s malformed", pk)
	}
	p = &Profile{}
	if err = json.Unmarshal(v[stamp.Len:], p); err != nil {
		return nil, 0, err
	}
	p.PubKey = pk
	return
}

func (s *Store) read(tx *store.Txn, pk string) (p *Profile, asOf stamp.T,
	err error) {

	var k *pubkey.T
	if k, err = pubkey.FromHex(pk); err != nil {
		return
	}
	var v []byte
	if v, err = tx.Get(s.profiles, k.Val[:]); err != nil {
		return
	}
	if p, asOf, err = decode(pk, v); err != nil {
		log.W.F("treating malformed profile of %s as absent: %v", pk, err)
		return nil, 0, store.ErrNotFound
	}
	return
}

// Set replaces the profile of pk if asOf is newer than the stored one. An
// equal asOf is ignored, an older one fails with store.ErrConflict.
func (s *Store) Set(pk string, p *Profile, asOf stamp.T,
	parent *store.Txn) (err error) {

	var k *pubkey.T
	if k, err = pubkey.FromHex(pk); err != nil {
		return
	}
	var body []byte
	if body, err = json.Marshal(p); err != nil {
		return
	}
	err = s.st.Run(parent, func(tx *store.Txn) (err error) {
		var stored stamp.T
		_, stored, err = s.read(tx, pk)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return
		case asOf == stored:
			return errUnchanged
		case asOf < stored:
			return fmt.Errorf("%w: profile of %s as of %v is older than %v",
				store.ErrConflict, pk, asOf, stored)
		}
		return tx.Put(s.profiles, k.Val[:], append(asOf.Bytes(), body...), 0)
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	s.Invalidate(pk)
	return
}

var errUnchanged = errors.New("unchanged")

// SetFromEvent stores the profile in a kind 0 event as of its creation
// time.
func (s *Store) SetFromEvent(ev *nostr.Event, parent *store.Txn) (err error) {
	var p *Profile
	if p, err = ParseMetadata(ev); err != nil {
		return
	}
	return s.Set(ev.PubKey, p, stamp.FromUnix(int64(ev.CreatedAt)), parent)
}

// Invalidate drops cached profiles. Writers that pass a parent transaction
// call it again once the outermost transaction has committed.
func (s *Store) Invalidate(pks ...string) {
	if s.cache == nil {
		return
	}
	for _, pk := range pks {
		s.cache.Del(pk)
	}
}

// Get returns the profile of pk, or nil if none is stored.
func (s *Store) Get(pk string) (p *Profile, err error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(pk); ok {
			cp := *p
			return &cp, nil
		}
	}
	err = s.st.View(func(tx *store.Txn) (err error) {
		p, _, err = s.read(tx, pk)
		return
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err == nil && s.cache != nil {
		cp := *p
		s.cache.Set(pk, &cp, 1)
	}
	return
}

// GetMany returns the stored profiles of pks keyed by pubkey. Keys with no
// profile are absent from the map.
func (s *Store) GetMany(pks []string) (out map[string]*Profile, err error) {
	out = make(map[string]*Profile, len(pks))
	err = s.st.View(func(tx *store.Txn) error {
		for _, pk := range pks {
			p, _, err := s.read(tx, pk)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[pk] = p
		}
		return nil
	})
	return
}

// AsOf returns the stamp of the stored profile of pk, ok is false if there is
// none.
func (s *Store) AsOf(pk string) (asOf stamp.T, ok bool, err error) {
	err = s.st.View(func(tx *store.Txn) (err error) {
		_, asOf, err = s.read(tx, pk)
		return
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	return asOf, err == nil, err
}

// Count is the number of stored profiles.
func (s *Store) Count() (n int, err error) {
	err = s.st.View(func(tx *store.Txn) (err error) {
		n, err = tx.Entries(s.profiles)
		return
	})
	return
}

// Clear empties the in memory cache.
func (s *Store) Clear() {
	if s.cache != nil {
		s.cache.Clear()
	}
}
