// Package assets caches fetched remote assets by URL hash and evicts the
// least popular ones when the store is full.
//
// Sub-databases:
//
//	assets       urlhash -> payload
//	assetStamps  urlhash -> cache stamp|content type
package assets

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/holder"
	"github.com/Hubmakerlabs/localstr/pkg/keys/urlhash"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	"github.com/puzpuzpuz/xsync/v2"
)

var log, chk = slog.New(os.Stderr)

func DefaultConfig() store.Config {
	return store.Config{
		Name:    "assets",
		MapSize: 256 * units.MiB,
		GrowBy:  0,
		MaxDBs:  4,
	}
}

const (
	// DefaultGrace exempts freshly cached assets from eviction.
	DefaultGrace = 30 * time.Second
	// DefaultFraction of eviction candidates removed when the store is full.
	DefaultFraction = 0.25
)

// Asset is a cached payload.
type Asset struct {
	Hash        *urlhash.T
	Data        []byte
	ContentType string
	Cached      stamp.T
}

// Stats summarises the cache.
type Stats struct {
	Assets      int
	Used        int64
	Limit       int64
	Hits        int64
	Misses      int64
	PendingHits int
}

type Cache struct {
	cfg      store.Config
	st       *store.Store
	clock    stamp.Clock
	pop      *Popularity
	payloads store.DBI
	stamps   store.DBI
	// pending buffers hits until the next write flushes them to pop.
	pending *holder.Lazy[*urlhash.T]
	hits    *xsync.Counter
	misses  *xsync.Counter
	// Grace is the age below which assets are never evicted.
	Grace time.Duration
	// Fraction of candidates removed by an eviction after ErrStoreFull.
	Fraction float64
}

func NewCache(cfg store.Config, pop *Popularity, clock stamp.Clock) *Cache {
	if clock == nil {
		clock = stamp.System
	}
	return &Cache{
		cfg:      cfg,
		clock:    clock,
		pop:      pop,
		pending:  holder.NewLazy[*urlhash.T](),
		hits:     xsync.NewCounter(),
		misses:   xsync.NewCounter(),
		Grace:    DefaultGrace,
		Fraction: DefaultFraction,
	}
}

func (c *Cache) Config() store.Config { return c.cfg }

func (c *Cache) Bind(st *store.Store) (err error) {
	if c.payloads, err = st.OpenDB("assets", store.Create); chk.E(err) {
		return
	}
	if c.stamps, err = st.OpenDB("assetStamps", store.Create); chk.E(err) {
		return
	}
	c.st = st
	return
}

func (c *Cache) DB() *store.Store { return c.st }

func (c *Cache) Popularity() *Popularity { return c.pop }

func (c *Cache) put(tx *store.Txn, data []byte, contentType string,
	h *urlhash.T) (err error) {

	meta := append(c.clock.Now().Bytes(), contentType...)
	if err = tx.Put(c.stamps, h.Val[:], meta, 0); err != nil {
		return
	}
	return tx.Put(c.payloads, h.Val[:], data, 0)
}

// StoreAsset caches data under h. If the store is full the least popular
// assets are evicted and the write is tried once more, a second failure is
// returned.
func (c *Cache) StoreAsset(data []byte, contentType string,
	h *urlhash.T) (err error) {

	c.FlushHits()
	return c.st.Update(func(tx *store.Txn) (err error) {
		err = c.st.Run(tx, func(tx *store.Txn) error {
			return c.put(tx, data, contentType, h)
		})
		if !errors.Is(err, store.ErrStoreFull) {
			return
		}
		log.W.F("asset store full caching %s, evicting %.0f%%", h,
			c.Fraction*100)
		var evicted []*urlhash.T
		if evicted, err = c.RemoveLeastPopular(c.Fraction, tx); err != nil {
			return
		}
		if err = c.put(tx, data, contentType, h); err != nil {
			return fmt.Errorf("caching %s after evicting %d assets: %w", h,
				len(evicted), err)
		}
		return
	})
}

// GetAsset returns the cached asset or store.ErrNotFound, recording a hit.
func (c *Cache) GetAsset(h *urlhash.T) (a *Asset, err error) {
	err = c.st.View(func(tx *store.Txn) (err error) {
		var meta, data []byte
		if meta, err = tx.Get(c.stamps, h.Val[:]); err != nil {
			return
		}
		if data, err = tx.Get(c.payloads, h.Val[:]); err != nil {
			return
		}
		ts, ok := stamp.FromBytes(meta[:min(len(meta), stamp.Len)])
		if !ok {
			log.W.F("asset %s has a malformed stamp, treating as absent", h)
			return store.ErrNotFound
		}
		a = &Asset{Hash: h, Data: data, Cached: ts,
			ContentType: string(meta[stamp.Len:])}
		return
	})
	if err != nil {
		c.misses.Inc()
		return nil, err
	}
	c.hits.Inc()
	c.pending.Append(h)
	return
}

// FlushHits writes buffered hits to the hit log. A full hit log drops them.
func (c *Cache) FlushHits() {
	if c.pop == nil {
		c.pending.Take()
		return
	}
	hs := c.pending.Take()
	if len(hs) == 0 {
		return
	}
	if err := c.pop.Hit(hs...); err != nil {
		log.W.F("dropped %d asset hits: %v", len(hs), err)
	}
}

// Invalidate removes an asset, and its hit log once the outermost
// transaction commits. A missing asset is not an error.
func (c *Cache) Invalidate(h *urlhash.T, parent *store.Txn) (err error) {
	c.FlushHits()
	return c.st.Run(parent, func(tx *store.Txn) (err error) {
		for _, db := range []store.DBI{c.payloads, c.stamps} {
			if err = tx.Del(db, h.Val[:], nil); err != nil &&
				!errors.Is(err, store.ErrNotFound) {
				return
			}
		}
		if c.pop == nil {
			return nil
		}
		return tx.OnCommit(func() { chk.E(c.pop.Forget(h)) })
	})
}

// candidates returns the assets cached before the grace window.
func (c *Cache) candidates(tx *store.Txn) (out []*urlhash.T, err error) {
	cutoff := c.clock.Now().Add(-c.Grace)
	var cur *store.Cursor
	if cur, err = tx.Cursor(c.stamps); err != nil {
		return
	}
	defer cur.Close()
	var k, v []byte
	for k, v, err = cur.First(); err == nil; k, v, err = cur.Next() {
		h := urlhash.FromBytes(k)
		if h == nil || len(v) < stamp.Len {
			log.W.F("skipping malformed asset stamp entry %x", k)
			continue
		}
		ts, _ := stamp.FromBytes(v[:stamp.Len])
		if ts < cutoff {
			out = append(out, h)
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	return
}

// RemoveLeastPopular evicts the least popular fraction, rounded up, of the
// assets older than the grace window, in a child of parent. Ties in
// popularity go to the lower hash first. The hit logs of the evicted assets
// are dropped only once the outermost transaction commits, so an aborted
// eviction leaves popularity intact.
func (c *Cache) RemoveLeastPopular(fraction float64,
	parent *store.Txn) (removed []*urlhash.T, err error) {

	c.FlushHits()
	err = c.st.Run(parent, func(tx *store.Txn) (err error) {
		var cands []*urlhash.T
		if cands, err = c.candidates(tx); err != nil {
			return
		}
		var victims []*urlhash.T
		if c.pop != nil {
			if victims, err = c.pop.Unpopular(cands, fraction); err != nil {
				return
			}
		} else {
			r := make([]ranked, len(cands))
			for i := range cands {
				r[i] = ranked{h: cands[i]}
			}
			rank(r)
			for _, x := range r[:share(len(r), fraction)] {
				victims = append(victims, x.h)
			}
		}
		for _, h := range victims {
			for _, db := range []store.DBI{c.payloads, c.stamps} {
				if err = tx.Del(db, h.Val[:], nil); err != nil &&
					!errors.Is(err, store.ErrNotFound) {
					return
				}
			}
		}
		if c.pop != nil && len(victims) > 0 {
			if err = tx.OnCommit(func() {
				chk.E(c.pop.Forget(victims...))
			}); err != nil {
				return
			}
		}
		removed = victims
		log.I.F("evicted %d of %d eviction candidates", len(victims),
			len(cands))
		return nil
	})
	if err != nil {
		removed = nil
	}
	return
}

// Count is the number of cached assets.
func (c *Cache) Count() (n int, err error) {
	err = c.st.View(func(tx *store.Txn) (err error) {
		n, err = tx.Entries(c.stamps)
		return
	})
	return
}

func (c *Cache) Stats() (s Stats, err error) {
	if s.Assets, err = c.Count(); err != nil {
		return
	}
	st := c.st.Stat()
	s.Used, s.Limit = st.Used, st.Limit
	s.Hits, s.Misses = c.hits.Value(), c.misses.Value()
	s.PendingHits = c.pending.Len()
	return
}
