package assets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"

	"github.com/Hubmakerlabs/localstr/pkg/keys/urlhash"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	"golang.org/x/exp/slices"
)

// HitsConfig is the store holding the hit log.
func HitsConfig() store.Config {
	return store.Config{
		Name:    "hits",
		MapSize: 32 * units.MiB,
		GrowBy:  0,
		MaxDBs:  4,
	}
}

// DefaultChunk keeps a hit log transaction well inside badger's default
// batch limits.
const DefaultChunk = 4096

// hitLen is a stamp followed by a sequence number so that hits in the same
// millisecond stay distinct.
const hitLen = stamp.Len + 4

// Popularity is the hit log used to rank cached assets. Each access is one
// duplicate entry under the asset hash, sorted oldest first.
//
// Sub-databases:
//
//	hits  urlhash -> stamp|seq (duplicate-sorted)
type Popularity struct {
	cfg   store.Config
	st    *store.Store
	clock stamp.Clock
	hits  store.DBI
	seq   atomic.Uint32
	// ReduceFraction is the share of each asset's hits dropped when the hit
	// log itself is full.
	ReduceFraction float64
	// Chunk bounds the hits written or deleted by one transaction when a
	// single one cannot hold them.
	Chunk int
}

func NewPopularity(cfg store.Config, clock stamp.Clock) *Popularity {
	if clock == nil {
		clock = stamp.System
	}
	return &Popularity{cfg: cfg, clock: clock, ReduceFraction: 0.5}
}

func (p *Popularity) Config() store.Config { return p.cfg }

func (p *Popularity) Bind(st *store.Store) (err error) {
	if p.hits, err = st.OpenDB("hits", store.Create|store.DupSort); chk.E(err) {
		return
	}
	p.st = st
	return
}

func (p *Popularity) DB() *store.Store { return p.st }

func (p *Popularity) hitValue(now stamp.T) []byte {
	v := make([]byte, hitLen)
	now.Put(v)
	binary.BigEndian.PutUint32(v[stamp.Len:], p.seq.Add(1))
	return v
}

// Hit records one access of each hash. When the hit log is full its oldest
// entries are reduced and the write is tried once more.
func (p *Popularity) Hit(hs ...*urlhash.T) (err error) {
	for len(hs) > 0 {
		n := min(len(hs), p.chunk())
		if err = p.hit(hs[:n]); err != nil {
			return
		}
		hs = hs[n:]
	}
	return
}

func (p *Popularity) hit(hs []*urlhash.T) (err error) {
	write := func() error {
		return p.st.Update(func(tx *store.Txn) (err error) {
			now := p.clock.Now()
			for _, h := range hs {
				if err = tx.Put(p.hits, h.Val[:], p.hitValue(now), 0); err != nil {
					return
				}
			}
			return
		})
	}
	if err = write(); errors.Is(err, store.ErrStoreFull) {
		log.W.Ln("hit log full, reducing")
		if err = p.ReduceDateCount(p.ReduceFraction); err != nil {
			return
		}
		err = write()
	}
	return
}

// Count is the number of recorded hits of h.
func (p *Popularity) Count(h *urlhash.T) (n int, err error) {
	err = p.st.View(func(tx *store.Txn) (err error) {
		n, err = tx.CountDups(p.hits, h.Val[:])
		return
	})
	return
}

type hitEntry struct {
	key, val []byte
}

// entries lists the hits of key, oldest first.
func (p *Popularity) entries(tx *store.Txn, key []byte) (out []hitEntry,
	err error) {

	var c *store.Cursor
	if c, err = tx.Cursor(p.hits); err != nil {
		return
	}
	defer c.Close()
	var v []byte
	for _, v, err = c.FirstDup(key); err == nil; _, v, err = c.NextDup() {
		out = append(out, hitEntry{key, v})
	}
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	return
}

func (p *Popularity) chunk() int {
	if p.Chunk > 0 {
		return p.Chunk
	}
	return DefaultChunk
}

// remove deletes hits in one transaction. When that is more than badger can
// hold the hits are deleted in chunks of Chunk, each committed on its own.
func (p *Popularity) remove(hits []hitEntry) (err error) {
	del := func(hits []hitEntry) error {
		return p.st.Update(func(tx *store.Txn) (err error) {
			for _, e := range hits {
				if err = tx.Del(p.hits, e.key, e.val); err != nil &&
					!errors.Is(err, store.ErrNotFound) {
					return
				}
			}
			return nil
		})
	}
	if err = del(hits); !errors.Is(err, store.ErrTxnTooBig) {
		return
	}
	log.W.F("removing %d hits in chunks of %d", len(hits), p.chunk())
	for len(hits) > 0 {
		n := min(len(hits), p.chunk())
		if err = del(hits[:n]); err != nil {
			return
		}
		hits = hits[n:]
	}
	return
}

// Forget drops the hit log of each hash.
func (p *Popularity) Forget(hs ...*urlhash.T) (err error) {
	var all []hitEntry
	if err = p.st.View(func(tx *store.Txn) (err error) {
		for _, h := range hs {
			var es []hitEntry
			if es, err = p.entries(tx, h.Val[:]); err != nil {
				return
			}
			all = append(all, es...)
		}
		return
	}); err != nil {
		return
	}
	return p.remove(all)
}

// share is ceil(n*fraction) bounded to [0, n].
func share(n int, fraction float64) int {
	if fraction <= 0 || n == 0 {
		return 0
	}
	k := int(math.Ceil(float64(n)*fraction - 1e-9))
	if k > n {
		k = n
	}
	return k
}

type ranked struct {
	h    *urlhash.T
	hits int
}

// rank orders by hit count ascending, ties by hash bytes ascending.
func rank(r []ranked) {
	slices.SortFunc(r, func(a, b ranked) int {
		if a.hits != b.hits {
			return a.hits - b.hits
		}
		return bytes.Compare(a.h.Val[:], b.h.Val[:])
	})
}

// Unpopular ranks candidates by hit count and returns the least popular
// fraction of them, rounded up, least popular first. It changes nothing.
func (p *Popularity) Unpopular(candidates []*urlhash.T,
	fraction float64) (out []*urlhash.T, err error) {

	n := share(len(candidates), fraction)
	if n == 0 {
		return
	}
	r := make([]ranked, 0, len(candidates))
	if err = p.st.View(func(tx *store.Txn) (err error) {
		for _, h := range candidates {
			var c int
			if c, err = tx.CountDups(p.hits, h.Val[:]); err != nil {
				return
			}
			r = append(r, ranked{h, c})
		}
		return
	}); err != nil {
		return
	}
	rank(r)
	for _, x := range r[:n] {
		out = append(out, x.h)
	}
	return
}

// TrimUnpopularEntries deletes the hit logs of the least popular fraction of
// candidates, rounded up, and returns them least popular first.
func (p *Popularity) TrimUnpopularEntries(candidates []*urlhash.T,
	fraction float64) (trimmed []*urlhash.T, err error) {

	if trimmed, err = p.Unpopular(candidates, fraction); err != nil {
		return
	}
	if err = p.Forget(trimmed...); err != nil {
		trimmed = nil
	}
	return
}

// ReduceDateCount drops the oldest fraction, rounded down, of the hits of
// every asset. The reduction commits in one transaction unless it is more
// than badger can hold, then in chunks.
func (p *Popularity) ReduceDateCount(fraction float64) (err error) {
	var victims []hitEntry
	if err = p.st.View(func(tx *store.Txn) (err error) {
		var c *store.Cursor
		if c, err = tx.Cursor(p.hits); err != nil {
			return
		}
		defer c.Close()
		var key []byte
		var vals [][]byte
		cut := func() {
			drop := int(math.Floor(float64(len(vals))*fraction + 1e-9))
			for _, v := range vals[:min(drop, len(vals))] {
				victims = append(victims, hitEntry{key, v})
			}
		}
		var k, v []byte
		for k, v, err = c.First(); err == nil; k, v, err = c.Next() {
			if key != nil && !bytes.Equal(key, k) {
				cut()
				vals = nil
			}
			key = k
			vals = append(vals, v)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return
		}
		if key != nil {
			cut()
		}
		return nil
	}); err != nil {
		return
	}
	if err = p.remove(victims); err == nil {
		log.D.F("hit log reduced by %d entries", len(victims))
	}
	return
}
