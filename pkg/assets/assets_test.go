package assets

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/keys/urlhash"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

type fixture struct {
	cache *Cache
	pop   *Popularity
	clock *stamp.Manual
}

func newFixture(t *testing.T, mapSize int64) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := stamp.NewManual(stamp.FromTime(time.Date(2024, 1, 1, 0, 0, 0, 0,
		time.UTC)))
	hst, err := store.Open(dir, HitsConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hst.Close() })
	pop := NewPopularity(HitsConfig(), clock)
	require.NoError(t, pop.Bind(hst))
	cfg := DefaultConfig()
	cfg.MapSize = mapSize
	ast, err := store.Open(dir, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ast.Close() })
	c := NewCache(cfg, pop, clock)
	require.NoError(t, c.Bind(ast))
	return &fixture{cache: c, pop: pop, clock: clock}
}

func assetURL(i int) *urlhash.T {
	return urlhash.New(fmt.Sprintf("https://img.example.com/%d.png", i))
}

func (f *fixture) hit(t *testing.T, h *urlhash.T, n int) {
	for i := 0; i < n; i++ {
		_, err := f.cache.GetAsset(h)
		require.NoError(t, err)
		f.clock.Advance(time.Millisecond)
	}
	f.cache.FlushHits()
}

func TestShare(t *testing.T) {
	assert.Equal(t, 2, share(8, 0.25))
	assert.Equal(t, 2, share(5, 0.25))
	assert.Equal(t, 3, share(30, 0.1))
	assert.Equal(t, 3, share(3, 1.5))
	assert.Equal(t, 0, share(10, 0))
	assert.Equal(t, 0, share(0, 0.5))
}

func TestStoreGet(t *testing.T) {
	f := newFixture(t, 0)
	h := assetURL(1)
	_, err := f.cache.GetAsset(h)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	data := frand.Bytes(300)
	require.NoError(t, f.cache.StoreAsset(data, "image/png", h))
	a, err := f.cache.GetAsset(h)
	require.NoError(t, err)
	assert.Equal(t, data, a.Data)
	assert.Equal(t, "image/png", a.ContentType)
	assert.Equal(t, f.clock.Now(), a.Cached)
	st, err := f.cache.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Assets)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, 1, st.PendingHits)
	f.cache.FlushHits()
	n, err := f.pop.Count(h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.cache.Invalidate(h, nil))
	_, err = f.cache.GetAsset(h)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	n, err = f.pop.Count(h)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, f.cache.Invalidate(h, nil))
}

func TestRemoveLeastPopular(t *testing.T) {
	f := newFixture(t, 0)
	for i := 0; i < 8; i++ {
		require.NoError(t, f.cache.StoreAsset([]byte{byte(i)}, "", assetURL(i)))
	}
	for i := 0; i < 8; i++ {
		f.hit(t, assetURL(i), i)
	}
	f.clock.Advance(time.Minute)
	// recent and unpopular, but inside the grace window
	for i := 8; i < 10; i++ {
		require.NoError(t, f.cache.StoreAsset([]byte{byte(i)}, "", assetURL(i)))
	}
	removed, err := f.cache.RemoveLeastPopular(0.25, nil)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, assetURL(0).Val, removed[0].Val)
	assert.Equal(t, assetURL(1).Val, removed[1].Val)
	for i := 0; i < 10; i++ {
		_, err := f.cache.GetAsset(assetURL(i))
		if i < 2 {
			assert.True(t, errors.Is(err, store.ErrNotFound), "asset %d", i)
		} else {
			assert.NoError(t, err, "asset %d", i)
		}
	}
	n, err := f.pop.Count(assetURL(1))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGraceProtectsRecent(t *testing.T) {
	f := newFixture(t, 0)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.cache.StoreAsset([]byte{1}, "", assetURL(i)))
	}
	f.clock.Advance(10 * time.Second)
	removed, err := f.cache.RemoveLeastPopular(1, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
	n, err := f.cache.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestTieBreak(t *testing.T) {
	f := newFixture(t, 0)
	var hs []*urlhash.T
	for i := 0; i < 4; i++ {
		hs = append(hs, assetURL(i))
		require.NoError(t, f.cache.StoreAsset([]byte{1}, "", hs[i]))
	}
	f.clock.Advance(time.Minute)
	removed, err := f.cache.RemoveLeastPopular(0.5, nil)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	r := make([]ranked, len(hs))
	for i := range hs {
		r[i] = ranked{h: hs[i]}
	}
	rank(r)
	assert.Equal(t, r[0].h.Val, removed[0].Val)
	assert.Equal(t, r[1].h.Val, removed[1].Val)
}

func TestStoreFullEvicts(t *testing.T) {
	// each asset takes 9+17 bytes of stamp and 9+100 of payload
	f := newFixture(t, 600)
	data := make([]byte, 100)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.cache.StoreAsset(data, "image/png", assetURL(i)))
		f.hit(t, assetURL(i), 4-i)
	}
	f.clock.Advance(time.Minute)
	require.NoError(t, f.cache.StoreAsset(data, "image/png", assetURL(4)))
	_, err := f.cache.GetAsset(assetURL(3))
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = f.cache.GetAsset(assetURL(4))
	assert.NoError(t, err)
	n, err := f.cache.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// the evicted asset's hits are gone with it
	hits, err := f.pop.Count(assetURL(3))
	require.NoError(t, err)
	assert.Zero(t, hits)

	f.cache.FlushHits()
	before := make(map[int]int)
	for _, i := range []int{0, 1, 2, 4} {
		before[i], err = f.pop.Count(assetURL(i))
		require.NoError(t, err)
	}
	f.clock.Advance(time.Minute)
	// too big even after eviction, nothing changes, popularity included
	err = f.cache.StoreAsset(make([]byte, 1000), "", assetURL(5))
	assert.True(t, errors.Is(err, store.ErrStoreFull))
	n, err = f.cache.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	for i, want := range before {
		hits, err = f.pop.Count(assetURL(i))
		require.NoError(t, err)
		assert.Equal(t, want, hits, "asset %d", i)
	}
}

func newPopularity(t *testing.T, cfg store.Config) (*Popularity,
	*stamp.Manual) {

	t.Helper()
	clock := stamp.NewManual(stamp.FromUnix(1700000000))
	st, err := store.Open(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	pop := NewPopularity(cfg, clock)
	require.NoError(t, pop.Bind(st))
	return pop, clock
}

func TestHitLogFullReduces(t *testing.T) {
	cfg := HitsConfig()
	cfg.MapSize = 1000
	pop, clock := newPopularity(t, cfg)
	h := assetURL(1)
	for i := 0; i < 200; i++ {
		require.NoError(t, pop.Hit(h), "hit %d", i)
		clock.Advance(time.Millisecond)
	}
	n, err := pop.Count(h)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Less(t, n, 200)
	assert.LessOrEqual(t, pop.DB().Stat().Used, int64(1000))
}

func TestHitLogFullFails(t *testing.T) {
	cfg := HitsConfig()
	cfg.MapSize = 1000
	pop, _ := newPopularity(t, cfg)
	// single hits cannot be reduced, and together they never fit
	var hs []*urlhash.T
	for i := 0; i < 100; i++ {
		hs = append(hs, assetURL(i))
	}
	err := pop.Hit(hs...)
	assert.ErrorIs(t, err, store.ErrStoreFull)
	for _, h := range hs[:3] {
		n, err := pop.Count(h)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Zero(t, pop.DB().Stat().Used)
}

func TestReduceLargeLog(t *testing.T) {
	cfg := HitsConfig()
	cfg.MapSize = 0
	cfg.MemTableSize = units.MiB
	pop, _ := newPopularity(t, cfg)
	pop.Chunk = 1000
	a, b := assetURL(1), assetURL(2)
	hs := make([]*urlhash.T, 0, 20000)
	for i := 0; i < 10000; i++ {
		hs = append(hs, a, b)
	}
	require.NoError(t, pop.Hit(hs...))
	require.NoError(t, pop.ReduceDateCount(0.5))
	for _, h := range []*urlhash.T{a, b} {
		n, err := pop.Count(h)
		require.NoError(t, err)
		assert.Equal(t, 5000, n)
	}
	require.NoError(t, pop.Forget(a))
	n, err := pop.Count(a)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReduceDateCount(t *testing.T) {
	f := newFixture(t, 0)
	a, b, c := assetURL(1), assetURL(2), assetURL(3)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.pop.Hit(a))
		f.clock.Advance(time.Second)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, f.pop.Hit(b))
		f.clock.Advance(time.Second)
	}
	require.NoError(t, f.pop.Hit(c))
	cutoff := f.clock.Now()

	require.NoError(t, f.pop.ReduceDateCount(0.5))
	for h, want := range map[*urlhash.T]int{a: 2, b: 2, c: 1} {
		n, err := f.pop.Count(h)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	// the newest hits of a survive
	require.NoError(t, f.pop.DB().View(func(tx *store.Txn) error {
		cur, err := tx.Cursor(f.pop.hits)
		require.NoError(t, err)
		_, v, err := cur.FirstDup(a.Val[:])
		require.NoError(t, err)
		ts, ok := stamp.FromBytes(v[:stamp.Len])
		require.True(t, ok)
		assert.Equal(t, cutoff.Add(-5*time.Second), ts)
		return nil
	}))
}

func TestTrimUnpopular(t *testing.T) {
	f := newFixture(t, 0)
	var hs []*urlhash.T
	for i := 0; i < 4; i++ {
		hs = append(hs, assetURL(i))
		for j := 0; j < i*2; j++ {
			require.NoError(t, f.pop.Hit(hs[i]))
		}
	}
	trimmed, err := f.pop.TrimUnpopularEntries(hs, 0.5)
	require.NoError(t, err)
	require.Len(t, trimmed, 2)
	assert.Equal(t, hs[0].Val, trimmed[0].Val)
	assert.Equal(t, hs[1].Val, trimmed[1].Val)
	n, err := f.pop.Count(hs[1])
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = f.pop.Count(hs[3])
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}
