package follows

import (
	"sort"
	"testing"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, clock stamp.Clock) *Store {
	t.Helper()
	cfg := store.Config{Name: "social", MapSize: 64 * units.MiB}
	st, err := store.Open(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	s := New(cfg, clock)
	require.NoError(t, s.Bind(st))
	return s
}

func newKeys(t *testing.T, n int) (out []string) {
	for i := 0; i < n; i++ {
		pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
		require.NoError(t, err)
		out = append(out, pk)
	}
	return
}

func sorted(s []string) []string {
	c := append([]string(nil), s...)
	sort.Strings(c)
	return c
}

func TestReconcile(t *testing.T) {
	clock := stamp.NewManual(1000)
	s := testStore(t, clock)
	me := newKeys(t, 1)[0]
	k := newKeys(t, 5)

	require.NoError(t, s.Set(me, k[:3], nil))
	got, err := s.GetFollows(me)
	require.NoError(t, err)
	assert.Equal(t, sorted(k[:3]), got)

	clock.Advance(time.Minute)
	require.NoError(t, s.Set(me, []string{k[1], k[2], k[3], k[4], k[4]}, nil))
	got, err = s.GetFollows(me)
	require.NoError(t, err)
	assert.Equal(t, sorted(k[1:5]), got)

	ok, err := s.IsFriend(me, k[0])
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.IsFriend(me, k[3])
	require.NoError(t, err)
	assert.True(t, ok)

	// untouched edges keep their first stamp
	ts, ok, err := s.EdgeStamp(me, k[1])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stamp.T(1000), ts)
	ts, ok, err = s.EdgeStamp(me, k[3])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stamp.T(61000), ts)
	_, ok, err = s.EdgeStamp(me, k[0])
	require.NoError(t, err)
	assert.False(t, ok)

	ts, ok, err = s.LastRefresh(me)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stamp.T(61000), ts)

	require.NoError(t, s.Set(me, nil, nil))
	got, err = s.GetFollows(me)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIdempotent(t *testing.T) {
	clock := stamp.NewManual(5)
	s := testStore(t, clock)
	me := newKeys(t, 1)[0]
	k := newKeys(t, 4)
	require.NoError(t, s.Set(me, k, nil))
	used := s.DB().Stat().Used
	clock.Advance(time.Hour)
	require.NoError(t, s.Set(me, k, nil))
	assert.Equal(t, used, s.DB().Stat().Used)
	got, err := s.GetFollows(me)
	require.NoError(t, err)
	assert.Equal(t, sorted(k), got)
	for _, f := range k {
		ts, ok, err := s.EdgeStamp(me, f)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, stamp.T(5), ts)
	}
}

func TestGetFriends(t *testing.T) {
	s := testStore(t, nil)
	a, b, c := newKeys(t, 1)[0], newKeys(t, 1)[0], newKeys(t, 1)[0]
	k := newKeys(t, 3)
	require.NoError(t, s.Set(a, k[:2], nil))
	require.NoError(t, s.Set(b, k[2:], nil))
	got, err := s.GetFriends([]string{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, sorted(k[:2]), got[a])
	assert.Equal(t, k[2:], got[b])
	assert.Empty(t, got[c])
	_, err = s.GetFriends([]string{"nothex"})
	assert.Error(t, err)
}

func TestAbortLeavesFollows(t *testing.T) {
	s := testStore(t, nil)
	me := newKeys(t, 1)[0]
	k := newKeys(t, 2)
	require.NoError(t, s.Set(me, k[:1], nil))
	tx, err := s.DB().Begin(false)
	require.NoError(t, err)
	require.NoError(t, s.Set(me, k[1:], tx))
	tx.Abort()
	got, err := s.GetFollows(me)
	require.NoError(t, err)
	assert.Equal(t, k[:1], got)
}

func TestParseContacts(t *testing.T) {
	k := newKeys(t, 2)
	ev := &nostr.Event{Kind: nostr.KindContactList, Tags: nostr.Tags{
		{"p", k[0], "wss://relay.example.com"},
		{"p", k[0]},
		{"p", "zz"},
		{"e", k[1]},
		{"p", k[1]},
		{"p"},
	}}
	got, err := ParseContacts(ev)
	require.NoError(t, err)
	assert.Equal(t, k, got)
	ev.Kind = 1
	_, err = ParseContacts(ev)
	assert.Error(t, err)
}
