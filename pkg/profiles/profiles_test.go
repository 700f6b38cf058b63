package profiles

import (
	"errors"
	"testing"

	"github.com/Hubmakerlabs/localstr/pkg/keys/pubkey"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	st, err := store.Open(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	s := New(cfg, DefaultCacheSize)
	require.NoError(t, s.Bind(st))
	return s
}

func newKey(t *testing.T) string {
	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	return pk
}

func TestMonotonic(t *testing.T) {
	s := testStore(t)
	pk := newKey(t)
	p, err := s.Get(pk)
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, s.Set(pk, &Profile{Name: "alice"}, 200, nil))
	p, err = s.Get(pk)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, pk, p.PubKey)

	// equal stamp is ignored
	require.NoError(t, s.Set(pk, &Profile{Name: "eve"}, 200, nil))
	// older stamp conflicts
	err = s.Set(pk, &Profile{Name: "mallory"}, 100, nil)
	assert.True(t, errors.Is(err, store.ErrConflict))
	p, err = s.Get(pk)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name)

	require.NoError(t, s.Set(pk, &Profile{Name: "alice2", About: "hi"}, 300,
		nil))
	p, err = s.Get(pk)
	require.NoError(t, err)
	assert.Equal(t, "alice2", p.Name)
	asOf, ok, err := s.AsOf(pk)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, stamp.T(300), asOf)
}

func TestGetMany(t *testing.T) {
	s := testStore(t)
	a, b, c := newKey(t), newKey(t), newKey(t)
	require.NoError(t, s.Set(a, &Profile{Name: "a"}, 1, nil))
	require.NoError(t, s.Set(b, &Profile{Name: "b"}, 1, nil))
	got, err := s.GetMany([]string{a, b, c})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "b", got[b].Name)
	_, ok := got[c]
	assert.False(t, ok)
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSetFromEvent(t *testing.T) {
	s := testStore(t)
	sk := nostr.GeneratePrivateKey()
	ev := &nostr.Event{Kind: 0, CreatedAt: 1700000000,
		Content: `{"name":"bob","picture":"https://x/y.png","lud16":"bob@x"}`}
	require.NoError(t, ev.Sign(sk))
	require.NoError(t, s.SetFromEvent(ev, nil))
	p, err := s.Get(ev.PubKey)
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Name)
	assert.Equal(t, "https://x/y.png", p.Picture)
	assert.Equal(t, "bob@x", p.LUD16)
	assert.Equal(t, "bob", p.ShortName())

	bad := &nostr.Event{Kind: 1, Content: "{}"}
	_, err = ParseMetadata(bad)
	assert.Error(t, err)
	bad.Kind = 0
	bad.Content = "not json"
	_, err = ParseMetadata(bad)
	assert.Error(t, err)
}

func TestShortNameNpub(t *testing.T) {
	p := &Profile{PubKey: newKey(t)}
	n := p.ShortName()
	assert.Contains(t, n, "npub1")
	assert.Contains(t, n, "…")
}

func TestAbortedParent(t *testing.T) {
	s := testStore(t)
	pk := newKey(t)
	tx, err := s.DB().Begin(false)
	require.NoError(t, err)
	require.NoError(t, s.Set(pk, &Profile{Name: "x"}, 5, tx))
	tx.Abort()
	p, err := s.Get(pk)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMalformedAbsent(t *testing.T) {
	s := testStore(t)
	pk := newKey(t)
	k, err := pubkey.FromHex(pk)
	require.NoError(t, err)
	require.NoError(t, s.DB().Update(func(tx *store.Txn) error {
		return tx.Put(s.profiles, k.Val[:], []byte("short"), 0)
	}))
	p, err := s.Get(pk)
	require.NoError(t, err)
	assert.Nil(t, p)
	// a malformed record does not block a fresh write
	require.NoError(t, s.Set(pk, &Profile{Name: "ok"}, 1, nil))
	p, err = s.Get(pk)
	require.NoError(t, err)
	assert.Equal(t, "ok", p.Name)
}
