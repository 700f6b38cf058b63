package composite

import (
	"bytes"
	"testing"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
	"github.com/Hubmakerlabs/localstr/pkg/keys/id"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func randKey() *T {
	return New(stamp.T(int64(frand.Uint64n(1<<42))-1<<41),
		id.New(frand.Bytes(id.Len)))
}

func TestOrderMatchesBytes(t *testing.T) {
	for i := 0; i < 2000; i++ {
		a, b := randKey(), randKey()
		if i%4 == 0 {
			b.Stamp = a.Stamp
		}
		want := Compare(a, b)
		require.Equal(t, want, bytes.Compare(keys.Write(a), keys.Write(b)))
		if a.Stamp < b.Stamp {
			require.Equal(t, -1, want)
		}
		if a.Stamp == b.Stamp {
			require.Equal(t, bytes.Compare(a.ID[:], b.ID[:]), want)
		}
	}
}

func TestDecode(t *testing.T) {
	a := randKey()
	enc := keys.Write(a)
	require.Len(t, enc, Len)
	b, ok := Decode(enc)
	require.True(t, ok)
	require.Equal(t, *a, *b)
	_, ok = Decode(enc[:Len-1])
	require.False(t, ok)
	_, ok = Decode(append(enc, 0))
	require.False(t, ok)
	require.Equal(t, a.ID, b.EventID().Val)
}
