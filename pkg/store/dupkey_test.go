package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

type pair struct{ k, v []byte }

func cmpPair(a, b pair) int {
	if c := bytes.Compare(a.k, b.k); c != 0 {
		return c
	}
	return bytes.Compare(a.v, b.v)
}

func randSmall() []byte {
	b := frand.Bytes(frand.Intn(4))
	for i := range b {
		// bias toward the bytes the escaping cares about
		b[i] = []byte{0x00, 0x01, 0x02, 0xFF, 'a'}[frand.Intn(5)]
	}
	return b
}

func TestDupOrdering(t *testing.T) {
	for i := 0; i < 5000; i++ {
		a := pair{randSmall(), randSmall()}
		b := pair{randSmall(), randSmall()}
		ea, eb := dupKey(7, a.k, a.v), dupKey(7, b.k, b.v)
		require.Equal(t, cmpPair(a, b), bytes.Compare(ea, eb),
			"%x/%x vs %x/%x", a.k, a.v, b.k, b.v)
		k, v, ok := splitDup(ea[1:])
		require.True(t, ok)
		require.Equal(t, a.k, k)
		require.Equal(t, a.v, v)
		if bytes.Equal(a.k, b.k) {
			require.True(t, bytes.HasPrefix(eb, dupPrefix(7, a.k)))
		} else {
			require.False(t, bytes.HasPrefix(eb, dupPrefix(7, a.k)))
		}
	}
}
