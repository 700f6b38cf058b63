package stamp

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func TestEpoch(t *testing.T) {
	assert.Equal(t, T(0), FromTime(Epoch))
	assert.Equal(t, Epoch, T(0).Time())
	assert.Equal(t, int64(978307200), T(0).Unix())
	assert.Equal(t, T(1000), FromUnix(978307201))
	assert.Equal(t, int64(978307199), T(-1).Unix())
}

func TestBytesOrder(t *testing.T) {
	for i := 0; i < 1000; i++ {
		a := T(int64(frand.Uint64n(1<<40)) - 1<<39)
		b := T(int64(frand.Uint64n(1<<40)) - 1<<39)
		cmp := bytes.Compare(a.Bytes(), b.Bytes())
		switch {
		case a < b:
			require.Equal(t, -1, cmp, "%d %d", a, b)
		case a > b:
			require.Equal(t, 1, cmp, "%d %d", a, b)
		default:
			require.Equal(t, 0, cmp)
		}
		back, ok := FromBytes(a.Bytes())
		require.True(t, ok)
		require.Equal(t, a, back)
	}
}

func TestFromBytesSize(t *testing.T) {
	_, ok := FromBytes(make([]byte, Len-1))
	assert.False(t, ok)
	_, ok = FromBytes(make([]byte, Len+1))
	assert.False(t, ok)
}

func TestManual(t *testing.T) {
	m := NewManual(100)
	assert.Equal(t, T(100), m.Now())
	assert.Equal(t, T(1100), m.Advance(time.Second))
	m.Set(5)
	assert.Equal(t, T(5), m.Now())
}
