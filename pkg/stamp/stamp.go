// Package stamp is a millisecond timestamp counted from the 2001-01-01 UTC
// reference epoch, with a binary form whose byte order matches numeric order.
package stamp

import (
	"encoding/binary"
	"sync"
	"time"
)

// T is milliseconds since Epoch. Values before the epoch are negative.
type T int64

// Len is the size of the binary encoding.
const Len = 8

// Epoch is the reference date all stamps are measured from.
var Epoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

var epochMs = Epoch.UnixMilli()

const signBit = uint64(1) << 63

func Now() T { return FromTime(time.Now()) }

func FromTime(t time.Time) T { return T(t.UnixMilli() - epochMs) }

// FromUnix converts unix seconds, the resolution of event created_at fields.
func FromUnix(sec int64) T { return T(sec*1000 - epochMs) }

func (t T) Time() time.Time { return time.UnixMilli(int64(t) + epochMs).UTC() }

// Unix returns the stamp as unix seconds, rounding down.
func (t T) Unix() int64 {
	ms := int64(t) + epochMs
	if ms < 0 && ms%1000 != 0 {
		return ms/1000 - 1
	}
	return ms / 1000
}

func (t T) Add(d time.Duration) T { return t + T(d.Milliseconds()) }

func (t T) Sub(o T) time.Duration { return time.Duration(t-o) * time.Millisecond }

func (t T) Int() int64 { return int64(t) }

func (t T) String() string { return t.Time().Format(time.RFC3339Nano) }

// Bytes encodes the stamp big-endian with the sign bit flipped so negative
// values sort before positive ones.
func (t T) Bytes() (b []byte) {
	b = make([]byte, Len)
	t.Put(b)
	return
}

// Put writes the encoding into the first Len bytes of b.
func (t T) Put(b []byte) { binary.BigEndian.PutUint64(b, uint64(t)^signBit) }

// FromBytes decodes an encoding produced by Bytes. ok is false when b is not
// exactly Len bytes.
func FromBytes(b []byte) (t T, ok bool) {
	if len(b) != Len {
		return
	}
	return T(binary.BigEndian.Uint64(b) ^ signBit), true
}

// Clock abstracts the current time so engines can be driven from tests.
type Clock interface {
	Now() T
}

type systemClock struct{}

func (systemClock) Now() T { return Now() }

// System reads the wall clock.
var System Clock = systemClock{}

// Manual is a Clock that only moves when told to.
type Manual struct {
	mx sync.Mutex
	t  T
}

func NewManual(t T) *Manual { return &Manual{t: t} }

func (m *Manual) Now() T {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.t
}

func (m *Manual) Set(t T) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.t = t
}

func (m *Manual) Advance(d time.Duration) T {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.t = m.t.Add(d)
	return m.t
}
