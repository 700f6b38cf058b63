// Package kinder is the event kind element, a big-endian uint16.
package kinder

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
)

const (
	Len = 2
	// Max is the largest kind that can be stored.
	Max = math.MaxUint16
)

type T struct {
	Val uint16
}

var _ keys.Element = &T{}

// New converts an event kind. Kinds outside [0, Max] wrap, callers check
// them with Valid first.
func New(k int) *T { return &T{Val: uint16(k)} }

// Valid reports whether k fits the element.
func Valid(k int) bool { return k >= 0 && k <= Max }

func (k *T) Write(buf *bytes.Buffer) {
	var b [Len]byte
	binary.BigEndian.PutUint16(b[:], k.Val)
	buf.Write(b[:])
}

func (k *T) Read(buf *bytes.Buffer) (el keys.Element) {
	var b [Len]byte
	if !keys.ReadFixed(buf, b[:]) {
		return nil
	}
	k.Val = binary.BigEndian.Uint16(b[:])
	return k
}

func (k *T) Len() int { return Len }

func (k *T) Int() int { return int(k.Val) }
