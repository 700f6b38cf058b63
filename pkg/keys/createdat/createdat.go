package createdat

import (
	"bytes"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
)

const Len = stamp.Len

type T struct {
	Val stamp.T
}

var _ keys.Element = &T{}

func New(c stamp.T) (p *T) { return &T{Val: c} }

func (c *T) Write(buf *bytes.Buffer) {
	var b [Len]byte
	c.Val.Put(b[:])
	buf.Write(b[:])
}

func (c *T) Read(buf *bytes.Buffer) (el keys.Element) {
	var b [Len]byte
	if !keys.ReadFixed(buf, b[:]) {
		return nil
	}
	c.Val, _ = stamp.FromBytes(b[:])
	return c
}

func (c *T) Len() int { return Len }

func Compare(a, b *T) int {
	switch {
	case a.Val < b.Val:
		return -1
	case a.Val > b.Val:
		return 1
	}
	return 0
}
