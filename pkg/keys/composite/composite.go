// Package composite is the event ordering key: a creation stamp followed by
// the event id, so keys sort by date and then by id bytes.
package composite

import (
	"bytes"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
	"github.com/Hubmakerlabs/localstr/pkg/keys/createdat"
	"github.com/Hubmakerlabs/localstr/pkg/keys/id"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
)

const Len = createdat.Len + id.Len

type T struct {
	Stamp stamp.T
	ID    [id.Len]byte
}

var _ keys.Element = &T{}

func New(s stamp.T, eid *id.T) *T { return &T{Stamp: s, ID: eid.Val} }

func (c *T) Write(buf *bytes.Buffer) {
	createdat.New(c.Stamp).Write(buf)
	buf.Write(c.ID[:])
}

func (c *T) Read(buf *bytes.Buffer) (el keys.Element) {
	ca := &createdat.T{}
	if ca.Read(buf) == nil {
		return nil
	}
	if !keys.ReadFixed(buf, c.ID[:]) {
		return nil
	}
	c.Stamp = ca.Val
	return c
}

func (c *T) Len() int { return Len }

func (c *T) EventID() *id.T { return &id.T{Val: c.ID} }

// Compare orders by stamp and falls back to the id only on equal stamps.
func Compare(a, b *T) int {
	if c := createdat.Compare(createdat.New(a.Stamp),
		createdat.New(b.Stamp)); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// Decode parses an encoded key, reporting false on any size mismatch.
func Decode(b []byte) (c *T, ok bool) {
	c = &T{}
	if !keys.Decode(b, c) {
		return nil, false
	}
	return c, true
}
