// Package pubkey is the 32 byte author public key element.
package pubkey

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
)

const Len = 32

type T struct {
	Val [Len]byte
}

var _ keys.Element = &T{}

// New copies b, which must be Len bytes, returning nil otherwise.
func New(b []byte) (p *T) {
	if len(b) != Len {
		return nil
	}
	p = &T{}
	copy(p.Val[:], b)
	return
}

// FromHex decodes the 64 character hex form used on the wire.
func FromHex(s string) (p *T, err error) {
	var b []byte
	if b, err = hex.DecodeString(s); err != nil {
		return
	}
	if p = New(b); p == nil {
		err = fmt.Errorf("public key must be %d bytes, got %d", Len, len(b))
	}
	return
}

func (p *T) Write(buf *bytes.Buffer) { buf.Write(p.Val[:]) }

func (p *T) Read(buf *bytes.Buffer) (el keys.Element) {
	if !keys.ReadFixed(buf, p.Val[:]) {
		return nil
	}
	return p
}

func (p *T) Len() int { return Len }

func (p *T) Bytes() []byte { return append([]byte(nil), p.Val[:]...) }

func (p *T) Hex() string { return hex.EncodeToString(p.Val[:]) }

func Compare(a, b *T) int { return bytes.Compare(a.Val[:], b.Val[:]) }
