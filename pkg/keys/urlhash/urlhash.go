// Package urlhash is the truncated digest used to identify relay and asset
// URLs. Collisions are possible and accepted.
package urlhash

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
	"github.com/minio/sha256-simd"
	"github.com/nbd-wtf/go-nostr"
)

const Len = 8

type T struct {
	Val [Len]byte
}

var _ keys.Element = &T{}

// New hashes an asset URL as given, apart from surrounding whitespace.
func New(u string) (p *T) {
	p = &T{}
	sum := sha256.Sum256([]byte(strings.TrimSpace(u)))
	copy(p.Val[:], sum[:Len])
	return
}

// Relay hashes a relay URL after normalising it, so that spellings of the
// same relay share a hash.
func Relay(u string) *T { return New(nostr.NormalizeURL(u)) }

// FromBytes wraps an already computed hash. It returns nil on a size
// mismatch.
func FromBytes(b []byte) (p *T) {
	if len(b) != Len {
		return nil
	}
	p = &T{}
	copy(p.Val[:], b)
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

func (p *T) String() string { return hex.EncodeToString(p.Val[:]) }

func Compare(a, b *T) int { return bytes.Compare(a.Val[:], b.Val[:]) }
