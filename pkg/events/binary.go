package events

import (
	"encoding/hex"
	"fmt"

	"github.com/Hubmakerlabs/localstr/pkg/keys/id"
	"github.com/Hubmakerlabs/localstr/pkg/keys/pubkey"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/binary"
)

const sigLen = 64

// Marshal encodes an event in the go-nostr binary form. The codec silently
// zeroes malformed hex, so the hex fields are checked first.
func Marshal(ev *nostr.Event) (b []byte, err error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	if _, err = id.FromHex(ev.ID); err != nil {
		return nil, fmt.Errorf("event id: %w", err)
	}
	if _, err = pubkey.FromHex(ev.PubKey); err != nil {
		return nil, fmt.Errorf("event pubkey: %w", err)
	}
	var sig []byte
	if sig, err = hex.DecodeString(ev.Sig); err != nil {
		return nil, fmt.Errorf("event sig: %w", err)
	}
	if len(sig) != sigLen {
		return nil, fmt.Errorf("event sig must be %d bytes, got %d", sigLen,
			len(sig))
	}
	if ev.CreatedAt < 0 {
		return nil, fmt.Errorf("event %s: negative created_at", ev.ID)
	}
	return binary.Marshal(ev)
}

// Unmarshal decodes the stored binary form.
func Unmarshal(b []byte) (ev *nostr.Event, err error) {
	ev = &nostr.Event{}
	if err = binary.Unmarshal(b, ev); err != nil {
		return nil, err
	}
	return
}
