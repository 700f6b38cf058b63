package profiles

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Profile is the display metadata an author publishes in a kind 0 event.
type Profile struct {
	// PubKey is the hex author key, not part of the stored JSON.
	PubKey      string `json:"-"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Website     string `json:"website,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	NIP05       string `json:"nip05,omitempty"`
	LUD06       string `json:"lud06,omitempty"`
	LUD16       string `json:"lud16,omitempty"`
}

func (p *Profile) Npub() string {
	v, err := nip19.EncodePublicKey(p.PubKey)
	log.D.Chk(err)
	return v
}

// ShortName is the name to show when space is tight.
func (p *Profile) ShortName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	npub := p.Npub()
	if len(npub) < 63 {
		return npub
	}
	return npub[0:7] + "…" + npub[58:]
}

// ParseMetadata reads the profile in the content of a kind 0 event.
func ParseMetadata(ev *nostr.Event) (p *Profile, err error) {
	if ev.Kind != nostr.KindProfileMetadata {
		return nil, fmt.Errorf("event %s is kind %d, not %d", ev.ID, ev.Kind,
			nostr.KindProfileMetadata)
	}
	p = &Profile{}
	if err = json.Unmarshal([]byte(ev.Content), p); err != nil {
		return nil, fmt.Errorf("profile metadata of event %s: %w", ev.ID, err)
	}
	p.PubKey = ev.PubKey
	return
}
