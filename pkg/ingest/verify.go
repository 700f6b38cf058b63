package ingest

import (
	"encoding/hex"

	"github.com/minio/sha256-simd"
	"github.com/nbd-wtf/go-nostr"
)

// VerifyID reports whether the id of ev is the hash of its canonical form.
// Signatures are left to the connection layer.
func VerifyID(ev *nostr.Event) bool {
	sum := sha256.Sum256(ev.Serialize())
	return hex.EncodeToString(sum[:]) == ev.ID
}
