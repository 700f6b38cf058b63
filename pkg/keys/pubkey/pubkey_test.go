package pubkey

import (
	"testing"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHex(t *testing.T) {
	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	p, err := FromHex(pk)
	require.NoError(t, err)
	assert.Equal(t, pk, p.Hex())
	p2 := &T{}
	require.True(t, keys.Decode(keys.Write(p), p2))
	assert.Equal(t, p.Val, p2.Val)
	_, err = FromHex(pk[:60])
	assert.Error(t, err)
	_, err = FromHex("zz")
	assert.Error(t, err)
}
