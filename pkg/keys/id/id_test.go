package id

import (
	"testing"

	"github.com/Hubmakerlabs/localstr/pkg/keys"
	"lukechampine.com/frand"
)

func TestT(t *testing.T) {
	b := frand.Bytes(Len)
	v := New(b)
	v2 := &T{}
	if !keys.Decode(keys.Write(v), v2) {
		t.Fatal("failed to decode")
	}
	if Compare(v, v2) != 0 {
		t.Fatalf("expected %x got %x", v.Val, v2.Val)
	}
	if New(b[:31]) != nil {
		t.Fatal("accepted short id")
	}
	if keys.Decode(append(keys.Write(v), 1), &T{}) {
		t.Fatal("accepted oversized id")
	}
	w, err := FromHex(v.Hex())
	if err != nil || Compare(v, w) != 0 {
		t.Fatalf("hex round trip failed: %v", err)
	}
}
