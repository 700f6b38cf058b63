package qu

import (
	"testing"
	"time"
)

func TestQ(t *testing.T) {
	c := T()
	if c.IsClosed() {
		t.Fatal("new channel reported closed")
	}
	c.Q()
	c.Q()
	if !c.IsClosed() {
		t.Fatal("channel not closed after Q")
	}
	select {
	case <-c.Wait():
	case <-time.After(time.Second):
		t.Fatal("closed channel did not release waiter")
	}
}
