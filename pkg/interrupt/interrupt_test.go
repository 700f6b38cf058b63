package interrupt

import (
	"testing"
	"time"
)

func TestHandlersRunLIFO(t *testing.T) {
	var order []int
	AddHandler(func() { order = append(order, 1) })
	AddHandler(func() { order = append(order, 2) })
	Request()
	select {
	case <-HandlersDone.Wait():
	case <-time.After(5 * time.Second):
		t.Fatal("handlers did not run")
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("handlers ran in wrong order: %v", order)
	}
	if !Requested() {
		t.Fatal("shutdown not recorded")
	}
	// too late to queue, runs at once
	late := false
	AddHandler(func() { late = true })
	if !late {
		t.Fatal("late handler did not run")
	}
	Request()
}
