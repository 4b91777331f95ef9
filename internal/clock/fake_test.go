package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFunc(t *testing.T) {
	c := Fake(time.Unix(1000, 0))
	var order []int
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })

	c.Advance(5 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("fired early: %v", order)
	}
	c.Advance(20 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d", c.PendingCount())
	}
}

func TestFakeStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if tm.Stop() {
		t.Error("second Stop returned true")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}
