package session

import (
	"testing"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
)

func TestDebouncer_Coalesces(t *testing.T) {
	clk := clock.NewFake(epoch)
	n := 0
	d := NewDebouncer(clk, time.Second, func() { n++ })
	for i := 0; i < 10; i++ {
		d.Schedule()
		clk.Advance(100 * time.Millisecond)
	}
	clk.Advance(time.Second)
	if n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestDebouncer_FlushAndCancel(t *testing.T) {
	clk := clock.NewFake(epoch)
	n := 0
	d := NewDebouncer(clk, time.Second, func() { n++ })
	if d.Flush() {
		t.Error("Flush() = true with nothing pending")
	}
	d.Schedule()
	if !d.Pending() {
		t.Error("Pending() = false after Schedule")
	}
	if !d.Flush() || n != 1 {
		t.Errorf("Flush ran %d times, want 1", n)
	}
	d.Schedule()
	if !d.Cancel() {
		t.Error("Cancel() = false with a pending call")
	}
	clk.Advance(time.Minute)
	if n != 1 {
		t.Errorf("runs = %d after cancel, want 1", n)
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
