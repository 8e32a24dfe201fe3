package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
)

func newTestNotifier() (*Notifier, *clock.Fake) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(c), c
}

func TestNotifier_AutoClears(t *testing.T) {
	n, c := newTestNotifier()
	n.Set("save failed")
	if n.Current() != "save failed" {
		t.Fatalf("Current() = %q, want %q", n.Current(), "save failed")
	}
	c.Advance(4 * time.Second)
	if n.Current() != "save failed" {
		t.Error("message cleared before ttl")
	}
	c.Advance(time.Second)
	if n.Current() != "" {
		t.Errorf("Current() = %q after ttl, want empty", n.Current())
	}
}

func TestNotifier_ReplaceRestartsTTL(t *testing.T) {
	n, c := newTestNotifier()
	n.Set("first")
	c.Advance(3 * time.Second)
	n.Set("second")
	c.Advance(3 * time.Second)
	if n.Current() != "second" {
		t.Errorf("Current() = %q, want second", n.Current())
	}
	c.Advance(2 * time.Second)
	if n.Current() != "" {
		t.Errorf("Current() = %q, want empty", n.Current())
	}
}

func TestNotifier_SubscribersSeeChanges(t *testing.T) {
	n, c := newTestNotifier()
	calls := 0
	n.Subscribe(func() { calls++ })
	n.Error(errors.New("boom"))
	n.Error(nil)
	c.Advance(DefaultTTL)
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (set + clear)", calls)
	}
}

func TestNotifier_ClearExplicitly(t *testing.T) {
	n, c := newTestNotifier()
	n.Set("x")
	n.Set("")
	if n.Current() != "" {
		t.Errorf("Current() = %q, want empty", n.Current())
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}
