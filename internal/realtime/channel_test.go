package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/config"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestChannel(t *testing.T, uid string) (*Channel, *MockDialer, *clock.Fake) {
	t.Helper()
	d := NewMockDialer()
	clk := clock.NewFake(epoch)
	ch, err := New(Opts{
		BaseURL: "ws://localhost:8000/",
		Dialer:  d,
		Clock:   clk,
		UserID:  func() string { return uid },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ch, d, clk
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	uid := func() string { return "u" }
	tests := []struct {
		name string
		opts Opts
		want string
	}{
		{"dialer", Opts{BaseURL: "ws://x", UserID: uid}, "dialer is required"},
		{"user", Opts{BaseURL: "ws://x", Dialer: NewMockDialer()}, "user id func is required"},
		{"url", Opts{Dialer: NewMockDialer(), UserID: uid}, "base url is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("New() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempts, DefaultMaxBackoff); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func TestConnect_AnonymousIsNoop(t *testing.T) {
	ch, d, _ := newTestChannel(t, config.AnonymousUserID)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if d.Dials() != 0 {
		t.Errorf("dials = %d, want 0", d.Dials())
	}
	if ch.Status() != StatusDisconnected {
		t.Errorf("Status() = %s, want disconnected", ch.Status())
	}
}

func TestConnect_OpensAndResetsAttempts(t *testing.T) {
	ch, d, clk := newTestChannel(t, "user 1")
	d.SetFail(errors.New("refused"))
	if err := ch.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded with failing dialer")
	}
	if ch.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", ch.Attempts())
	}

	d.SetFail(nil)
	clk.Advance(time.Second)
	if ch.Status() != StatusConnected {
		t.Fatalf("Status() = %s, want connected", ch.Status())
	}
	if ch.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0 after open", ch.Attempts())
	}
	if got := d.URLs()[0]; got != "ws://localhost:8000/api/ws/user%201" {
		t.Errorf("url = %q", got)
	}
	ch.Disconnect()
}

func TestReconnect_ExponentialBackoffCapped(t *testing.T) {
	ch, d, clk := newTestChannel(t, "u1")
	d.SetFail(errors.New("refused"))
	ch.Connect(context.Background())

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		delay, ok := clk.NextDelay()
		if !ok {
			t.Fatalf("close %d: no reconnect scheduled", i+1)
		}
		if delay != w*time.Second {
			t.Errorf("close %d: delay = %s, want %s", i+1, delay, w*time.Second)
		}
		clk.Advance(delay)
	}
	if d.Dials() != len(want)+1 {
		t.Errorf("dials = %d, want %d", d.Dials(), len(want)+1)
	}

	ch.Disconnect()
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d after Disconnect, want 0", clk.Pending())
	}
	clk.Advance(time.Hour)
	if d.Dials() != len(want)+1 {
		t.Error("reconnected after manual disconnect")
	}
}

func TestUnexpectedClose_SchedulesReconnect(t *testing.T) {
	ch, d, clk := newTestChannel(t, "u1")
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	d.Last().Close()
	waitFor(t, "disconnect", func() bool { return ch.Status() == StatusDisconnected })

	if delay, ok := clk.NextDelay(); !ok || delay != time.Second {
		t.Fatalf("NextDelay() = %s, %v, want 1s", delay, ok)
	}
	clk.Advance(time.Second)
	if ch.Status() != StatusConnected || d.Dials() != 2 {
		t.Errorf("Status() = %s, dials = %d, want connected after 2 dials", ch.Status(), d.Dials())
	}
	ch.Disconnect()
}

func TestDisconnect_ClosesWithoutReconnect(t *testing.T) {
	ch, d, clk := newTestChannel(t, "u1")
	ch.Connect(context.Background())
	conn := d.Last()

	var changes int
	ch.Subscribe(func() { changes++ })
	ch.Disconnect()
	if !conn.Closed() {
		t.Error("conn not closed")
	}
	if changes == 0 {
		t.Error("no status notification")
	}
	time.Sleep(10 * time.Millisecond)
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func TestDispatch_InOrderByType(t *testing.T) {
	ch, d, _ := newTestChannel(t, "u1")
	ch.Connect(context.Background())
	defer ch.Disconnect()

	got := make(chan string, 10)
	ch.OnMessage("chunk", func(p json.RawMessage) {
		var s string
		json.Unmarshal(p, &s)
		got <- s
	})
	other := make(chan struct{}, 1)
	ch.OnMessage("full", func(json.RawMessage) { other <- struct{}{} })

	conn := d.Last()
	conn.Inject([]byte("not json"))
	conn.InjectFrame(TypePong, nil)
	conn.InjectFrame("chunk", "a")
	conn.InjectFrame("chunk", "b")
	conn.InjectFrame("chunk", "c")

	var seq []string
	for i := 0; i < 3; i++ {
		select {
		case s := <-got:
			seq = append(seq, s)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for chunks")
		}
	}
	if strings.Join(seq, "") != "abc" {
		t.Errorf("chunks = %v, want a b c", seq)
	}
	select {
	case <-other:
		t.Error("full handler called for chunk frames")
	default:
	}
	if ch.Status() != StatusConnected {
		t.Error("malformed frame closed the connection")
	}
}

func TestDispatch_NoPayloadDeliversWholeFrame(t *testing.T) {
	ch, d, _ := newTestChannel(t, "u1")
	ch.Connect(context.Background())
	defer ch.Disconnect()

	got := make(chan json.RawMessage, 1)
	ch.OnMessage("memory_suggestion", func(p json.RawMessage) { got <- p })
	d.Last().Inject([]byte(`{"type":"memory_suggestion","suggestions":["x"]}`))

	select {
	case p := <-got:
		if !strings.Contains(string(p), `"suggestions"`) {
			t.Errorf("payload = %s, want whole frame", p)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestPing_AnsweredWithPong(t *testing.T) {
	ch, d, _ := newTestChannel(t, "u1")
	ch.Connect(context.Background())
	defer ch.Disconnect()

	called := make(chan struct{}, 1)
	ch.OnMessage(TypePing, func(json.RawMessage) { called <- struct{}{} })
	conn := d.Last()
	conn.InjectFrame(TypePing, nil)

	waitFor(t, "pong", func() bool { return len(conn.Sent()) == 1 })
	if got := string(conn.Sent()[0]); got != `{"type":"pong"}` {
		t.Errorf("sent = %s, want pong", got)
	}
	select {
	case <-called:
		t.Error("ping dispatched to handlers")
	default:
	}
}

func TestOnMessage_Unsubscribe(t *testing.T) {
	ch, d, _ := newTestChannel(t, "u1")
	ch.Connect(context.Background())
	defer ch.Disconnect()

	first := make(chan struct{}, 4)
	second := make(chan struct{}, 4)
	off := ch.OnMessage("full", func(json.RawMessage) { first <- struct{}{} })
	ch.OnMessage("full", func(json.RawMessage) { second <- struct{}{} })
	off()
	off()

	d.Last().InjectFrame("full", map[string]string{"full_content": "x"})
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("remaining handler not called")
	}
	if len(first) != 0 {
		t.Error("unsubscribed handler called")
	}
}

func TestSend_DroppedWhenDisconnected(t *testing.T) {
	ch, d, _ := newTestChannel(t, "u1")
	if ch.Send(map[string]string{"action": "stop"}) {
		t.Error("Send() = true while disconnected")
	}
	ch.Connect(context.Background())
	defer ch.Disconnect()
	if !ch.Send(map[string]string{"action": "stop", "session_id": "s1"}) {
		t.Fatal("Send() = false while connected")
	}
	sent := d.Last().Sent()
	if len(sent) != 1 || !strings.Contains(string(sent[0]), `"action":"stop"`) {
		t.Errorf("sent = %q", sent)
	}
}
