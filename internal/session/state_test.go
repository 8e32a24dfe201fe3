package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/models"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeBackend is an in-memory session server.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string][]models.Session
	history  map[string][]models.ChatMessage
	saved    map[string][]models.ChatMessage
	saves    int
	created  int
	calls    int
	title    string
	fail     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: map[string][]models.Session{},
		history:  map[string][]models.ChatMessage{},
		saved:    map[string][]models.ChatMessage{},
	}
}

func (f *fakeBackend) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fail
}

func (f *fakeBackend) Sessions(ctx context.Context, userID, character string) ([]models.Session, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Session(nil), f.sessions[character]...), nil
}

func (f *fakeBackend) CreateSession(ctx context.Context, userID, character string) (*models.Session, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	s := models.Session{ID: "new-" + character, Title: "New chat"}
	f.sessions[character] = append([]models.Session{s}, f.sessions[character]...)
	return &s, nil
}

func (f *fakeBackend) History(ctx context.Context, userID, sessionID string) ([]models.ChatMessage, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.CloneHistory(f.history[sessionID]), nil
}

func (f *fakeBackend) SaveHistory(ctx context.Context, userID, sessionID string, history []models.ChatMessage) error {
	if err := f.err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.saved[sessionID] = history
	return nil
}

func (f *fakeBackend) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return f.err()
}

func (f *fakeBackend) RenameSession(ctx context.Context, userID, sessionID, title string) error {
	return f.err()
}

func (f *fakeBackend) GenerateSessionTitle(ctx context.Context, userID, sessionID string) (string, error) {
	if err := f.err(); err != nil {
		return "", err
	}
	return f.title, nil
}

// fakeConfig records the persisted active session.
type fakeConfig struct {
	mu     sync.Mutex
	active string
	writes int
}

func (c *fakeConfig) ActiveSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *fakeConfig) SetActiveSession(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = id
	c.writes++
	return nil
}

type fakeReporter struct {
	mu   sync.Mutex
	msgs []string
}

func (r *fakeReporter) Set(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fixture struct {
	state    *State
	backend  *fakeBackend
	config   *fakeConfig
	reporter *fakeReporter
	clock    *clock.Fake
	uid      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend:  newFakeBackend(),
		config:   &fakeConfig{},
		reporter: &fakeReporter{},
		clock:    clock.NewFake(epoch),
		uid:      "u1",
	}
	st, err := New(Opts{
		Backend:  f.backend,
		Config:   f.config,
		Reporter: f.reporter,
		UserID:   func() string { return f.uid },
		Clock:    f.clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.state = st
	return f
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Opts{Config: &fakeConfig{}, UserID: func() string { return "" }}); err == nil {
		t.Error("New() without backend succeeded")
	}
	if _, err := New(Opts{Backend: newFakeBackend(), UserID: func() string { return "" }}); err == nil {
		t.Error("New() without config succeeded")
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

func TestLoad_PrefersRecordedActiveSession(t *testing.T) {
	f := newFixture(t)
	f.backend.sessions["Alice"] = []models.Session{{ID: "s1"}, {ID: "s2"}}
	f.backend.history["s2"] = []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}
	f.config.active = "s2"

	if err := f.state.LoadSessionsForCharacter(context.Background(), "Alice"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.state.ActiveID() != "s2" {
		t.Errorf("ActiveID() = %q, want s2", f.state.ActiveID())
	}
	msgs := f.state.Messages()
	if len(msgs) != 1 || msgs[0].ID == "" {
		t.Errorf("Messages() = %+v, want one message with an id", msgs)
	}
}

func TestLoad_FallsBackToFirstSession(t *testing.T) {
	f := newFixture(t)
	f.backend.sessions["Alice"] = []models.Session{{ID: "s1"}, {ID: "s2"}}
	f.config.active = "gone"
	if err := f.state.LoadSessionsForCharacter(context.Background(), "Alice"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.state.ActiveID() != "s1" {
		t.Errorf("ActiveID() = %q, want s1", f.state.ActiveID())
	}
	if f.config.active != "s1" {
		t.Errorf("persisted active = %q, want s1", f.config.active)
	}
}

func TestLoad_CreatesWhenEmpty(t *testing.T) {
	f := newFixture(t)
	if err := f.state.LoadSessionsForCharacter(context.Background(), "Bob"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.backend.created != 1 {
		t.Errorf("created = %d, want 1", f.backend.created)
	}
	if f.state.ActiveID() != "new-Bob" {
		t.Errorf("ActiveID() = %q, want new-Bob", f.state.ActiveID())
	}
	if got := f.state.Sessions("Bob"); len(got) != 1 || got[0].ID != "new-Bob" {
		t.Errorf("Sessions() = %+v", got)
	}
}

func TestLoad_AnonymousResetsWithoutNetwork(t *testing.T) {
	f := newFixture(t)
	f.uid = config.AnonymousUserID
	if err := f.state.LoadSessionsForCharacter(context.Background(), "Alice"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.backend.calls != 0 {
		t.Errorf("backend calls = %d, want 0", f.backend.calls)
	}
	if f.state.ActiveID() != "" || len(f.state.Sessions("Alice")) != 0 {
		t.Error("anonymous state not empty")
	}
}

func TestSetActive_NoopWhenActiveAndHistoryCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.state.SetActive(ctx, "s1")
	f.state.SetActive(ctx, "s1")
	if f.config.writes != 1 {
		t.Errorf("config writes = %d, want 1", f.config.writes)
	}
	f.state.SetActive(ctx, "s2")
	calls := f.backend.calls
	f.state.SetActive(ctx, "s1")
	if f.backend.calls != calls {
		t.Error("cached history refetched")
	}
}

func TestLoadHistory_FailureCachesEmpty(t *testing.T) {
	f := newFixture(t)
	f.backend.fail = errors.New("down")
	if err := f.state.SetActive(context.Background(), "s1"); err == nil {
		t.Error("SetActive succeeded with failing history load")
	}
	if h, ok := f.state.History("s1"); !ok || len(h) != 0 {
		t.Errorf("History() = %v, %v, want empty cached", h, ok)
	}
	if f.reporter.count() != 1 {
		t.Errorf("reports = %d, want 1", f.reporter.count())
	}
}

// ---------------------------------------------------------------------------
// Session CRUD
// ---------------------------------------------------------------------------

func loaded(t *testing.T, sessions ...models.Session) *fixture {
	t.Helper()
	f := newFixture(t)
	f.backend.sessions["Alice"] = sessions
	if err := f.state.LoadSessionsForCharacter(context.Background(), "Alice"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return f
}

func TestRenameSession_RollsBackOnFailure(t *testing.T) {
	f := loaded(t, models.Session{ID: "s1", Title: "Old"})
	ctx := context.Background()

	f.backend.fail = errors.New("nope")
	if err := f.state.RenameSession(ctx, "s1", "New"); err == nil {
		t.Fatal("RenameSession succeeded")
	}
	if got := f.state.Sessions("Alice")[0].Title; got != "Old" {
		t.Errorf("Title = %q, want Old after rollback", got)
	}

	f.backend.fail = nil
	if err := f.state.RenameSession(ctx, "s1", "New"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if got := f.state.Sessions("Alice")[0].Title; got != "New" {
		t.Errorf("Title = %q, want New", got)
	}
}

func TestGenerateTitle(t *testing.T) {
	f := loaded(t, models.Session{ID: "s1", Title: "Old"})
	f.backend.title = "Picnic plans"
	if err := f.state.GenerateTitle(context.Background(), "s1"); err != nil {
		t.Fatalf("GenerateTitle: %v", err)
	}
	if got := f.state.Sessions("Alice")[0].Title; got != "Picnic plans" {
		t.Errorf("Title = %q", got)
	}
	if f.state.IsTitleGenerating("s1") {
		t.Error("IsTitleGenerating still true")
	}
}

func TestDeleteSession_ActivatesNextOrCreates(t *testing.T) {
	f := loaded(t, models.Session{ID: "s1"}, models.Session{ID: "s2"})
	ctx := context.Background()

	if err := f.state.DeleteSession(ctx, "Alice", "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if f.state.ActiveID() != "s2" {
		t.Errorf("ActiveID() = %q, want s2", f.state.ActiveID())
	}
	f.backend.sessions["Alice"] = nil
	if err := f.state.DeleteSession(ctx, "Alice", "s2"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if f.state.ActiveID() != "new-Alice" {
		t.Errorf("ActiveID() = %q, want new-Alice", f.state.ActiveID())
	}
}

func TestDeleteSession_RollsBackOnFailure(t *testing.T) {
	f := loaded(t, models.Session{ID: "s1"}, models.Session{ID: "s2"})
	f.backend.fail = errors.New("nope")
	if err := f.state.DeleteSession(context.Background(), "Alice", "s2"); err == nil {
		t.Fatal("DeleteSession succeeded")
	}
	if got := f.state.Sessions("Alice"); len(got) != 2 {
		t.Errorf("Sessions() = %+v, want restored", got)
	}
}

func TestAnonymousGuards(t *testing.T) {
	f := newFixture(t)
	f.uid = ""
	ctx := context.Background()
	if _, err := f.state.CreateSession(ctx, "A"); !errors.Is(err, ErrAnonymous) {
		t.Errorf("CreateSession() error = %v", err)
	}
	if err := f.state.RenameSession(ctx, "s", "t"); !errors.Is(err, ErrAnonymous) {
		t.Errorf("RenameSession() error = %v", err)
	}
	if err := f.state.DeleteSession(ctx, "A", "s"); !errors.Is(err, ErrAnonymous) {
		t.Errorf("DeleteSession() error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func TestMessages_LocalOperations(t *testing.T) {
	f := loaded(t, models.Session{ID: "s1"})
	st := f.state

	a := st.AddMessage(models.ChatMessage{Role: models.RoleUser, Content: "one", IsComplete: true})
	b := st.AddMessage(models.ChatMessage{Role: models.RoleModel, Content: "two", Alternatives: []string{"alt"}})
	c := st.AddMessage(models.ChatMessage{Role: models.RoleUser, Content: "three"})
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q %q, want distinct non-empty", a.ID, b.ID)
	}

	if got := st.HistoryUpTo(b.ID); len(got) != 2 || got[1].ID != b.ID {
		t.Errorf("HistoryUpTo(b) = %d messages, want 2", len(got))
	}
	if got := st.HistoryUpTo("missing"); len(got) != 3 {
		t.Errorf("HistoryUpTo(missing) = %d messages, want 3", len(got))
	}

	if !st.SetActiveAlternative(b.ID, 0) {
		t.Error("SetActiveAlternative(0) = false")
	}
	if st.SetActiveAlternative(b.ID, 1) || st.SetActiveAlternative(b.ID, -2) {
		t.Error("out-of-range alternative accepted")
	}
	st.EditMessage(b.ID, "edited alt")
	m, _ := st.FindMessage(b.ID)
	if m.Alternatives[0] != "edited alt" || m.Content != "two" {
		t.Errorf("after edit: content=%q alt=%q", m.Content, m.Alternatives[0])
	}
	st.SetActiveAlternative(b.ID, -1)
	st.EditMessage(b.ID, "edited primary")
	if st.EditMessage(b.ID, "   ") {
		t.Error("blank edit accepted")
	}
	m, _ = st.FindMessage(b.ID)
	if m.Content != "edited primary" {
		t.Errorf("Content = %q, want edited primary", m.Content)
	}

	if !st.DeleteMessage(c.ID) || st.DeleteMessage(c.ID) {
		t.Error("DeleteMessage did not delete exactly once")
	}
	if len(st.Messages()) != 2 {
		t.Errorf("len(Messages()) = %d, want 2", len(st.Messages()))
	}

	// Returned copies do not alias state.
	msgs := st.Messages()
	msgs[0].Content = "mutated"
	if got, _ := st.FindMessage(a.ID); got.Content != "one" {
		t.Error("Messages() aliases internal history")
	}
}

func TestAddMessage_NoActiveSession(t *testing.T) {
	f := newFixture(t)
	m := f.state.AddMessage(models.ChatMessage{Content: "x"})
	if m.ID == "" {
		t.Error("id not assigned")
	}
	if len(f.state.Messages()) != 0 {
		t.Error("message stored without an active session")
	}
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

func TestSaveHistory_DebouncedWithoutIDs(t *testing.T) {
	f := loaded(t, models.Session{ID: "s1"})
	f.state.AddMessage(models.ChatMessage{Role: models.RoleUser, Content: "hi"})
	for i := 0; i < 5; i++ {
		f.state.SaveHistory("s1")
		f.clock.Advance(500 * time.Millisecond)
	}
	if f.backend.saves != 0 {
		t.Fatalf("saves = %d before the delay elapsed", f.backend.saves)
	}
	f.clock.Advance(500 * time.Millisecond)
	if f.backend.saves != 1 {
		t.Fatalf("saves = %d, want 1", f.backend.saves)
	}
	if got := f.backend.saved["s1"]; len(got) != 1 || got[0].ID != "" {
		t.Errorf("saved = %+v, want one message without id", got)
	}
}

func TestFlushHistory(t *testing.T) {
	f := loaded(t, models.Session{ID: "s1"})
	f.state.SaveHistory("s1")
	f.state.FlushHistory()
	if f.backend.saves != 1 {
		t.Errorf("saves = %d, want 1", f.backend.saves)
	}
	f.clock.Advance(time.Minute)
	if f.backend.saves != 1 {
		t.Errorf("saves = %d after flush, want 1", f.backend.saves)
	}
}

func TestSaveNow_FailureKeepsHistory(t *testing.T) {
	f := loaded(t, models.Session{ID: "s1"})
	f.state.AddMessage(models.ChatMessage{Content: "keep"})
	f.backend.fail = errors.New("offline")
	if err := f.state.SaveNow(context.Background(), "s1"); err == nil {
		t.Fatal("SaveNow succeeded")
	}
	if len(f.state.Messages()) != 1 {
		t.Error("history rolled back on save failure")
	}
	if f.reporter.count() == 0 {
		t.Error("save failure not reported")
	}
}
