// Package session owns the per-character session lists, the active
// session pointer, and the cached message history of each session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/observe"
)

// DefaultSaveDelay is the history save debounce.
const DefaultSaveDelay = time.Second

// ErrAnonymous is returned by operations that need a logged-in user.
var ErrAnonymous = errors.New("session: user is not logged in")

// Backend is the subset of the REST client session state needs.
type Backend interface {
	Sessions(ctx context.Context, userID, character string) ([]models.Session, error)
	CreateSession(ctx context.Context, userID, character string) (*models.Session, error)
	History(ctx context.Context, userID, sessionID string) ([]models.ChatMessage, error)
	SaveHistory(ctx context.Context, userID, sessionID string, history []models.ChatMessage) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
	RenameSession(ctx context.Context, userID, sessionID, title string) error
	GenerateSessionTitle(ctx context.Context, userID, sessionID string) (string, error)
}

// ConfigWriter persists the active session choice.
type ConfigWriter interface {
	ActiveSessionID() string
	SetActiveSession(ctx context.Context, id string) error
}

// Reporter receives user-visible failure messages.
type Reporter interface {
	Set(msg string)
}

// Opts configures a State.
type Opts struct {
	Backend   Backend
	Config    ConfigWriter
	Reporter  Reporter
	UserID    func() string
	Clock     clock.Clock
	SaveDelay time.Duration
}

// State is the session store. Histories are cached per session id with
// no expiry; every read returns a copy.
type State struct {
	backend   Backend
	config    ConfigWriter
	reporter  Reporter
	userID    func() string
	clock     clock.Clock
	saveDelay time.Duration

	mu        sync.Mutex
	byChar    map[string][]models.Session
	character string
	active    string
	history   map[string][]models.ChatMessage
	titling   map[string]bool
	savers    map[string]*Debouncer

	hub observe.Hub
}

// New creates a State.
func New(opts Opts) (*State, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("session: backend is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("session: config writer is required")
	}
	if opts.UserID == nil {
		return nil, fmt.Errorf("session: user id func is required")
	}
	if opts.Reporter == nil {
		opts.Reporter = logReporter{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = DefaultSaveDelay
	}
	return &State{
		backend:   opts.Backend,
		config:    opts.Config,
		reporter:  opts.Reporter,
		userID:    opts.UserID,
		clock:     opts.Clock,
		saveDelay: opts.SaveDelay,
		byChar:    make(map[string][]models.Session),
		history:   make(map[string][]models.ChatMessage),
		titling:   make(map[string]bool),
		savers:    make(map[string]*Debouncer),
	}, nil
}

type logReporter struct{}

func (logReporter) Set(msg string) { log.Printf("session: %s", msg) }

// Subscribe registers fn for any state change.
func (s *State) Subscribe(fn func()) func() {
	return s.hub.Subscribe(fn)
}

func (s *State) changed() { s.hub.Notify() }

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// Character returns the character whose sessions were loaded last.
func (s *State) Character() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.character
}

// Sessions returns the loaded sessions of a character.
func (s *State) Sessions(character string) []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.byChar[character])
}

// ActiveID returns the active session id, or "".
func (s *State) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LoadSessionsForCharacter fetches a character's sessions and activates
// the recorded active session if it is in the list, else the first one,
// else a new session. Anonymous users get an empty list and no network
// call.
func (s *State) LoadSessionsForCharacter(ctx context.Context, character string) error {
	uid := s.userID()
	if config.IsAnonymous(uid) {
		s.mu.Lock()
		s.byChar[character] = []models.Session{}
		s.character = character
		s.active = ""
		s.history = make(map[string][]models.ChatMessage)
		s.mu.Unlock()
		s.changed()
		return nil
	}

	list, err := s.backend.Sessions(ctx, uid, character)
	if err != nil {
		s.reporter.Set(fmt.Sprintf("load sessions for '%s' failed: %v", character, err))
		return fmt.Errorf("session: load %s: %w", character, err)
	}
	s.mu.Lock()
	s.byChar[character] = list
	s.character = character
	s.mu.Unlock()
	s.changed()

	target := ""
	if want := s.config.ActiveSessionID(); want != "" && slices.ContainsFunc(list, func(x models.Session) bool { return x.ID == want }) {
		target = want
	} else if len(list) > 0 {
		target = list[0].ID
	}
	if target != "" {
		return s.SetActive(ctx, target)
	}
	_, err = s.CreateSession(ctx, character)
	return err
}

// SetActive switches the active session, records the choice in the user
// config, and loads the session's history if it is not cached.
func (s *State) SetActive(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.active == id {
		s.mu.Unlock()
		return nil
	}
	s.active = id
	_, cached := s.history[id]
	s.mu.Unlock()
	s.changed()

	if err := s.config.SetActiveSession(ctx, id); err != nil {
		log.Printf("session: persist active session %s: %v", id, err)
	}
	if cached {
		return nil
	}
	return s.LoadHistory(ctx, id)
}

// LoadHistory fetches a session's history and assigns local message ids.
// A failure caches an empty history.
func (s *State) LoadHistory(ctx context.Context, id string) error {
	uid := s.userID()
	if config.IsAnonymous(uid) {
		return ErrAnonymous
	}
	h, err := s.backend.History(ctx, uid, id)
	if err != nil {
		s.reporter.Set(fmt.Sprintf("load history #%s failed: %v", id, err))
		h = nil
	}
	msgs := make([]models.ChatMessage, len(h))
	for i, m := range h {
		m.ID = NewID()
		msgs[i] = m
	}
	s.mu.Lock()
	s.history[id] = msgs
	s.mu.Unlock()
	s.changed()
	if err != nil {
		return fmt.Errorf("session: load history %s: %w", id, err)
	}
	return nil
}

// CreateSession creates a session for character, puts it first in the
// list, and activates it.
func (s *State) CreateSession(ctx context.Context, character string) (*models.Session, error) {
	uid := s.userID()
	if config.IsAnonymous(uid) {
		return nil, ErrAnonymous
	}
	sess, err := s.backend.CreateSession(ctx, uid, character)
	if err != nil {
		s.reporter.Set(fmt.Sprintf("create session for '%s' failed: %v", character, err))
		return nil, fmt.Errorf("session: create for %s: %w", character, err)
	}
	s.mu.Lock()
	s.byChar[character] = append([]models.Session{*sess}, s.byChar[character]...)
	s.mu.Unlock()
	s.changed()
	if err := s.SetActive(ctx, sess.ID); err != nil {
		return sess, err
	}
	return sess, nil
}

// RenameSession retitles a session of the current character. The new
// title shows at once and is rolled back if the server rejects it.
func (s *State) RenameSession(ctx context.Context, id, title string) error {
	uid := s.userID()
	if config.IsAnonymous(uid) {
		return ErrAnonymous
	}
	s.mu.Lock()
	list := s.byChar[s.character]
	i := slices.IndexFunc(list, func(x models.Session) bool { return x.ID == id })
	if i < 0 || list[i].Title == title {
		s.mu.Unlock()
		return nil
	}
	old := list[i].Title
	list[i].Title = title
	s.mu.Unlock()
	s.changed()

	if err := s.backend.RenameSession(ctx, uid, id, title); err != nil {
		s.mu.Lock()
		if j := slices.IndexFunc(s.byChar[s.character], func(x models.Session) bool { return x.ID == id }); j >= 0 {
			s.byChar[s.character][j].Title = old
		}
		s.mu.Unlock()
		s.changed()
		s.reporter.Set(fmt.Sprintf("rename session failed: %v", err))
		return fmt.Errorf("session: rename %s: %w", id, err)
	}
	return nil
}

// GenerateTitle asks the server to title a session, then renames it.
func (s *State) GenerateTitle(ctx context.Context, id string) error {
	uid := s.userID()
	if config.IsAnonymous(uid) {
		return ErrAnonymous
	}
	s.mu.Lock()
	s.titling[id] = true
	s.mu.Unlock()
	s.changed()
	defer func() {
		s.mu.Lock()
		delete(s.titling, id)
		s.mu.Unlock()
		s.changed()
	}()

	title, err := s.backend.GenerateSessionTitle(ctx, uid, id)
	if err != nil {
		s.reporter.Set(fmt.Sprintf("generate title failed: %v", err))
		return fmt.Errorf("session: generate title %s: %w", id, err)
	}
	return s.RenameSession(ctx, id, title)
}

// IsTitleGenerating reports whether GenerateTitle is running for id.
func (s *State) IsTitleGenerating(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titling[id]
}

// DeleteSession removes a session at once and restores the list if the
// server refuses. Deleting the active session activates the next one, or
// a new one when none remain.
func (s *State) DeleteSession(ctx context.Context, character, id string) error {
	uid := s.userID()
	if config.IsAnonymous(uid) {
		return ErrAnonymous
	}
	s.mu.Lock()
	old := slices.Clone(s.byChar[character])
	i := slices.IndexFunc(old, func(x models.Session) bool { return x.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.byChar[character] = slices.Delete(slices.Clone(old), i, i+1)
	s.mu.Unlock()
	s.changed()

	if err := s.backend.DeleteSession(ctx, uid, id); err != nil {
		s.mu.Lock()
		s.byChar[character] = old
		s.mu.Unlock()
		s.changed()
		s.reporter.Set(fmt.Sprintf("delete session #%s failed: %v", id, err))
		return fmt.Errorf("session: delete %s: %w", id, err)
	}

	s.mu.Lock()
	wasActive := s.active == id
	delete(s.history, id)
	if d, ok := s.savers[id]; ok {
		d.Cancel()
		delete(s.savers, id)
	}
	remaining := s.byChar[character]
	s.mu.Unlock()

	if !wasActive {
		return nil
	}
	if len(remaining) > 0 {
		return s.SetActive(ctx, remaining[0].ID)
	}
	_, err := s.CreateSession(ctx, character)
	return err
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// Messages returns a copy of the active session's history.
func (s *State) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneHistory(s.history[s.active])
}

// History returns a copy of a session's cached history and whether it is
// cached.
func (s *State) History(sessionID string) ([]models.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[sessionID]
	return models.CloneHistory(h), ok
}

// SetHistory replaces a session's cached history.
func (s *State) SetHistory(sessionID string, h []models.ChatMessage) {
	s.mu.Lock()
	s.history[sessionID] = models.CloneHistory(h)
	s.mu.Unlock()
	s.changed()
}

// FindMessage returns a copy of a message in the active session.
func (s *State) FindMessage(id string) (models.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.history[s.active] {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return models.ChatMessage{}, false
}

// HistoryUpTo returns the active history up to and including message id.
// An unknown id yields the whole history.
func (s *State) HistoryUpTo(id string) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[s.active]
	if i := slices.IndexFunc(h, func(m models.ChatMessage) bool { return m.ID == id }); i >= 0 {
		h = h[:i+1]
	}
	return models.CloneHistory(h)
}

// AddMessage appends msg with a fresh id to the active session and
// returns the stored copy. Without an active session nothing is stored.
func (s *State) AddMessage(msg models.ChatMessage) models.ChatMessage {
	msg, _ = s.AppendTo(s.ActiveID(), msg)
	return msg
}

// AppendTo appends msg with a fresh id to a session and reports whether
// it was stored.
func (s *State) AppendTo(sessionID string, msg models.ChatMessage) (models.ChatMessage, bool) {
	msg = msg.Clone()
	msg.ID = NewID()
	if sessionID == "" {
		return msg, false
	}
	s.mu.Lock()
	s.history[sessionID] = append(s.history[sessionID], msg)
	s.mu.Unlock()
	s.changed()
	return msg.Clone(), true
}

// DeleteMessage removes a message from the active session.
func (s *State) DeleteMessage(id string) bool {
	s.mu.Lock()
	h := s.history[s.active]
	i := slices.IndexFunc(h, func(m models.ChatMessage) bool { return m.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.history[s.active] = slices.Delete(slices.Clone(h), i, i+1)
	s.mu.Unlock()
	s.changed()
	return true
}

// EditMessage writes content into the selected alternative, or into the
// primary content when none is selected. Blank content is ignored.
func (s *State) EditMessage(id, content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	return s.UpdateMessage(s.ActiveID(), id, func(m *models.ChatMessage) {
		if i := m.ActiveIndex(); i >= 0 && i < len(m.Alternatives) {
			m.Alternatives[i] = content
			return
		}
		m.Content = content
	})
}

// SetActiveAlternative selects alternative index, or the primary content
// with -1. Indexes outside the message's choices are ignored.
func (s *State) SetActiveAlternative(id string, index int) bool {
	ok := false
	s.UpdateMessage(s.ActiveID(), id, func(m *models.ChatMessage) {
		if index >= -1 && index < len(m.Alternatives) {
			m.SetActiveIndex(index)
			ok = true
		}
	})
	return ok
}

// UpdateMessage applies fn to a message of a session under the state
// lock. It reports false if the message is not found.
func (s *State) UpdateMessage(sessionID, id string, fn func(*models.ChatMessage)) bool {
	s.mu.Lock()
	h := s.history[sessionID]
	found := false
	for i := range h {
		if h[i].ID == id {
			fn(&h[i])
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.changed()
	}
	return found
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// SaveHistory schedules a debounced write of a session's history.
func (s *State) SaveHistory(sessionID string) {
	if sessionID == "" || config.IsAnonymous(s.userID()) {
		return
	}
	s.mu.Lock()
	d, ok := s.savers[sessionID]
	if !ok {
		d = NewDebouncer(s.clock, s.saveDelay, func() {
			s.SaveNow(context.Background(), sessionID)
		})
		s.savers[sessionID] = d
	}
	s.mu.Unlock()
	d.Schedule()
}

// FlushHistory runs every pending debounced write now.
func (s *State) FlushHistory() {
	s.mu.Lock()
	pending := make([]*Debouncer, 0, len(s.savers))
	for _, d := range s.savers {
		pending = append(pending, d)
	}
	s.mu.Unlock()
	for _, d := range pending {
		d.Flush()
	}
}

// SaveNow writes a session's history without local ids. A failure is
// reported but the in-memory history is kept.
func (s *State) SaveNow(ctx context.Context, sessionID string) error {
	uid := s.userID()
	if config.IsAnonymous(uid) {
		return ErrAnonymous
	}
	h, ok := s.History(sessionID)
	if !ok {
		return nil
	}
	if err := s.backend.SaveHistory(ctx, uid, sessionID, models.StripIDs(h)); err != nil {
		s.reporter.Set(fmt.Sprintf("save history failed: %v", err))
		return fmt.Errorf("session: save history %s: %w", sessionID, err)
	}
	return nil
}
