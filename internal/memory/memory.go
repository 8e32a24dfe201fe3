// Package memory caches each character's long-term memory list and writes
// edits back optimistically.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/observe"
)

// ErrAnonymous is returned when nobody is logged in.
var ErrAnonymous = errors.New("memory: user is not logged in")

// Backend is the subset of the REST client the store needs.
type Backend interface {
	Memories(ctx context.Context, userID, character string) (*models.MemoryData, error)
	UpdateMemories(ctx context.Context, userID, character string, data *models.MemoryData) error
}

// Reporter receives user-visible messages.
type Reporter interface {
	Set(msg string)
}

// Store holds memories per character.
type Store struct {
	backend  Backend
	reporter Reporter
	userID   func() string

	mu   sync.Mutex
	data map[string]models.MemoryData
	hub  observe.Hub
}

// New creates a Store.
func New(backend Backend, reporter Reporter, userID func() string) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("memory: backend is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("memory: reporter is required")
	}
	if userID == nil {
		return nil, fmt.Errorf("memory: user id func is required")
	}
	return &Store{
		backend:  backend,
		reporter: reporter,
		userID:   userID,
		data:     make(map[string]models.MemoryData),
	}, nil
}

// Subscribe registers fn for changes.
func (s *Store) Subscribe(fn func()) func() {
	return s.hub.Subscribe(fn)
}

// Cached returns the cached memories of a character.
func (s *Store) Cached(character string) (models.MemoryData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[character]
	return clone(d), ok
}

func clone(d models.MemoryData) models.MemoryData {
	return models.MemoryData{Entries: slices.Clone(d.Entries)}
}

func (s *Store) put(character string, d models.MemoryData) {
	s.mu.Lock()
	s.data[character] = clone(d)
	s.mu.Unlock()
	s.hub.Notify()
}

// Get returns a character's memories, fetching them on first use. A
// failed fetch caches an empty list.
func (s *Store) Get(ctx context.Context, character string) (models.MemoryData, error) {
	if d, ok := s.Cached(character); ok {
		return d, nil
	}
	uid := s.userID()
	if config.IsAnonymous(uid) {
		return models.MemoryData{}, ErrAnonymous
	}
	d, err := s.backend.Memories(ctx, uid, character)
	if err != nil {
		s.reporter.Set(fmt.Sprintf("load memories for '%s' failed: %v", character, err))
		s.put(character, models.MemoryData{Entries: []string{}})
		return models.MemoryData{}, fmt.Errorf("memory: get %s: %w", character, err)
	}
	s.put(character, *d)
	return clone(*d), nil
}

// Update replaces a character's memories. The new list shows at once and
// is rolled back if the write fails.
func (s *Store) Update(ctx context.Context, character string, d models.MemoryData) error {
	uid := s.userID()
	if config.IsAnonymous(uid) {
		return ErrAnonymous
	}
	old, _ := s.Cached(character)
	s.put(character, d)

	payload := clone(d)
	if err := s.backend.UpdateMemories(ctx, uid, character, &payload); err != nil {
		s.put(character, old)
		s.reporter.Set(fmt.Sprintf("save memories for '%s' failed: %v", character, err))
		return fmt.Errorf("memory: update %s: %w", character, err)
	}
	s.reporter.Set("memories saved")
	return nil
}

// Accept appends suggested entries that are not already present.
func (s *Store) Accept(ctx context.Context, character string, suggestions []string) error {
	cur, err := s.Get(ctx, character)
	if err != nil {
		return err
	}
	added := false
	for _, e := range suggestions {
		if e != "" && !slices.Contains(cur.Entries, e) {
			cur.Entries = append(cur.Entries, e)
			added = true
		}
	}
	if !added {
		return nil
	}
	return s.Update(ctx, character, cur)
}
