// Package library serves the user's data through the query cache: the
// bootstrap snapshot, paginated entity lists, the merged private+public
// views, and every write that must invalidate them.
package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/novelsync/internal/api"
	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/query"
)

// Cache key roots.
const (
	BootstrapRoot = "bootstrapData"
	PagesRoot     = "paginatedData"
)

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("library: user is not logged in")
	ErrDisabled        = errors.New("library: queries are disabled")
	ErrConfigNotLoaded = errors.New("library: user config not loaded")
)

// Backend is the subset of the REST client the library needs.
type Backend interface {
	Bootstrap(ctx context.Context, userID string) (*models.Bootstrap, error)
	ListPage(ctx context.Context, userID, dataType string, q api.PageQuery) (*models.Page, error)
	SaveEntity(ctx context.Context, userID, dataType, filename string, data models.Entity, editing bool) (*models.SavedEntity, error)
	RenameEntity(ctx context.Context, userID, dataType, oldName, newName string) error
	DeleteEntity(ctx context.Context, userID, dataType, filename string) error
	UpdateUserConfig(ctx context.Context, userID string, cfg *models.UserConfig) error
	UpdateDisplayOrder(ctx context.Context, userID, orderKey string, order []string) error
	CheckModels(ctx context.Context, userID string) ([]models.ModelDetails, error)
	BrowseCommunity(ctx context.Context, dataType, sortBy string, page, limit int) (*models.BrowseResult, error)
	ShareToCommunity(ctx context.Context, p models.SharePayload) error
	ImportFromCommunity(ctx context.Context, userID string, itemID int) (string, error)
}

// Reporter receives user-visible failure messages.
type Reporter interface {
	Set(msg string)
}

// Opts configures a Library.
type Opts struct {
	Cache    *query.Cache
	Backend  Backend
	Reporter Reporter
	// UserID returns the current user id; "" or the anonymous id mean
	// nobody is logged in.
	UserID func() string
	// Enabled gates network queries, e.g. off while running headless
	// against a snapshot. Nil means always enabled.
	Enabled func() bool

	BootstrapStale time.Duration
	PageStale      time.Duration
	GCTime         time.Duration
}

// Library is the data-access service over the query cache.
type Library struct {
	cache    *query.Cache
	backend  Backend
	reporter Reporter
	userID   func() string
	enabled  func() bool

	bootstrapOpts query.Options
	pageOpts      query.Options
}

// New creates a Library.
func New(opts Opts) (*Library, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("library: cache is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("library: backend is required")
	}
	if opts.UserID == nil {
		return nil, fmt.Errorf("library: user id func is required")
	}
	if opts.Reporter == nil {
		opts.Reporter = discard{}
	}
	if opts.Enabled == nil {
		opts.Enabled = func() bool { return true }
	}
	if opts.BootstrapStale == 0 {
		opts.BootstrapStale = 5 * time.Minute
	}
	if opts.PageStale == 0 {
		opts.PageStale = time.Minute
	}
	if opts.GCTime == 0 {
		opts.GCTime = 10 * time.Minute
	}
	return &Library{
		cache:         opts.Cache,
		backend:       opts.Backend,
		reporter:      opts.Reporter,
		userID:        opts.UserID,
		enabled:       opts.Enabled,
		bootstrapOpts: query.Options{StaleTime: opts.BootstrapStale, GCTime: opts.GCTime},
		pageOpts:      query.Options{StaleTime: opts.PageStale, GCTime: opts.GCTime},
	}, nil
}

type discard struct{}

func (discard) Set(string) {}

// Cache returns the underlying query cache.
func (l *Library) Cache() *query.Cache { return l.cache }

// UserID returns the current user id.
func (l *Library) UserID() string { return l.userID() }

// requireUser fails fast for anonymous users, before any network call.
func (l *Library) requireUser() (string, error) {
	uid := l.userID()
	if config.IsAnonymous(uid) {
		return "", ErrUnauthenticated
	}
	return uid, nil
}

// BootstrapKey returns the cache key of a user's snapshot.
func BootstrapKey(userID string) query.Key {
	return query.Key{BootstrapRoot, userID}
}

// PagesKey returns the invalidation prefix for one data type, or for all
// paginated data when dataType is empty.
func PagesKey(dataType string) query.Key {
	if dataType == "" {
		return query.Key{PagesRoot}
	}
	return query.Key{PagesRoot, dataType}
}

// InvalidateAll marks the bootstrap snapshot and every page stale.
func (l *Library) InvalidateAll(ctx context.Context) {
	l.cache.Invalidate(ctx, query.Key{BootstrapRoot})
	l.cache.Invalidate(ctx, query.Key{PagesRoot})
}
