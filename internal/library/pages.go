package library

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/novelsync/internal/api"
	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/query"
)

// DefaultPageLimit is the page size used when a request leaves it unset.
const DefaultPageLimit = 20

// PageRequest selects one page of a data type.
type PageRequest struct {
	Type   string
	Page   int
	Limit  int
	Search string
}

func (r PageRequest) withDefaults() PageRequest {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Limit < 1 {
		r.Limit = DefaultPageLimit
	}
	return r
}

// PageKey returns the cache key of one page for a user.
func PageKey(userID string, r PageRequest) query.Key {
	r = r.withDefaults()
	return query.Key{PagesRoot, r.Type, userID, r.Page, r.Limit, r.Search}
}

func (l *Library) pageFetcher(uid string, r PageRequest) func(context.Context) (*models.Page, error) {
	r = r.withDefaults()
	return func(ctx context.Context) (*models.Page, error) {
		if config.IsAnonymous(uid) {
			return models.EmptyPage(r.Page), nil
		}
		page, err := l.backend.ListPage(ctx, uid, r.Type, api.PageQuery{
			Page:   r.Page,
			Limit:  r.Limit,
			SortBy: "name",
			Search: r.Search,
		})
		if err != nil {
			return nil, err
		}
		items := make([]models.Entity, len(page.Items))
		for i, it := range page.Items {
			items[i] = it.Normalize()
		}
		out := *page
		out.Items = items
		return &out, nil
	}
}

// Page returns one page of the current user's private items.
func (l *Library) Page(ctx context.Context, r PageRequest) (*models.Page, error) {
	if r.Type == "" {
		return nil, fmt.Errorf("library: page: data type is required")
	}
	uid := l.userID()
	if !config.IsAnonymous(uid) && !l.enabled() {
		return nil, ErrDisabled
	}
	return query.Fetch(ctx, l.cache, PageKey(uid, r), l.pageFetcher(uid, r), l.pageOpts)
}

// Pager is an observed, paginated listing. Moving to another page or
// search keeps the previous page visible until the new one arrives.
type Pager struct {
	lib *Library
	uid string
	q   *query.Query[*models.Page]

	mu  sync.Mutex
	req PageRequest
}

// WatchPages starts observing a listing at r.
func (l *Library) WatchPages(r PageRequest) *Pager {
	r = r.withDefaults()
	uid := l.userID()
	return &Pager{
		lib: l,
		uid: uid,
		req: r,
		q:   query.Watch(l.cache, PageKey(uid, r), l.pageFetcher(uid, r), l.pageOpts),
	}
}

// Request returns the current page request.
func (p *Pager) Request() PageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.req
}

// Load fetches the current page.
func (p *Pager) Load(ctx context.Context) (*models.Page, error) {
	return p.q.Fetch(ctx)
}

// SetPage moves to page n.
func (p *Pager) SetPage(ctx context.Context, n int) (*models.Page, error) {
	p.mu.Lock()
	p.req.Page = n
	r := p.req.withDefaults()
	p.req = r
	p.mu.Unlock()
	return p.q.SetKey(ctx, PageKey(p.uid, r), p.lib.pageFetcher(p.uid, r))
}

// SetSearch filters by term and returns to the first page.
func (p *Pager) SetSearch(ctx context.Context, term string) (*models.Page, error) {
	p.mu.Lock()
	p.req.Search = term
	p.req.Page = 1
	r := p.req
	p.mu.Unlock()
	return p.q.SetKey(ctx, PageKey(p.uid, r), p.lib.pageFetcher(p.uid, r))
}

// Data returns the page on screen, which may be the previous page while
// a new one loads.
func (p *Pager) Data() (*models.Page, bool) { return p.q.Data() }

// IsPlaceholder reports whether Data is showing the previous page.
func (p *Pager) IsPlaceholder() bool { return p.q.IsPlaceholder() }

// Err returns the last fetch error of the current page.
func (p *Pager) Err() error { return p.q.Err() }

// Subscribe registers fn for changes to the current page.
func (p *Pager) Subscribe(fn func()) func() { return p.q.Subscribe(fn) }

// Close stops observing.
func (p *Pager) Close() { p.q.Close() }
