package library

import (
	"context"

	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/query"
)

func (l *Library) bootstrapFetcher(uid string) func(context.Context) (*models.Bootstrap, error) {
	return func(ctx context.Context) (*models.Bootstrap, error) {
		if config.IsAnonymous(uid) {
			return models.AnonymousBootstrap(), nil
		}
		return l.backend.Bootstrap(ctx, uid)
	}
}

// Bootstrap returns the current user's snapshot. Anonymous users get the
// fixed default snapshot without a network call.
func (l *Library) Bootstrap(ctx context.Context) (*models.Bootstrap, error) {
	uid := l.userID()
	if config.IsAnonymous(uid) {
		return models.AnonymousBootstrap(), nil
	}
	if !l.enabled() {
		return nil, ErrDisabled
	}
	return query.Fetch(ctx, l.cache, BootstrapKey(uid), l.bootstrapFetcher(uid), l.bootstrapOpts)
}

// WatchBootstrap observes the current user's snapshot so invalidations
// refetch it immediately. Call Fetch on the handle to load it.
func (l *Library) WatchBootstrap() *query.Query[*models.Bootstrap] {
	uid := l.userID()
	return query.Watch(l.cache, BootstrapKey(uid), l.bootstrapFetcher(uid), l.bootstrapOpts)
}

// CachedBootstrap returns the snapshot if one is cached, without fetching.
func (l *Library) CachedBootstrap() (*models.Bootstrap, bool) {
	uid := l.userID()
	if config.IsAnonymous(uid) {
		return models.AnonymousBootstrap(), true
	}
	return query.Peek[*models.Bootstrap](l.cache, BootstrapKey(uid))
}
