package library

import (
	"context"
	"fmt"

	"github.com/zulandar/novelsync/internal/models"
)

// Config returns a copy of the cached user config.
func (l *Library) Config() (*models.UserConfig, error) {
	b, ok := l.CachedBootstrap()
	if !ok {
		return nil, ErrConfigNotLoaded
	}
	return b.UserConfig.Clone()
}

// UpdateConfig applies mutate to a copy of the cached config, writes the
// whole document, and invalidates the snapshot on success. A stale
// snapshot is refetched first. The cache is
// not touched when the write fails.
func (l *Library) UpdateConfig(ctx context.Context, mutate func(*models.UserConfig) error) error {
	uid, err := l.requireUser()
	if err != nil {
		return err
	}
	if _, ok := l.cache.Peek(BootstrapKey(uid)); !ok {
		return ErrConfigNotLoaded
	}
	// An invalidated snapshot may predate an earlier write.
	b, err := l.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("library: update config: %w", err)
	}
	cfg, err := b.UserConfig.Clone()
	if err != nil {
		return err
	}
	if err := mutate(cfg); err != nil {
		return err
	}
	if err := l.backend.UpdateUserConfig(ctx, uid, cfg); err != nil {
		l.reporter.Set(fmt.Sprintf("save settings failed: %v", err))
		return fmt.Errorf("library: update config: %w", err)
	}
	l.cache.Invalidate(ctx, BootstrapKey(uid))
	return nil
}

// ActiveSessionID returns the persisted active session id, or "".
func (l *Library) ActiveSessionID() string {
	b, ok := l.CachedBootstrap()
	if !ok || b.UserConfig.ActiveSessionID == nil {
		return ""
	}
	return *b.UserConfig.ActiveSessionID
}

// ActiveCharacter returns the configured active character, or "".
func (l *Library) ActiveCharacter() string {
	b, ok := l.CachedBootstrap()
	if !ok {
		return ""
	}
	return b.UserConfig.ActiveCharacter
}

// SetActiveSession persists the active session id. An empty id clears it.
func (l *Library) SetActiveSession(ctx context.Context, id string) error {
	return l.UpdateConfig(ctx, func(c *models.UserConfig) error {
		if id == "" {
			c.ActiveSessionID = nil
		} else {
			c.ActiveSessionID = &id
		}
		return nil
	})
}

// SetActiveCharacter switches the active character.
func (l *Library) SetActiveCharacter(ctx context.Context, name string) error {
	return l.UpdateConfig(ctx, func(c *models.UserConfig) error {
		c.ActiveCharacter = name
		return nil
	})
}

// SetPersona switches the user persona.
func (l *Library) SetPersona(ctx context.Context, name string) error {
	return l.UpdateConfig(ctx, func(c *models.UserConfig) error {
		c.UserPersona = name
		return nil
	})
}

// SetPreset switches the active preset.
func (l *Library) SetPreset(ctx context.Context, name string) error {
	return l.UpdateConfig(ctx, func(c *models.UserConfig) error {
		c.Preset = name
		return nil
	})
}

// CompleteOnboarding marks the first-run flow as done.
func (l *Library) CompleteOnboarding(ctx context.Context) error {
	return l.UpdateConfig(ctx, func(c *models.UserConfig) error {
		c.HasCompletedOnboarding = true
		return nil
	})
}

// patchBootstrap replaces the cached snapshot with a patched shallow copy.
func (l *Library) patchBootstrap(patch func(*models.Bootstrap)) bool {
	key := BootstrapKey(l.userID())
	if _, ok := l.cache.Peek(key); !ok {
		return false
	}
	l.cache.SetData(key, func(old any) any {
		b, ok := old.(*models.Bootstrap)
		if !ok || b == nil {
			return old
		}
		next := *b
		patch(&next)
		return &next
	})
	return true
}

// PatchUserInfo edits the cached profile in place, e.g. after an avatar
// upload. It reports false if no snapshot is cached.
func (l *Library) PatchUserInfo(fn func(*models.UserInfo)) bool {
	return l.patchBootstrap(func(b *models.Bootstrap) {
		var info models.UserInfo
		if b.UserInfo != nil {
			info = *b.UserInfo
		}
		fn(&info)
		b.UserInfo = &info
	})
}

// SetAvatar patches the cached avatar URL.
func (l *Library) SetAvatar(url string) bool {
	return l.PatchUserInfo(func(u *models.UserInfo) { u.Avatar = &url })
}

// SetVerifiedModels patches the cached model list and readiness flag.
func (l *Library) SetVerifiedModels(list []models.ModelDetails) bool {
	return l.patchBootstrap(func(b *models.Bootstrap) {
		b.SystemStatus.VerifiedModels = list
		b.SystemStatus.ModelIsReady = len(list) > 0
	})
}

// CheckModels asks the server to verify the user's models and patches the
// result into the snapshot.
func (l *Library) CheckModels(ctx context.Context) ([]models.ModelDetails, error) {
	uid, err := l.requireUser()
	if err != nil {
		return nil, err
	}
	list, err := l.backend.CheckModels(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("library: check models: %w", err)
	}
	l.SetVerifiedModels(list)
	return list, nil
}

// SetRegexRules replaces the user's regex rules.
func (l *Library) SetRegexRules(ctx context.Context, rules any) error {
	return l.UpdateConfig(ctx, func(c *models.UserConfig) error {
		return c.SetExtra("regex_rules", rules)
	})
}
