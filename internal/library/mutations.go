package library

import (
	"context"
	"fmt"

	"github.com/zulandar/novelsync/internal/api"
	"github.com/zulandar/novelsync/internal/models"
)

// Defaults applied when the active character or persona is deleted.
const (
	DefaultCharacter = "Assistant"
	DefaultPersona   = "User"
)

// CreateOrUpdate creates or updates a private item. Every paginated type is
// invalidated on success because a save may move an item between the
// character and persona listings.
func (l *Library) CreateOrUpdate(ctx context.Context, dataType, filename string, data models.Entity, editing bool) (*models.SavedEntity, error) {
	uid, err := l.requireUser()
	if err != nil {
		return nil, err
	}
	saved, err := l.backend.SaveEntity(ctx, uid, dataType, filename, data, editing)
	if err != nil {
		name := data.DisplayName()
		if name == "" {
			name = filename
		}
		l.reporter.Set(fmt.Sprintf("save '%s' failed: %v", name, err))
		return nil, fmt.Errorf("library: save %s/%s: %w", dataType, filename, err)
	}
	for _, t := range models.DataTypes {
		l.cache.Invalidate(ctx, PagesKey(t))
	}
	return saved, nil
}

// Rename renames a private item.
func (l *Library) Rename(ctx context.Context, dataType, oldName, newName string) error {
	uid, err := l.requireUser()
	if err != nil {
		return err
	}
	if err := l.backend.RenameEntity(ctx, uid, dataType, oldName, newName); err != nil {
		l.reporter.Set(fmt.Sprintf("rename '%s' failed: %v", oldName, err))
		return fmt.Errorf("library: rename %s/%s: %w", dataType, oldName, err)
	}
	l.cache.Invalidate(ctx, PagesKey(""))
	return nil
}

// Delete removes a private item. A missing item counts as deleted. The
// listings are invalidated whatever the outcome.
func (l *Library) Delete(ctx context.Context, dataType, filename string) error {
	uid, err := l.requireUser()
	if err != nil {
		return err
	}
	err = l.backend.DeleteEntity(ctx, uid, dataType, filename)
	defer l.cache.Invalidate(ctx, PagesKey(""))
	if err != nil && !api.IsNotFound(err) {
		l.reporter.Set(fmt.Sprintf("delete '%s' failed: %v", filename, err))
		return fmt.Errorf("library: delete %s/%s: %w", dataType, filename, err)
	}
	return nil
}

// Reorder stores a display order. orderKey is the plural form used in
// display_order ("characters", "world_info").
func (l *Library) Reorder(ctx context.Context, orderKey string, order []string) error {
	uid, err := l.requireUser()
	if err != nil {
		return err
	}
	if err := l.backend.UpdateDisplayOrder(ctx, uid, orderKey, order); err != nil {
		l.reporter.Set(fmt.Sprintf("update %s order failed: %v", orderKey, err))
		return fmt.Errorf("library: reorder %s: %w", orderKey, err)
	}
	l.cache.Invalidate(ctx, PagesKey(models.SingularType(orderKey)))
	return nil
}

// HidePublic tombstones a public item for this user.
func (l *Library) HidePublic(ctx context.Context, dataType, filename string) error {
	err := l.UpdateConfig(ctx, func(c *models.UserConfig) error {
		c.AddTombstone(dataType, filename)
		return nil
	})
	if err != nil {
		return err
	}
	l.InvalidateAll(ctx)
	return nil
}

// RestorePublic removes the tombstones of the given public items.
func (l *Library) RestorePublic(ctx context.Context, dataType string, filenames ...string) error {
	ids := make([]string, len(filenames))
	for i, f := range filenames {
		ids[i] = models.TombstoneID(dataType, f)
	}
	err := l.UpdateConfig(ctx, func(c *models.UserConfig) error {
		c.RemoveTombstones(ids...)
		return nil
	})
	if err != nil {
		return err
	}
	l.InvalidateAll(ctx)
	return nil
}

// DeleteEntity deletes an item from the user's merged listing: private items
// are deleted on the server and public ones are hidden. Removing the
// active character or persona also resets it to the default.
func (l *Library) DeleteEntity(ctx context.Context, dataType, filename string) error {
	if _, err := l.requireUser(); err != nil {
		return err
	}
	item, ok := l.Lookup(dataType, filename)
	if !ok {
		return fmt.Errorf("library: delete %s/%s: not in library", dataType, filename)
	}
	reset := func(c *models.UserConfig) bool {
		switch {
		case item.Type == models.TypeCharacter && c.ActiveCharacter == filename:
			c.ActiveCharacter = DefaultCharacter
		case item.Type == models.TypePersona && c.UserPersona == filename:
			c.UserPersona = DefaultPersona
		default:
			return false
		}
		return true
	}

	if !item.Private {
		err := l.UpdateConfig(ctx, func(c *models.UserConfig) error {
			reset(c)
			c.AddTombstone(item.Type, filename)
			return nil
		})
		if err != nil {
			return err
		}
		l.InvalidateAll(ctx)
		return nil
	}

	if cfg, err := l.Config(); err == nil && reset(cfg) {
		err := l.UpdateConfig(ctx, func(c *models.UserConfig) error {
			reset(c)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return l.Delete(ctx, item.Type, filename)
}
