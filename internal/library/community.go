package library

import (
	"context"
	"fmt"

	"github.com/zulandar/novelsync/internal/models"
)

// Browse lists one page of the community catalogue.
func (l *Library) Browse(ctx context.Context, dataType, sortBy string, page, limit int) (*models.BrowseResult, error) {
	res, err := l.backend.BrowseCommunity(ctx, dataType, sortBy, page, limit)
	if err != nil {
		return nil, fmt.Errorf("library: browse %s: %w", dataType, err)
	}
	return res, nil
}

// Share publishes a private item to the community.
func (l *Library) Share(ctx context.Context, dataType, filename, description string, tags []string) error {
	uid, err := l.requireUser()
	if err != nil {
		return err
	}
	err = l.backend.ShareToCommunity(ctx, models.SharePayload{
		UserID:      uid,
		DataType:    dataType,
		Filename:    filename,
		Description: description,
		Tags:        tags,
	})
	if err != nil {
		l.reporter.Set(fmt.Sprintf("share '%s' failed: %v", filename, err))
		return fmt.Errorf("library: share %s/%s: %w", dataType, filename, err)
	}
	return nil
}

// Import copies a community item into the user's library and returns its
// new filename.
func (l *Library) Import(ctx context.Context, dataType string, itemID int) (string, error) {
	uid, err := l.requireUser()
	if err != nil {
		return "", err
	}
	filename, err := l.backend.ImportFromCommunity(ctx, uid, itemID)
	if err != nil {
		l.reporter.Set(fmt.Sprintf("import failed: %v", err))
		return "", fmt.Errorf("library: import %d: %w", itemID, err)
	}
	l.cache.Invalidate(ctx, PagesKey(dataType))
	return filename, nil
}
