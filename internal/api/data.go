package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/zulandar/novelsync/internal/models"
)

// PageQuery selects one page of a data listing.
type PageQuery struct {
	Page   int
	Limit  int
	SortBy string
	Search string
}

// Bootstrap fetches the aggregated per-user snapshot.
func (c *Client) Bootstrap(ctx context.Context, userID string) (*models.Bootstrap, error) {
	var out models.Bootstrap
	if err := c.do(ctx, http.MethodGet, "/bootstrap/"+seg(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPage fetches one page of the user's private items of dataType.
func (c *Client) ListPage(ctx context.Context, userID, dataType string, q PageQuery) (*models.Page, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.SortBy != "" {
		params.Set("sort_by", q.SortBy)
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	var out models.Page
	if err := c.do(ctx, http.MethodGet, "/data/"+seg(userID)+"/"+seg(dataType), params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveEntity creates an item, or updates it when editing is true. The
// server may pick a different filename than the one suggested.
func (c *Client) SaveEntity(ctx context.Context, userID, dataType, filename string, data models.Entity, editing bool) (*models.SavedEntity, error) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["_is_editing"] = editing
	var out models.SavedEntity
	path := "/data/" + seg(userID) + "/" + seg(dataType) + "/" + seg(filename)
	if err := c.do(ctx, http.MethodPost, path, nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameEntity renames an item.
func (c *Client) RenameEntity(ctx context.Context, userID, dataType, oldName, newName string) error {
	path := "/data/" + seg(userID) + "/" + seg(dataType) + "/" + seg(oldName)
	return c.do(ctx, http.MethodPatch, path, nil, map[string]string{"new_name": newName}, nil)
}

// DeleteEntity deletes a private item.
func (c *Client) DeleteEntity(ctx context.Context, userID, dataType, filename string) error {
	path := "/data/" + seg(userID) + "/" + seg(dataType) + "/" + seg(filename)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// UpdateUserConfig replaces the full settings document.
func (c *Client) UpdateUserConfig(ctx context.Context, userID string, cfg *models.UserConfig) error {
	return c.do(ctx, http.MethodPost, "/user_config/"+seg(userID), nil, cfg, nil)
}

// UpdateDisplayOrder stores the manual ordering for one display_order key.
func (c *Client) UpdateDisplayOrder(ctx context.Context, userID, orderKey string, order []string) error {
	body := map[string]any{"dataType": orderKey, "order": order}
	return c.do(ctx, http.MethodPost, "/user_config/"+seg(userID)+"/display_order", nil, body, nil)
}

// CheckModels asks the server to verify the configured API keys and
// returns the models it could reach.
func (c *Client) CheckModels(ctx context.Context, userID string) ([]models.ModelDetails, error) {
	var out struct {
		VerifiedModels []models.ModelDetails `json:"verified_models"`
	}
	if err := c.do(ctx, http.MethodPost, "/system/check_models", nil, map[string]string{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	return out.VerifiedModels, nil
}

// BrowseCommunity lists shared items.
func (c *Client) BrowseCommunity(ctx context.Context, dataType, sortBy string, page, limit int) (*models.BrowseResult, error) {
	params := url.Values{}
	params.Set("data_type", dataType)
	params.Set("sort_by", sortBy)
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))
	var out models.BrowseResult
	if err := c.do(ctx, http.MethodGet, "/community/browse", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ShareToCommunity publishes a private item.
func (c *Client) ShareToCommunity(ctx context.Context, p models.SharePayload) error {
	return c.do(ctx, http.MethodPost, "/community/share", nil, p, nil)
}

// ImportFromCommunity copies a shared item into the user's library and
// returns its new filename.
func (c *Client) ImportFromCommunity(ctx context.Context, userID string, itemID int) (string, error) {
	var out struct {
		Filename string `json:"filename"`
	}
	path := "/community/import/" + strconv.Itoa(itemID)
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"user_id": userID}, &out); err != nil {
		return "", err
	}
	return out.Filename, nil
}
