package api

import (
	"context"
	"net/http"

	"github.com/zulandar/novelsync/internal/models"
)

// Sessions lists a character's sessions, most recent first.
func (c *Client) Sessions(ctx context.Context, userID, character string) ([]models.Session, error) {
	var out []models.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+seg(userID)+"/"+seg(character), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession starts a new session with a character.
func (c *Client) CreateSession(ctx context.Context, userID, character string) (*models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodPost, "/session/"+seg(userID)+"/"+seg(character), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History loads a session's messages. Local ids are not part of the reply.
func (c *Client) History(ctx context.Context, userID, sessionID string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	if err := c.do(ctx, http.MethodGet, "/history/"+seg(userID)+"/"+seg(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveHistory replaces a session's messages. Callers strip local ids first.
func (c *Client) SaveHistory(ctx context.Context, userID, sessionID string, history []models.ChatMessage) error {
	if history == nil {
		history = []models.ChatMessage{}
	}
	return c.do(ctx, http.MethodPut, "/history/"+seg(userID)+"/"+seg(sessionID), nil, history, nil)
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/session/"+seg(userID)+"/"+seg(sessionID), nil, nil, nil)
}

// RenameSession sets a session title.
func (c *Client) RenameSession(ctx context.Context, userID, sessionID, title string) error {
	return c.do(ctx, http.MethodPatch, "/session/"+seg(userID)+"/"+seg(sessionID), nil, map[string]string{"title": title}, nil)
}

// GenerateSessionTitle asks the server to summarise a session into a title.
func (c *Client) GenerateSessionTitle(ctx context.Context, userID, sessionID string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	path := "/session/" + seg(userID) + "/" + seg(sessionID) + "/generate_title"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// Memories loads a character's long-term memory list.
func (c *Client) Memories(ctx context.Context, userID, character string) (*models.MemoryData, error) {
	var out models.MemoryData
	if err := c.do(ctx, http.MethodGet, "/memory/"+seg(userID)+"/"+seg(character), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMemories replaces a character's memory list.
func (c *Client) UpdateMemories(ctx context.Context, userID, character string, data *models.MemoryData) error {
	return c.do(ctx, http.MethodPut, "/memory/"+seg(userID)+"/"+seg(character), nil, data, nil)
}
