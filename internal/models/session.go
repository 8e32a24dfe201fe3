package models

import "slices"

// Message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Session is one conversation with a character.
type Session struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Created     string `json:"created"`
	LastUpdated string `json:"last_updated"`
}

// TokenUsage is the server's accounting for one generation.
type TokenUsage struct {
	PromptTokenCount     int `json:"prompt_token_count"`
	CandidatesTokenCount int `json:"candidates_token_count"`
	TotalTokenCount      int `json:"total_token_count"`
}

// Image task statuses attached to a message.
const (
	ImagePending       = "pending"
	ImageProcessing    = "processing"
	ImageSuccess       = "success"
	ImageFailed        = "failed"
	ImageFailedToStart = "failed-to-start"
)

// ImageTask is an inline image generation job attached to a model message.
type ImageTask struct {
	TaskID   string `json:"taskId"`
	Status   string `json:"status"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// ChatMessage is one entry of a session history. ID is assigned locally and
// never changes; it is stripped before the history is sent to the server.
type ChatMessage struct {
	ID                string      `json:"id,omitempty"`
	Role              string      `json:"role"`
	Content           string      `json:"content"`
	IsStreaming       bool        `json:"isStreaming,omitempty"`
	IsComplete        bool        `json:"isComplete,omitempty"`
	IsError           bool        `json:"isError,omitempty"`
	ErrorContent      string      `json:"errorContent,omitempty"`
	Alternatives      []string    `json:"alternatives,omitempty"`
	ActiveAlternative *int        `json:"activeAlternative,omitempty"`
	TokenUsage        *TokenUsage `json:"tokenUsage,omitempty"`
	ImageTask         *ImageTask  `json:"aigcTask,omitempty"`
}

// ActiveIndex returns the selected alternative, or -1 for primary content.
func (m *ChatMessage) ActiveIndex() int {
	if m.ActiveAlternative == nil {
		return -1
	}
	return *m.ActiveAlternative
}

// SetActiveIndex selects an alternative; -1 selects primary content.
func (m *ChatMessage) SetActiveIndex(i int) {
	m.ActiveAlternative = &i
}

// VisibleContent returns the text currently shown for the message.
func (m *ChatMessage) VisibleContent() string {
	i := m.ActiveIndex()
	if i >= 0 && i < len(m.Alternatives) {
		return m.Alternatives[i]
	}
	return m.Content
}

// Clone returns a deep copy.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	out.Alternatives = slices.Clone(m.Alternatives)
	if m.ActiveAlternative != nil {
		i := *m.ActiveAlternative
		out.ActiveAlternative = &i
	}
	if m.TokenUsage != nil {
		u := *m.TokenUsage
		out.TokenUsage = &u
	}
	if m.ImageTask != nil {
		t := *m.ImageTask
		out.ImageTask = &t
	}
	return out
}

// CloneHistory deep-copies a history.
func CloneHistory(h []ChatMessage) []ChatMessage {
	if h == nil {
		return nil
	}
	out := make([]ChatMessage, len(h))
	for i := range h {
		out[i] = h[i].Clone()
	}
	return out
}

// StripIDs returns a copy of the history without local ids, as persisted.
func StripIDs(h []ChatMessage) []ChatMessage {
	out := CloneHistory(h)
	for i := range out {
		out[i].ID = ""
	}
	return out
}
