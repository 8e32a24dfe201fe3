package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"

	"github.com/zulandar/novelsync/internal/models"
)

var imageMarker = regexp.MustCompile(`<request_image prompt="(.+?)">`)

// FullPayload is the final content of a reply.
type FullPayload struct {
	FullContent  string             `json:"full_content"`
	Notification string             `json:"notification,omitempty"`
	TokenUsage   *models.TokenUsage `json:"token_usage,omitempty"`
}

// ErrorPayload is a generation failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Engine) onChunk(p json.RawMessage) {
	var text string
	if err := json.Unmarshal(p, &text); err != nil {
		log.Printf("chat: dropping chunk: %v", err)
		return
	}
	e.HandleChunk(text)
}

func (e *Engine) onFull(p json.RawMessage) {
	var full FullPayload
	if err := json.Unmarshal(p, &full); err != nil {
		log.Printf("chat: dropping full event: %v", err)
		return
	}
	e.HandleFull(full)
}

func (e *Engine) onError(p json.RawMessage) {
	var ep ErrorPayload
	if err := json.Unmarshal(p, &ep); err != nil {
		log.Printf("chat: dropping error event: %v", err)
		return
	}
	e.HandleError(ep.Code, ep.Message)
}

func (e *Engine) onMemorySuggestion(p json.RawMessage) {
	var list []string
	if err := json.Unmarshal(p, &list); err != nil {
		var frame struct {
			Suggestions []string `json:"suggestions"`
		}
		if err := json.Unmarshal(p, &frame); err != nil {
			log.Printf("chat: dropping memory suggestion: %v", err)
			return
		}
		list = frame.Suggestions
	}
	e.mu.Lock()
	e.suggestions = list
	e.mu.Unlock()
	e.hub.Notify()
}

// HandleThinking starts a reply. Without a target, a placeholder model
// message is added to the active session and becomes the target.
func (e *Engine) HandleThinking() {
	e.setStatus(StatusThinking)
	if e.currentTarget() != nil {
		return
	}
	sid := e.sessions.ActiveID()
	msg, ok := e.sessions.AppendTo(sid, models.ChatMessage{
		Role:        models.RoleModel,
		Content:     ThinkingPlaceholder,
		IsStreaming: true,
	})
	if !ok {
		return
	}
	e.mu.Lock()
	e.target = &target{sessionID: sid, messageID: msg.ID}
	e.mu.Unlock()
	e.hub.Notify()
}

// HandleChunk appends a fragment to the target's primary content, or to
// its active alternative when the target is being regenerated.
func (e *Engine) HandleChunk(text string) {
	if e.Status() != StatusStreaming {
		e.setStatus(StatusStreaming)
	}
	t := e.currentTarget()
	if t == nil {
		return
	}

	var prompt string
	e.sessions.UpdateMessage(t.sessionID, t.messageID, func(m *models.ChatMessage) {
		if m.Content == ThinkingPlaceholder {
			m.Content = ""
		}
		slot := &m.Content
		if t.alt {
			i := m.ActiveIndex()
			if i < 0 || i >= len(m.Alternatives) {
				m.Alternatives = append(m.Alternatives, "")
				i = len(m.Alternatives) - 1
				m.SetActiveIndex(i)
			}
			slot = &m.Alternatives[i]
		}
		*slot += text

		if m.ImageTask == nil {
			if match := imageMarker.FindStringSubmatch(*slot); match != nil {
				prompt = match[1]
			}
		}
	})
	if prompt != "" {
		e.startImage(t.sessionID, t.messageID, prompt)
	}
}

// HandleFull writes the final content into the target's slot, marks it
// complete, saves the history and speaks the reply in voice mode.
func (e *Engine) HandleFull(full FullPayload) {
	t := e.currentTarget()
	if t == nil {
		e.setStatus(StatusIdle)
		return
	}

	var spoken string
	found := e.sessions.UpdateMessage(t.sessionID, t.messageID, func(m *models.ChatMessage) {
		if t.alt {
			if i := m.ActiveIndex(); i >= 0 && i < len(m.Alternatives) {
				m.Alternatives[i] = full.FullContent
			}
		} else {
			m.Content = full.FullContent
		}
		m.IsStreaming = false
		m.IsComplete = true
		m.IsError = false
		if full.TokenUsage != nil {
			u := *full.TokenUsage
			m.TokenUsage = &u
		}
		spoken = m.VisibleContent()
	})
	e.clearTarget()
	e.setStatus(StatusIdle)
	e.sessions.SaveHistory(t.sessionID)

	if found && e.VoiceMode() && e.speaker != nil && spoken != "" {
		voice := e.voiceName()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.speaker.Speak(context.Background(), spoken, voice); err != nil {
				log.Printf("chat: speak: %v", err)
				e.reporter.Set(fmt.Sprintf("speech failed: %v", err))
			}
		}()
	}
}

// HandleError marks the target as failed, or adds a failed model message
// when there is no target.
func (e *Engine) HandleError(code, message string) {
	t := e.currentTarget()
	if t != nil {
		e.sessions.UpdateMessage(t.sessionID, t.messageID, func(m *models.ChatMessage) {
			m.IsStreaming = false
			m.IsComplete = false
			m.IsError = true
			m.ErrorContent = fmt.Sprintf("[%s] %s", code, message)
			if m.Content == ThinkingPlaceholder || m.Content == "" {
				m.Content = FailedContent
			}
		})
	} else {
		e.sessions.AppendTo(e.sessions.ActiveID(), models.ChatMessage{
			Role:         models.RoleModel,
			Content:      FailedContent,
			IsError:      true,
			ErrorContent: fmt.Sprintf("[%s] %s", code, message),
		})
	}
	e.clearTarget()
	e.setStatus(StatusError)
}
