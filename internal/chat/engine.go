// Package chat turns the realtime event stream into edits of the active
// session's history: one streaming target at a time, alternatives for
// regenerated replies, inline image jobs and optional voice playback.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/observe"
	"github.com/zulandar/novelsync/internal/realtime"
	"github.com/zulandar/novelsync/internal/tasks"
)

// Status is the request state of the engine.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSending   Status = "sending"
	StatusThinking  Status = "thinking"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Action is a message action sent to the server.
type Action string

const (
	ActionNew               Action = "new"
	ActionStop              Action = "stop"
	ActionContinue          Action = "continue"
	ActionRegenerate        Action = "regenerate"
	ActionRewrite           Action = "rewrite"
	ActionRegenerateOptions Action = "regenerate_options"
	ActionComplete          Action = "complete"
)

// fillsAlternative reports whether the action streams into a new
// alternative instead of the primary content.
func (a Action) fillsAlternative() bool {
	return a == ActionRegenerate || a == ActionRewrite
}

// Inbound event types.
const (
	EventThinking         = "thinking"
	EventChunk            = "chunk"
	EventFull             = "full"
	EventError            = "error"
	EventMemorySuggestion = "memory_suggestion"
)

// Placeholder and failure texts shown in messages.
const (
	ThinkingPlaceholder = "AI is thinking..."
	FailedContent       = "generation failed"
	DefaultVoice        = "zh-CN-XiaoxiaoNeural"
	DefaultImagePoll    = 5 * time.Second
)

// Sentinel errors.
var (
	ErrBusy            = errors.New("chat: a generation is already in progress")
	ErrNoActiveSession = errors.New("chat: no active session")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrNothingToRetry  = errors.New("chat: cannot retry: no user message to resend")
	ErrNotGenerating   = errors.New("chat: nothing is generating")
)

// Transport is the realtime channel.
type Transport interface {
	Send(v any) bool
	OnMessage(t string, h realtime.Handler) func()
}

// Sessions is the session state the engine edits.
type Sessions interface {
	ActiveID() string
	Messages() []models.ChatMessage
	FindMessage(id string) (models.ChatMessage, bool)
	HistoryUpTo(id string) []models.ChatMessage
	AppendTo(sessionID string, msg models.ChatMessage) (models.ChatMessage, bool)
	UpdateMessage(sessionID, id string, fn func(*models.ChatMessage)) bool
	DeleteMessage(id string) bool
	SaveHistory(sessionID string)
}

// ImageGenerator submits an image job and returns its task id.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Speaker synthesizes and plays text.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) error
}

// Reporter receives user-visible failure messages.
type Reporter interface {
	Set(msg string)
}

// Opts configures an Engine.
type Opts struct {
	Transport Transport
	Sessions  Sessions
	Reporter  Reporter
	Clock     clock.Clock

	// Optional collaborators. Without Images and Tasks image markers are
	// left as text; without Speaker voice mode is silent.
	Images    ImageGenerator
	Tasks     tasks.Fetcher
	Speaker   Speaker
	Voice     func() string
	ImagePoll time.Duration
}

type target struct {
	sessionID string
	messageID string
	alt       bool
}

// Engine is the chat stream state machine. Events are expected on one
// goroutine in arrival order; public methods are safe to call from any
// goroutine.
type Engine struct {
	transport Transport
	sessions  Sessions
	reporter  Reporter
	clock     clock.Clock
	images    ImageGenerator
	tasks     tasks.Fetcher
	speaker   Speaker
	voiceName func() string
	imagePoll time.Duration

	mu          sync.Mutex
	status      Status
	startedAt   time.Time
	target      *target
	voice       bool
	suggestions []string
	imageJobs   map[string]bool
	unsubscribe []func()

	wg  sync.WaitGroup
	hub observe.Hub
}

// New creates an Engine.
func New(opts Opts) (*Engine, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("chat: transport is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("chat: sessions are required")
	}
	if opts.Reporter == nil {
		return nil, fmt.Errorf("chat: reporter is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.ImagePoll <= 0 {
		opts.ImagePoll = DefaultImagePoll
	}
	if opts.Voice == nil {
		opts.Voice = func() string { return DefaultVoice }
	}
	return &Engine{
		transport: opts.Transport,
		sessions:  opts.Sessions,
		reporter:  opts.Reporter,
		clock:     opts.Clock,
		images:    opts.Images,
		tasks:     opts.Tasks,
		speaker:   opts.Speaker,
		voiceName: opts.Voice,
		imagePoll: opts.ImagePoll,
		status:    StatusIdle,
		imageJobs: make(map[string]bool),
	}, nil
}

// Attach registers the event handlers on the transport, replacing any
// earlier registration.
func (e *Engine) Attach() {
	e.Detach()
	offs := []func(){
		e.transport.OnMessage(EventThinking, func(json.RawMessage) { e.HandleThinking() }),
		e.transport.OnMessage(EventChunk, e.onChunk),
		e.transport.OnMessage(EventFull, e.onFull),
		e.transport.OnMessage(EventError, e.onError),
		e.transport.OnMessage(EventMemorySuggestion, e.onMemorySuggestion),
	}
	e.mu.Lock()
	e.unsubscribe = offs
	e.mu.Unlock()
}

// Detach removes the event handlers.
func (e *Engine) Detach() {
	e.mu.Lock()
	offs := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Wait blocks until background image submissions and speech finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Subscribe registers fn for engine state changes.
func (e *Engine) Subscribe(fn func()) func() {
	return e.hub.Subscribe(fn)
}

// Status returns the request state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// StartedAt returns when the current request started; zero when idle.
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// Target returns the id of the message receiving the stream, or "".
func (e *Engine) Target() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.target == nil {
		return ""
	}
	return e.target.messageID
}

// VoiceMode reports whether finished replies are spoken.
func (e *Engine) VoiceMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voice
}

// SetVoiceMode turns spoken replies on or off.
func (e *Engine) SetVoiceMode(on bool) {
	e.mu.Lock()
	e.voice = on
	e.mu.Unlock()
	e.hub.Notify()
}

// MemorySuggestions returns the last suggested memory entries.
func (e *Engine) MemorySuggestions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.suggestions...)
}

// ClearMemorySuggestions drops the suggestions.
func (e *Engine) ClearMemorySuggestions() {
	e.mu.Lock()
	e.suggestions = nil
	e.mu.Unlock()
	e.hub.Notify()
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	if s == StatusIdle || s == StatusError {
		e.startedAt = time.Time{}
	}
	e.mu.Unlock()
	e.hub.Notify()
}

// begin moves idle or error to sending and reports whether it did.
func (e *Engine) begin(t *target) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusIdle && e.status != StatusError {
		return false
	}
	e.status = StatusSending
	e.startedAt = e.clock.Now()
	e.target = t
	return true
}

func (e *Engine) currentTarget() *target {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.target == nil {
		return nil
	}
	t := *e.target
	return &t
}

func (e *Engine) clearTarget() {
	e.mu.Lock()
	e.target = nil
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

type newFrame struct {
	Message   string `json:"message"`
	Action    Action `json:"action"`
	SessionID string `json:"session_id"`
}

type stopFrame struct {
	Action    Action `json:"action"`
	SessionID string `json:"session_id"`
}

type targetMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	IsComplete bool   `json:"isComplete"`
}

type actionFrame struct {
	Action        Action               `json:"action"`
	SessionID     string               `json:"session_id"`
	History       []models.ChatMessage `json:"history"`
	TargetMessage targetMessage        `json:"target_message"`
}

// Send appends a user message to the active session and asks for a
// reply. It fails with ErrBusy unless the engine is idle or errored.
func (e *Engine) Send(text string) error {
	sid := e.sessions.ActiveID()
	if sid == "" {
		return ErrNoActiveSession
	}
	if !e.begin(nil) {
		return ErrBusy
	}
	e.hub.Notify()

	if strings.TrimSpace(text) != "" {
		e.sessions.AppendTo(sid, models.ChatMessage{Role: models.RoleUser, Content: text, IsComplete: true})
		e.sessions.SaveHistory(sid)
	}
	e.transmit(sid, ActionNew, newFrame{Message: text, Action: ActionNew, SessionID: sid})
	return nil
}

// transmit sends frame, turning a dropped frame into an error event.
func (e *Engine) transmit(sid string, action Action, frame any) {
	if e.transport.Send(frame) {
		return
	}
	e.HandleError("SEND_FAILED", fmt.Sprintf("action '%s' failed: not connected", action))
}

// PerformMessageAction regenerates, rewrites, continues or completes a
// message. The server gets the history before the message and the
// message itself. Regenerate and rewrite stream into a new alternative.
func (e *Engine) PerformMessageAction(id string, action Action) error {
	sid := e.sessions.ActiveID()
	if sid == "" {
		return ErrNoActiveSession
	}
	msg, ok := e.sessions.FindMessage(id)
	if !ok {
		return ErrMessageNotFound
	}
	history := e.sessions.HistoryUpTo(id)
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	if !e.begin(&target{sessionID: sid, messageID: id, alt: action.fillsAlternative()}) {
		return ErrBusy
	}
	e.hub.Notify()

	e.sessions.UpdateMessage(sid, id, func(m *models.ChatMessage) {
		switch {
		case action.fillsAlternative():
			m.Alternatives = append(m.Alternatives, "")
			m.SetActiveIndex(len(m.Alternatives) - 1)
		case action == ActionContinue:
			m.Content += " "
		}
		m.IsStreaming = true
		m.IsComplete = false
		m.IsError = false
	})

	e.transmit(sid, action, actionFrame{
		Action:        action,
		SessionID:     sid,
		History:       models.StripIDs(history),
		TargetMessage: targetMessage{Role: msg.Role, Content: msg.Content, IsComplete: msg.IsComplete},
	})
	return nil
}

// Continue asks the server to extend a message.
func (e *Engine) Continue(id string) error { return e.PerformMessageAction(id, ActionContinue) }

// Regenerate streams a fresh reply into a new alternative.
func (e *Engine) Regenerate(id string) error { return e.PerformMessageAction(id, ActionRegenerate) }

// Rewrite streams a rewritten reply into a new alternative.
func (e *Engine) Rewrite(id string) error { return e.PerformMessageAction(id, ActionRewrite) }

// RegenerateOptions asks for reply options for a message.
func (e *Engine) RegenerateOptions(id string) error {
	return e.PerformMessageAction(id, ActionRegenerateOptions)
}

// Complete asks the server to finish an incomplete message.
func (e *Engine) Complete(id string) error { return e.PerformMessageAction(id, ActionComplete) }

// Stop asks the server to stop generating. Local state changes only when
// the server answers with a full or error event.
func (e *Engine) Stop() error {
	st := e.Status()
	if st != StatusThinking && st != StatusStreaming {
		return ErrNotGenerating
	}
	sid := e.sessions.ActiveID()
	if !e.transport.Send(stopFrame{Action: ActionStop, SessionID: sid}) {
		return fmt.Errorf("chat: stop: not connected")
	}
	return nil
}

// Retry removes a failed message and asks again for a reply to the last
// user message, which is kept as is.
func (e *Engine) Retry(failedID string) error {
	sid := e.sessions.ActiveID()
	if sid == "" {
		return ErrNoActiveSession
	}
	if st := e.Status(); st != StatusIdle && st != StatusError {
		return ErrBusy
	}
	if e.sessions.DeleteMessage(failedID) {
		e.sessions.SaveHistory(sid)
	}
	msgs := e.sessions.Messages()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != models.RoleUser {
		e.reporter.Set(ErrNothingToRetry.Error())
		return ErrNothingToRetry
	}
	if !e.begin(nil) {
		return ErrBusy
	}
	e.hub.Notify()
	last := msgs[len(msgs)-1]
	e.transmit(sid, ActionNew, newFrame{Message: last.Content, Action: ActionNew, SessionID: sid})
	return nil
}
