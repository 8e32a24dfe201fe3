// Package inspect serves a read-only view of the client state over HTTP,
// for a local UI or for debugging a running chat.
package inspect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/novelsync/internal/models"
)

// DefaultHeartbeat is the SSE keepalive interval.
const DefaultHeartbeat = 15 * time.Second

// State is the snapshot returned by /api/state and pushed over SSE.
type State struct {
	Channel       string               `json:"channel"`
	Reconnects    int                  `json:"reconnect_attempts"`
	Engine        string               `json:"engine"`
	Target        string               `json:"target,omitempty"`
	Character     string               `json:"character"`
	ActiveSession string               `json:"active_session"`
	VoiceMode     bool                 `json:"voice_mode"`
	Messages      []models.ChatMessage `json:"messages"`
}

// Opts holds configuration for the inspector.
type Opts struct {
	Addr      string
	Snapshot  func() State
	Tasks     func() []models.Task
	Error     func() string
	Watch     []func(fn func()) func()
	Heartbeat time.Duration
	Out       io.Writer
}

func (o *Opts) check() error {
	if o.Snapshot == nil {
		return fmt.Errorf("inspect: snapshot is required")
	}
	if o.Tasks == nil {
		o.Tasks = func() []models.Task { return nil }
	}
	if o.Error == nil {
		o.Error = func() string { return "" }
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	return nil
}

// NewRouter builds the inspector routes.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the inspector. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Addr == "" {
		opts.Addr = "localhost:8765"
	}
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Inspector running at http://%s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("inspect: %w", err)
	}
	return nil
}
