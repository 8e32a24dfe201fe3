// Package app builds and wires the client services from a Config.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/zulandar/novelsync/internal/api"
	"github.com/zulandar/novelsync/internal/chat"
	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/config"
	"github.com/zulandar/novelsync/internal/db"
	"github.com/zulandar/novelsync/internal/inspect"
	"github.com/zulandar/novelsync/internal/library"
	"github.com/zulandar/novelsync/internal/memory"
	"github.com/zulandar/novelsync/internal/notify"
	"github.com/zulandar/novelsync/internal/query"
	"github.com/zulandar/novelsync/internal/realtime"
	"github.com/zulandar/novelsync/internal/session"
	"github.com/zulandar/novelsync/internal/settings"
	"github.com/zulandar/novelsync/internal/tasks"
	"gorm.io/gorm"
)

// Opts configures New. Only Config is required.
type Opts struct {
	Config *config.Config
	Clock  clock.Clock
	// Dialer overrides the websocket dialer; used by tests.
	Dialer realtime.Dialer
	// HTTPClient overrides the REST transport; used by tests.
	HTTPClient *http.Client
	// Player enables spoken replies. Nil leaves voice mode silent.
	Player chat.Player
}

// App holds every service of one running client.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Settings *settings.Store
	API      *api.Client
	Cache    *query.Cache
	Notifier *notify.Notifier
	Library  *library.Library
	Channel  *realtime.Channel
	Tasks    *tasks.Poller
	Sessions *session.State
	Memory   *memory.Store
	Chat     *chat.Engine

	clock    clock.Clock
	userID   string
	schedule cron.Schedule

	mu      sync.Mutex
	refresh clock.Timer
	closed  bool
}

// New opens the settings database, resolves the user and constructs
// every service. Nothing touches the network until Start.
func New(opts Opts) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	schedule, err := cfg.RefreshSchedule()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	gdb, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{Config: cfg, DB: gdb, clock: opts.Clock, schedule: schedule}
	if err := a.build(opts); err != nil {
		db.Close(gdb)
		return nil, err
	}
	return a, nil
}

func (a *App) build(opts Opts) error {
	cfg := a.Config
	var err error

	if a.Settings, err = settings.New(a.DB); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if a.userID, err = ResolveUserID(cfg, a.Settings); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	uid := a.UserID

	a.API, err = api.New(api.Options{
		BaseURL:    cfg.API.BaseURL,
		Token:      cfg.API.Token,
		Timeout:    timeout(cfg),
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.Cache = query.New(query.Options{
		StaleTime: cfg.StaleTime(),
		GCTime:    cfg.GCTime(),
		Retry:     cfg.Cache.Retry,
	}, a.clock)
	a.Notifier = notify.New(a.clock)

	a.Library, err = library.New(library.Opts{
		Cache:          a.Cache,
		Backend:        a.API,
		Reporter:       a.Notifier,
		UserID:         uid,
		BootstrapStale: cfg.StaleTime(),
		PageStale:      cfg.PageStaleTime(),
		GCTime:         cfg.GCTime(),
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocketDialer(cfg.API.Token)
	}
	a.Channel, err = realtime.New(realtime.Opts{
		BaseURL:    cfg.API.WSBase,
		Dialer:     dialer,
		Clock:      a.clock,
		UserID:     uid,
		MaxBackoff: cfg.MaxBackoff(),
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.Tasks, err = tasks.New(tasks.Opts{
		Fetcher:     a.API,
		Invalidator: a.Library,
		Clock:       a.clock,
		Interval:    seconds(cfg.Tasks.PollSec),
		Grace:       seconds(cfg.Tasks.GraceSec),
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.Sessions, err = session.New(session.Opts{
		Backend:   a.API,
		Config:    a.Library,
		Reporter:  a.Notifier,
		UserID:    uid,
		Clock:     a.clock,
		SaveDelay: cfg.SaveDebounce(),
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	if a.Memory, err = memory.New(a.API, a.Notifier, uid); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	engineOpts := chat.Opts{
		Transport: a.Channel,
		Sessions:  a.Sessions,
		Reporter:  a.Notifier,
		Clock:     a.clock,
		Images:    imageGenerator{client: a.API, userID: uid},
		Tasks:     a.API,
		Voice:     a.voiceName,
		ImagePoll: cfg.ImagePoll(),
	}
	if opts.Player != nil {
		engineOpts.Speaker = &chat.TTSSpeaker{
			Synth:  a.API,
			Tasks:  a.API,
			Player: opts.Player,
			UserID: uid,
			Clock:  a.clock,
		}
	}
	if a.Chat, err = chat.New(engineOpts); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	voice := cfg.Chat.VoiceMode
	if stored, err := a.Settings.VoiceMode(); err == nil && stored {
		voice = true
	}
	a.Chat.SetVoiceMode(voice)
	return nil
}

// ResolveUserID returns the configured user id, then the id stored by
// login, then the anonymous id.
func ResolveUserID(cfg *config.Config, store *settings.Store) (string, error) {
	if cfg.User.ID != "" {
		return cfg.User.ID, nil
	}
	id, err := store.UserID()
	if err != nil {
		return "", err
	}
	if id == "" {
		return config.AnonymousUserID, nil
	}
	return id, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func timeout(cfg *config.Config) time.Duration { return seconds(cfg.API.TimeoutSec) }

func websocketDialer(token string) realtime.WebsocketDialer {
	d := realtime.WebsocketDialer{Dialer: websocket.DefaultDialer}
	if token != "" {
		d.Header = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	return d
}

// UserID returns the current user id.
func (a *App) UserID() string { return a.userID }

// voiceName returns the character voice from the user's TTS assignments.
func (a *App) voiceName() string {
	cfg, err := a.Library.Config()
	if err != nil {
		return chat.DefaultVoice
	}
	var voices map[string]string
	if raw, ok := cfg.Extra["tts_voice_assignments"]; ok && json.Unmarshal(raw, &voices) == nil {
		if v := voices["char"]; v != "" {
			return v
		}
	}
	return chat.DefaultVoice
}

// imageGenerator binds the REST image endpoint to the current user.
type imageGenerator struct {
	client *api.Client
	userID func() string
}

func (g imageGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return g.client.GenerateImage(ctx, g.userID(), prompt)
}

// Start connects the realtime channel, attaches the chat engine and
// schedules the periodic bootstrap refresh. A failed first dial is
// retried in the background and is not an error.
func (a *App) Start(ctx context.Context) error {
	a.Chat.Attach()
	if err := a.Channel.Connect(ctx); err != nil {
		log.Printf("app: %v (retrying in background)", err)
	}
	a.mu.Lock()
	a.scheduleRefreshLocked()
	a.mu.Unlock()
	return nil
}

// scheduleRefreshLocked arms the next bootstrap refresh.
func (a *App) scheduleRefreshLocked() {
	if a.schedule == nil || a.closed {
		return
	}
	now := a.clock.Now()
	delay := a.schedule.Next(now).Sub(now)
	a.refresh = a.clock.AfterFunc(delay, a.refreshBootstrap)
}

func (a *App) refreshBootstrap() {
	a.Cache.Invalidate(context.Background(), library.BootstrapKey(a.userID))
	a.mu.Lock()
	a.scheduleRefreshLocked()
	a.mu.Unlock()
}

// Close flushes pending history saves and stops every background loop.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.refresh != nil {
		a.refresh.Stop()
		a.refresh = nil
	}
	a.mu.Unlock()

	a.Sessions.FlushHistory()
	a.Chat.Detach()
	a.Chat.Wait()
	a.Channel.Disconnect()
	a.Tasks.Stop()
	return db.Close(a.DB)
}

// RememberSuggestions stores the engine's pending memory suggestions on
// the current character and clears them. It returns how many were pending.
func (a *App) RememberSuggestions(ctx context.Context) (int, error) {
	suggestions := a.Chat.MemorySuggestions()
	if len(suggestions) == 0 {
		return 0, nil
	}
	character := a.Sessions.Character()
	if character == "" {
		character = a.Library.ActiveCharacter()
	}
	if err := a.Memory.Accept(ctx, character, suggestions); err != nil {
		return 0, fmt.Errorf("app: remember: %w", err)
	}
	a.Chat.ClearMemorySuggestions()
	return len(suggestions), nil
}

// Snapshot returns the inspector view of the client.
func (a *App) Snapshot() inspect.State {
	return inspect.State{
		Channel:       a.Channel.Status().String(),
		Reconnects:    a.Channel.Attempts(),
		Engine:        string(a.Chat.Status()),
		Target:        a.Chat.Target(),
		Character:     a.Sessions.Character(),
		ActiveSession: a.Sessions.ActiveID(),
		VoiceMode:     a.Chat.VoiceMode(),
		Messages:      a.Sessions.Messages(),
	}
}

// InspectOpts returns inspector options watching every store.
func (a *App) InspectOpts(addr string) inspect.Opts {
	return inspect.Opts{
		Addr:     addr,
		Snapshot: a.Snapshot,
		Tasks:    a.Tasks.Tasks,
		Error:    a.Notifier.Current,
		Watch: []func(func()) func(){
			a.Channel.Subscribe,
			a.Chat.Subscribe,
			a.Sessions.Subscribe,
			a.Tasks.Subscribe,
			a.Notifier.Subscribe,
		},
	}
}
