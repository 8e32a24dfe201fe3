package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
api:
  base_url: https://chat.example.com/api/
  ws_base: wss://rt.example.com
  token: secret
  timeout_sec: 10

user:
  id: alice

cache:
  stale_sec: 120
  gc_sec: 900
  page_stale_sec: 30
  retry: 2

tasks:
  poll_sec: 1
  grace_sec: 4
  await_timeout_sec: 60

chat:
  save_debounce_ms: 250
  image_poll_sec: 2
  voice_mode: true

storage:
  db_path: /tmp/ns.db

refresh:
  bootstrap_cron: "*/15 * * * *"

inspect:
  addr: 127.0.0.1:7070
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "https://chat.example.com/api" {
		t.Errorf("API.BaseURL = %q, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.API.WSBase != "wss://rt.example.com" {
		t.Errorf("API.WSBase = %q, want %q", cfg.API.WSBase, "wss://rt.example.com")
	}
	if cfg.API.Token != "secret" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "secret")
	}
	if cfg.User.ID != "alice" {
		t.Errorf("User.ID = %q, want %q", cfg.User.ID, "alice")
	}
	if cfg.StaleTime() != 2*time.Minute {
		t.Errorf("StaleTime() = %v, want 2m", cfg.StaleTime())
	}
	if cfg.GCTime() != 15*time.Minute {
		t.Errorf("GCTime() = %v, want 15m", cfg.GCTime())
	}
	if cfg.PageStaleTime() != 30*time.Second {
		t.Errorf("PageStaleTime() = %v, want 30s", cfg.PageStaleTime())
	}
	if cfg.Cache.Retry != 2 {
		t.Errorf("Cache.Retry = %d, want 2", cfg.Cache.Retry)
	}
	if cfg.Tasks.GraceSec != 4 {
		t.Errorf("Tasks.GraceSec = %d, want 4", cfg.Tasks.GraceSec)
	}
	if cfg.SaveDebounce() != 250*time.Millisecond {
		t.Errorf("SaveDebounce() = %v, want 250ms", cfg.SaveDebounce())
	}
	if !cfg.Chat.VoiceMode {
		t.Error("Chat.VoiceMode = false, want true")
	}
	if cfg.Storage.DBPath != "/tmp/ns.db" {
		t.Errorf("Storage.DBPath = %q, want %q", cfg.Storage.DBPath, "/tmp/ns.db")
	}
	if cfg.Refresh.BootstrapCron != "*/15 * * * *" {
		t.Errorf("Refresh.BootstrapCron = %q", cfg.Refresh.BootstrapCron)
	}
	if cfg.Inspect.Addr != "127.0.0.1:7070" {
		t.Errorf("Inspect.Addr = %q, want %q", cfg.Inspect.Addr, "127.0.0.1:7070")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("api:\n  base_url: http://localhost:9000/api\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.WSBase != "ws://localhost:9000" {
		t.Errorf("API.WSBase = %q, want derived %q", cfg.API.WSBase, "ws://localhost:9000")
	}
	if cfg.API.TimeoutSec != 30 {
		t.Errorf("API.TimeoutSec = %d, want 30", cfg.API.TimeoutSec)
	}
	if cfg.StaleTime() != 5*time.Minute {
		t.Errorf("StaleTime() = %v, want 5m", cfg.StaleTime())
	}
	if cfg.GCTime() != 10*time.Minute {
		t.Errorf("GCTime() = %v, want 10m", cfg.GCTime())
	}
	if cfg.PageStaleTime() != time.Minute {
		t.Errorf("PageStaleTime() = %v, want 1m", cfg.PageStaleTime())
	}
	if cfg.Cache.Retry != 1 {
		t.Errorf("Cache.Retry = %d, want 1", cfg.Cache.Retry)
	}
	if cfg.Tasks.PollSec != 3 {
		t.Errorf("Tasks.PollSec = %d, want 3", cfg.Tasks.PollSec)
	}
	if cfg.Tasks.GraceSec != 10 {
		t.Errorf("Tasks.GraceSec = %d, want 10", cfg.Tasks.GraceSec)
	}
	if cfg.Tasks.AwaitTimeoutSec != 120 {
		t.Errorf("Tasks.AwaitTimeoutSec = %d, want 120", cfg.Tasks.AwaitTimeoutSec)
	}
	if cfg.SaveDebounce() != time.Second {
		t.Errorf("SaveDebounce() = %v, want 1s", cfg.SaveDebounce())
	}
	if cfg.Chat.ImagePollSec != 5 {
		t.Errorf("Chat.ImagePollSec = %d, want 5", cfg.Chat.ImagePollSec)
	}
	if cfg.Storage.DBPath == "" {
		t.Error("Storage.DBPath is empty, want a default path")
	}
}

func TestParse_HTTPSDerivesWSS(t *testing.T) {
	cfg, err := Parse([]byte("api:\n  base_url: https://chat.example.com/api\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.WSBase != "wss://chat.example.com" {
		t.Errorf("API.WSBase = %q, want %q", cfg.API.WSBase, "wss://chat.example.com")
	}
}

func TestDefault_NoFile(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000/api" {
		t.Errorf("API.BaseURL = %q, want default", cfg.API.BaseURL)
	}
	if cfg.API.WSBase != "ws://localhost:8000" {
		t.Errorf("API.WSBase = %q, want %q", cfg.API.WSBase, "ws://localhost:8000")
	}
}

// ---------------------------------------------------------------------------
// Environment overrides
// ---------------------------------------------------------------------------

func TestParse_EnvOverridesFile(t *testing.T) {
	t.Setenv("NOVELSYNC_API_BASE", "http://override:1234/api")
	t.Setenv("NOVELSYNC_USER_ID", "bob")
	t.Setenv("NOVELSYNC_TOKEN", "tok-env")
	t.Setenv("NOVELSYNC_DB_PATH", "/var/ns.db")

	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "http://override:1234/api" {
		t.Errorf("API.BaseURL = %q, want env value", cfg.API.BaseURL)
	}
	if cfg.User.ID != "bob" {
		t.Errorf("User.ID = %q, want %q", cfg.User.ID, "bob")
	}
	if cfg.API.Token != "tok-env" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "tok-env")
	}
	if cfg.Storage.DBPath != "/var/ns.db" {
		t.Errorf("Storage.DBPath = %q, want %q", cfg.Storage.DBPath, "/var/ns.db")
	}
	// ws_base was set in the file and not overridden.
	if cfg.API.WSBase != "wss://rt.example.com" {
		t.Errorf("API.WSBase = %q, want file value", cfg.API.WSBase)
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"relative base url", "api:\n  base_url: /api\n  ws_base: ws://x\n", "api.base_url must be an absolute URL"},
		{"bad ws scheme", "api:\n  ws_base: http://x\n", "api.ws_base must use ws:// or wss://"},
		{"negative retry", "cache:\n  retry: -1\n", "cache.retry must not be negative"},
		{"gc shorter than stale", "cache:\n  stale_sec: 600\n  gc_sec: 60\n", "cache.gc_sec must be >= cache.stale_sec"},
		{"bad cron", "refresh:\n  bootstrap_cron: \"not a cron\"\n", "refresh.bootstrap_cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("api: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want config: parse prefix", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.User.ID != "alice" {
		t.Errorf("User.ID = %q, want %q", cfg.User.ID, "alice")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want config: read prefix", err)
	}
}

func TestIsAnonymous(t *testing.T) {
	for _, id := range []string{"", AnonymousUserID} {
		if !IsAnonymous(id) {
			t.Errorf("IsAnonymous(%q) = false, want true", id)
		}
	}
	if IsAnonymous("alice") {
		t.Error("IsAnonymous(alice) = true, want false")
	}
}

func TestRefreshSchedule(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sched, err := cfg.RefreshSchedule()
	if err != nil || sched == nil {
		t.Fatalf("RefreshSchedule() = %v, %v", sched, err)
	}
	from := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	if next := sched.Next(from); !next.Equal(time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("Next(%v) = %v, want 10:15", from, next)
	}

	cfg, _ = Default()
	if sched, err := cfg.RefreshSchedule(); sched != nil || err != nil {
		t.Errorf("disabled RefreshSchedule() = %v, %v, want nil, nil", sched, err)
	}
}

func TestDurations(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ImagePoll() != 2*time.Second {
		t.Errorf("ImagePoll() = %v, want 2s", cfg.ImagePoll())
	}
	if cfg.MaxBackoff() != 30*time.Second {
		t.Errorf("MaxBackoff() = %v, want 30s", cfg.MaxBackoff())
	}
}
