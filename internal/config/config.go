// Package config provides YAML-based configuration loading for novelsync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// AnonymousUserID is the user id used before anyone has logged in. Every
// user-scoped component treats it the same as an empty id.
const AnonymousUserID = "anonymous-user"

// Config is the top-level novelsync configuration, loaded from config.yaml.
type Config struct {
	API      APIConfig      `yaml:"api"`
	User     UserConfig     `yaml:"user"`
	Cache    CacheConfig    `yaml:"cache"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Chat     ChatConfig     `yaml:"chat"`
	Storage  StorageConfig  `yaml:"storage"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Inspect  InspectConfig  `yaml:"inspect"`
}

// APIConfig holds the server endpoints and credentials.
type APIConfig struct {
	BaseURL    string `yaml:"base_url" env:"NOVELSYNC_API_BASE"`
	WSBase     string `yaml:"ws_base" env:"NOVELSYNC_WS_BASE"`
	Token      string `yaml:"token" env:"NOVELSYNC_TOKEN"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// UserConfig pins the user id. When empty the id stored by `ns login` is used.
type UserConfig struct {
	ID string `yaml:"id" env:"NOVELSYNC_USER_ID"`
}

// CacheConfig controls the query cache windows.
type CacheConfig struct {
	StaleSec     int `yaml:"stale_sec"`
	GCSec        int `yaml:"gc_sec"`
	PageStaleSec int `yaml:"page_stale_sec"`
	Retry        int `yaml:"retry"`
}

// RealtimeConfig controls the realtime channel.
type RealtimeConfig struct {
	MaxBackoffSec int `yaml:"max_backoff_sec"`
}

// TasksConfig controls background task polling.
type TasksConfig struct {
	PollSec         int `yaml:"poll_sec"`
	GraceSec        int `yaml:"grace_sec"`
	AwaitTimeoutSec int `yaml:"await_timeout_sec"`
}

// ChatConfig controls the chat engine timers.
type ChatConfig struct {
	SaveDebounceMS int  `yaml:"save_debounce_ms"`
	ImagePollSec   int  `yaml:"image_poll_sec"`
	VoiceMode      bool `yaml:"voice_mode"`
}

// StorageConfig locates the local settings database.
type StorageConfig struct {
	DBPath string `yaml:"db_path" env:"NOVELSYNC_DB_PATH"`
}

// RefreshConfig schedules periodic bootstrap refreshes. Empty disables it.
type RefreshConfig struct {
	BootstrapCron string `yaml:"bootstrap_cron"`
}

// InspectConfig enables the local inspector server. Empty disables it.
type InspectConfig struct {
	Addr string `yaml:"addr"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// variables override values from the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated Config built only from defaults and the
// environment, for running without a config file.
func Default() (*Config, error) {
	return Parse(nil)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000/api"
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.WSBase == "" {
		c.API.WSBase = deriveWSBase(c.API.BaseURL)
	}
	c.API.WSBase = strings.TrimRight(c.API.WSBase, "/")
	if c.API.TimeoutSec == 0 {
		c.API.TimeoutSec = 30
	}
	if c.Cache.StaleSec == 0 {
		c.Cache.StaleSec = 300
	}
	if c.Cache.GCSec == 0 {
		c.Cache.GCSec = 600
	}
	if c.Cache.PageStaleSec == 0 {
		c.Cache.PageStaleSec = 60
	}
	if c.Cache.Retry == 0 {
		c.Cache.Retry = 1
	}
	if c.Realtime.MaxBackoffSec == 0 {
		c.Realtime.MaxBackoffSec = 30
	}
	if c.Tasks.PollSec == 0 {
		c.Tasks.PollSec = 3
	}
	if c.Tasks.GraceSec == 0 {
		c.Tasks.GraceSec = 10
	}
	if c.Tasks.AwaitTimeoutSec == 0 {
		c.Tasks.AwaitTimeoutSec = 120
	}
	if c.Chat.SaveDebounceMS == 0 {
		c.Chat.SaveDebounceMS = 1000
	}
	if c.Chat.ImagePollSec == 0 {
		c.Chat.ImagePollSec = 5
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = defaultDBPath()
	}
}

// deriveWSBase turns http(s)://host/api into ws(s)://host. The realtime
// endpoint lives at the server root, not under the REST prefix.
func deriveWSBase(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + u.Host
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "novelsync.db"
	}
	return dir + "/novelsync/settings.db"
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, "api.base_url must be an absolute URL")
	}
	if c.API.WSBase == "" {
		errs = append(errs, "api.ws_base is required")
	} else if !strings.HasPrefix(c.API.WSBase, "ws://") && !strings.HasPrefix(c.API.WSBase, "wss://") {
		errs = append(errs, "api.ws_base must use ws:// or wss://")
	}
	if c.API.TimeoutSec < 0 {
		errs = append(errs, "api.timeout_sec must not be negative")
	}
	if c.Cache.Retry < 0 {
		errs = append(errs, "cache.retry must not be negative")
	}
	if c.Cache.GCSec < c.Cache.StaleSec {
		errs = append(errs, "cache.gc_sec must be >= cache.stale_sec")
	}
	if c.Refresh.BootstrapCron != "" {
		if _, err := cronParser.Parse(c.Refresh.BootstrapCron); err != nil {
			errs = append(errs, fmt.Sprintf("refresh.bootstrap_cron: %v", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsAnonymous reports whether id names no real user.
func IsAnonymous(id string) bool {
	return id == "" || id == AnonymousUserID
}

// StaleTime returns the bootstrap staleness window.
func (c *Config) StaleTime() time.Duration { return time.Duration(c.Cache.StaleSec) * time.Second }

// GCTime returns the cache garbage-collection window.
func (c *Config) GCTime() time.Duration { return time.Duration(c.Cache.GCSec) * time.Second }

// PageStaleTime returns the paginated query staleness window.
func (c *Config) PageStaleTime() time.Duration {
	return time.Duration(c.Cache.PageStaleSec) * time.Second
}

// SaveDebounce returns the history-save debounce delay.
func (c *Config) SaveDebounce() time.Duration {
	return time.Duration(c.Chat.SaveDebounceMS) * time.Millisecond
}

// RefreshSchedule parses refresh.bootstrap_cron. It returns nil when
// periodic refresh is disabled.
func (c *Config) RefreshSchedule() (cron.Schedule, error) {
	if c.Refresh.BootstrapCron == "" {
		return nil, nil
	}
	sched, err := cronParser.Parse(c.Refresh.BootstrapCron)
	if err != nil {
		return nil, fmt.Errorf("config: refresh.bootstrap_cron: %w", err)
	}
	return sched, nil
}

// MaxBackoff returns the realtime reconnect backoff cap.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Realtime.MaxBackoffSec) * time.Second
}

// ImagePoll returns the inline image job poll interval.
func (c *Config) ImagePoll() time.Duration {
	return time.Duration(c.Chat.ImagePollSec) * time.Second
}
