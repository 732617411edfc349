// Package config provides configuration loading from YAML files.
package config

import (
	"io/fs"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Playback PlaybackConfig `yaml:"playback"`
	Spotify  SpotifyConfig  `yaml:"spotify"`

	Filters map[string]FilterConfig `yaml:"filters"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8090" validate:"required"`
	Token string      `yaml:"token"` // Optional control token; empty disables the check
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// StorageConfig represents queue persistence configuration.
type StorageConfig struct {
	Path              string `yaml:"path"` // Empty means the XDG data dir
	PersistDebounceMs int    `yaml:"persist_debounce_ms" default:"0" validate:"gte=0,lte=10000"`
}

// PlaybackConfig represents audio playback configuration.
type PlaybackConfig struct {
	PollIntervalMs int  `yaml:"poll_interval_ms" default:"500" validate:"gte=50,lte=5000"`
	SampleRate     int  `yaml:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	BufferMs       int  `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=1000"`
	HTTPTimeoutSec int  `yaml:"http_timeout_sec" default:"30" validate:"gte=1,lte=300"`
	MaxSourceMB    int  `yaml:"max_source_mb" default:"64" validate:"gte=1,lte=1024"`
	SilentMode     bool `yaml:"silent_mode" default:"true"`
	Background     bool `yaml:"background" default:"true"`
	DuckOthers     bool `yaml:"duck_others" default:"true"`
}

// FilterConfig represents an admission filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// SpotifyConfig represents Spotify API configuration. The whole section is
// optional; Spotify procedures are disabled without credentials.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Enabled reports whether all credentials are present.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.RefreshToken != ""
}

// PollInterval returns the status polling interval.
func (p PlaybackConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// Buffer returns the speaker buffer length.
func (p PlaybackConfig) Buffer() time.Duration {
	return time.Duration(p.BufferMs) * time.Millisecond
}

// HTTPTimeout returns the source download timeout.
func (p PlaybackConfig) HTTPTimeout() time.Duration {
	return time.Duration(p.HTTPTimeoutSec) * time.Second
}

// MaxSourceBytes returns the largest source accepted.
func (p PlaybackConfig) MaxSourceBytes() int64 {
	return int64(p.MaxSourceMB) << 20
}

// PersistDebounce returns the delay before queue changes are written.
func (s StorageConfig) PersistDebounce() time.Duration {
	return time.Duration(s.PersistDebounceMs) * time.Millisecond
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	return &cfg, nil
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment variables take precedence over file values for
// sensitive fields.
func Load(path string) (*Config, error) {
	// Defaults go first so that explicit false and zero values in the file
	// are not overwritten.
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, errors.Wrap(err, "failed to read config file")
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	cfg.overrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TUNEQUEUE_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("TUNEQUEUE_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	partial := c.Spotify.ClientID != "" || c.Spotify.ClientSecret != "" || c.Spotify.RefreshToken != ""
	if partial && !c.Spotify.Enabled() {
		return errors.New("spotify requires client_id, client_secret and refresh_token together")
	}
	return nil
}
