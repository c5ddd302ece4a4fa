package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/llehouerou/wavestream/internal/playback"
	"github.com/llehouerou/wavestream/internal/streaming"
	"github.com/llehouerou/wavestream/internal/timeevent"
)

type Config struct {
	LogLevel string `koanf:"log_level"` // hclog level name, default "info"
	LogFile  string `koanf:"log_file"`  // empty logs to stderr

	Playback  PlaybackConfig  `koanf:"playback"`
	Streaming StreamingConfig `koanf:"streaming"`
}

// PlaybackConfig holds controller tunables.
type PlaybackConfig struct {
	BufferDuration     time.Duration `koanf:"buffer_duration"`      // preferred forward buffer of the item (default: 5s)
	TimeEventFrequency time.Duration `koanf:"time_event_frequency"` // elapsed event interval (default: 1s)
	LoadTimeout        time.Duration `koanf:"load_timeout"`         // default: 30s
	Rate               float64       `koanf:"rate"`                 // default: 1.0
	AutoWait           *bool         `koanf:"auto_wait"`            // wait to minimize stalling (default: true)
	PreferredLocales   []string      `koanf:"preferred_locales"`    // chapter locales, e.g. ["en", "fr"]
	ResumePositions    *bool         `koanf:"resume_positions"`     // restart URLs where they stopped (default: true)
}

// StreamingConfig holds loader tunables.
type StreamingConfig struct {
	// MaxBufferDuration and DefaultBitrate size the fetch window before a
	// bitrate is measured: max_buffer_duration*default_bitrate/8 bytes, 120KB
	// with the defaults. A leading tag larger than that (embedded artwork)
	// cannot be read until one of them is raised.
	MaxBufferDuration time.Duration     `koanf:"max_buffer_duration"` // how far ahead to fetch (default: 20s)
	ThrottleDelay     time.Duration     `koanf:"throttle_delay"`      // wait when the window is full (default: 1s)
	DefaultBitrate    float64           `koanf:"default_bitrate"`     // bits/s before one is measured (default: 48000)
	RequestTimeout    time.Duration     `koanf:"request_timeout"`     // per HTTP request, 0 disables
	Headers           map[string]string `koanf:"headers"`             // sent with every request
}

func Load() (*Config, error) {
	return load(getConfigPaths())
}

// LoadFile loads a single config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	return load([]string{expandPath(path)})
}

func load(paths []string) (*Config, error) {
	k := koanf.New(".")

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{
		LogLevel: "info",
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	if cfg.LogFile != "" {
		cfg.LogFile = expandPath(cfg.LogFile)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return cfg, nil
}

func getConfigPaths() []string {
	return []string{
		// 1. $XDG_CONFIG_HOME/wavestream/config.toml
		filepath.Join(xdg.ConfigHome, "wavestream", "config.toml"),
		// 2. ./config.toml (pwd, highest priority)
		"config.toml",
	}
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GetPlaybackConfig returns the playback configuration with defaults applied.
func (c *Config) GetPlaybackConfig() PlaybackConfig {
	cfg := c.Playback

	if cfg.BufferDuration <= 0 {
		cfg.BufferDuration = playback.DefaultBufferDuration
	}
	if cfg.TimeEventFrequency <= 0 {
		cfg.TimeEventFrequency = timeevent.DefaultInterval
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = playback.DefaultLoadTimeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.AutoWait == nil {
		cfg.AutoWait = boolPtr(true)
	}
	if cfg.ResumePositions == nil {
		cfg.ResumePositions = boolPtr(true)
	}

	return cfg
}

// GetStreamingConfig returns the streaming configuration with defaults applied.
func (c *Config) GetStreamingConfig() StreamingConfig {
	cfg := c.Streaming

	if cfg.MaxBufferDuration <= 0 {
		cfg.MaxBufferDuration = streaming.DefaultMaxBufferDuration
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = streaming.DefaultThrottleDelay
	}
	if cfg.DefaultBitrate <= 0 {
		cfg.DefaultBitrate = streaming.DefaultBitrate
	}
	if cfg.RequestTimeout < 0 {
		cfg.RequestTimeout = 0
	}

	return cfg
}

func boolPtr(b bool) *bool { return &b }

// LoadOptions returns the options map passed with every load.
func (c *Config) LoadOptions() map[string]any {
	if len(c.Streaming.Headers) == 0 {
		return nil
	}
	headers := make(map[string]string, len(c.Streaming.Headers))
	for k, v := range c.Streaming.Headers {
		headers[k] = v
	}
	return map[string]any{streaming.OptionHTTPHeaders: headers}
}
