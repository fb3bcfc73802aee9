// Package config provides the configuration schema, loader, and provider
// registry for vocascan.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/vocascan/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto a [slog.Level]. Unknown and empty values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Capture   CaptureConfig `yaml:"capture"`
	Frequency ProviderEntry `yaml:"frequency"`
	Scoring   ScoringConfig `yaml:"scoring"`
	Engine    EngineConfig  `yaml:"engine"`
	Store     StoreConfig   `yaml:"store"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics endpoints
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Applied live by the config watcher.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log lines.
	LogFormat LogFormat `yaml:"log_format"`
}

// CaptureConfig selects and configures the audio capture device.
type CaptureConfig struct {
	// Name selects the registered capture implementation (e.g., "rawpcm").
	Name string `yaml:"name"`

	// Device is implementation specific. For rawpcm, "-" reads stdin and
	// anything else is opened as a file or FIFO.
	Device string `yaml:"device"`

	// SampleRate of the captured PCM in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the captured PCM.
	Channels int `yaml:"channels"`

	// FrameMS is the duration of one capture frame in milliseconds.
	FrameMS int `yaml:"frame_ms"`
}

// Format returns the PCM format described by c.
func (c CaptureConfig) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// FrameDuration returns FrameMS as a duration.
func (c CaptureConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameMS) * time.Millisecond
}

// ProviderEntry is the common configuration block shared by provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "remote").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL is the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific values not covered by the fields
	// above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ScoringConfig configures the scoring service client.
type ScoringConfig struct {
	ProviderEntry `yaml:",inline"`

	// Timeout bounds one scoring request. Zero uses the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Breaker configures the circuit breaker in front of the service.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the scoring circuit breaker. Zero values use the
// breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// EngineConfig tunes the tracking engine.
type EngineConfig struct {
	// PollInterval is the pause between two frequency polls. Zero polls
	// back-to-back; unset uses the engine default.
	PollInterval *time.Duration `yaml:"poll_interval"`

	// Encoding selects the recording format (wav or opus).
	Encoding audio.Encoding `yaml:"encoding"`

	// UpdateInterval throttles pitch updates to the UI. Zero delivers every
	// frame.
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// StoreConfig configures the session history.
type StoreConfig struct {
	// SQLitePath is the database file. Empty disables the history.
	SQLitePath string `yaml:"sqlite_path"`
}

// applyDefaults fills in zero values that have a sensible default.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Capture.Name == "" {
		cfg.Capture.Name = "rawpcm"
	}
	if cfg.Capture.Device == "" {
		cfg.Capture.Device = "-"
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = 16000
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = 1
	}
	if cfg.Capture.FrameMS == 0 {
		cfg.Capture.FrameMS = 20
	}
	if cfg.Frequency.Name == "" {
		cfg.Frequency.Name = "remote"
	}
	if cfg.Scoring.Name == "" {
		cfg.Scoring.Name = "http"
	}
	if cfg.Engine.Encoding == "" {
		cfg.Engine.Encoding = audio.EncodingWAV
	}
}
