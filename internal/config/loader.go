package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":   {"rawpcm"},
	"frequency": {"remote"},
	"scoring":   {"http"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Capture
	validateProviderName("capture", cfg.Capture.Name)
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 2]", cfg.Capture.Channels))
	}
	if cfg.Capture.FrameMS < 0 || cfg.Capture.FrameMS > 1000 {
		errs = append(errs, fmt.Errorf("capture.frame_ms %d is out of range [1, 1000]", cfg.Capture.FrameMS))
	}

	// Frequency source
	validateProviderName("frequency", cfg.Frequency.Name)
	if err := validateURL("frequency.base_url", cfg.Frequency.BaseURL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}

	// Scoring
	validateProviderName("scoring", cfg.Scoring.Name)
	if err := validateURL("scoring.base_url", cfg.Scoring.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Scoring.Timeout < 0 {
		errs = append(errs, fmt.Errorf("scoring.timeout %s must not be negative", cfg.Scoring.Timeout))
	}
	if cfg.Scoring.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("scoring.breaker.max_failures %d must not be negative", cfg.Scoring.Breaker.MaxFailures))
	}
	if cfg.Scoring.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("scoring.breaker.reset_timeout %s must not be negative", cfg.Scoring.Breaker.ResetTimeout))
	}

	// Engine
	if cfg.Engine.PollInterval != nil && *cfg.Engine.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.poll_interval %s must not be negative", *cfg.Engine.PollInterval))
	}
	if cfg.Engine.Encoding != "" && !cfg.Engine.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("engine.encoding %q is invalid; valid values: wav, opus", cfg.Engine.Encoding))
	}
	if cfg.Engine.UpdateInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.update_interval %s must not be negative", cfg.Engine.UpdateInterval))
	}

	// Store
	if cfg.Store.SQLitePath == "" {
		slog.Debug("store.sqlite_path is empty; session history is disabled")
	}

	return errors.Join(errs...)
}

// validateURL checks that raw, when set, parses and uses one of schemes.
// An empty URL is left for the provider factory to reject.
func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid URL: %w", field, raw, err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%s %q must use one of the schemes %v", field, raw, schemes)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
