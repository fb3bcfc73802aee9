package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vocascan/internal/app"
	"github.com/MrWong99/vocascan/internal/config"
	"github.com/MrWong99/vocascan/internal/engine"
	"github.com/MrWong99/vocascan/internal/store"
	"github.com/MrWong99/vocascan/pkg/pitch"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

func TestCentsBar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cents float64
		want  string
	}{
		{0, "[----------●----------]"},
		{-50, "[●---------|----------]"},
		{50, "[----------|---------●]"},
		{-400, "[●---------|----------]"},
		{25, "[----------|----●-----]"},
	}
	for _, tt := range tests {
		if got := centsBar(tt.cents); got != tt.want {
			t.Errorf("centsBar(%v) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestOptFloat(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"f": 0.5, "i": 1, "s": "0.5"}
	if v, ok := optFloat(opts, "f"); !ok || v != 0.5 {
		t.Errorf("float: %v, %v", v, ok)
	}
	if v, ok := optFloat(opts, "i"); !ok || v != 1 {
		t.Errorf("int: %v, %v", v, ok)
	}
	if _, ok := optFloat(opts, "s"); ok {
		t.Error("string value should be rejected")
	}
	if _, ok := optFloat(nil, "f"); ok {
		t.Error("nil map should yield false")
	}
}

func TestApplyConfigChange_SetsLevel(t *testing.T) {
	level := new(slog.LevelVar)
	applyConfigChange(level, config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug})
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	applyConfigChange(level, config.ConfigDiff{RestartRequired: []string{"capture"}})
	if level.Level() != slog.LevelDebug {
		t.Error("restart-only diff must not touch the level")
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	cfg := &config.Config{
		Capture:   config.CaptureConfig{Name: "rawpcm", Device: "-", SampleRate: 16000, Channels: 1, FrameMS: 20},
		Frequency: config.ProviderEntry{Name: "remote", BaseURL: "ws://localhost:8765/pitch", Options: map[string]any{"min_confidence": 0.4}},
		Scoring:   config.ScoringConfig{ProviderEntry: config.ProviderEntry{Name: "http", BaseURL: "http://localhost:3000"}, Timeout: time.Second},
	}
	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Capture == nil || ps.Frequency == nil || ps.Scoring == nil {
		t.Errorf("providers = %+v", ps)
	}

	cfg.Scoring.Name = "carrier-pigeon"
	if _, err := buildProviders(cfg, reg); err == nil {
		t.Error("expected error for an unregistered scoring provider")
	}
}

func TestPrintResult(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		res  app.Result
		want string
	}{
		{"no session", app.Result{}, "no session recorded"},
		{"stale", app.Result{Recording: &engine.Recording{ID: "s1"}}, "diagnosis discarded"},
		{"scored", app.Result{
			Recording: &engine.Recording{ID: "s1"},
			Summary:   pitch.Summary{Samples: 3, DominantNote: "A4"},
			Diagnosis: scoring.Failure("scoring service unavailable"),
			Current:   true,
		}, "error: scoring service unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printResult(&buf, tt.res)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestPrintHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	st, err := store.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	summary := pitch.Summary{Samples: 12, MeanHz: 440, DominantNote: "A4"}
	if _, err := st.Save(ctx, store.Entry{SessionID: "s1", Summary: summary, Diagnosis: scoring.Success(440, 0.9, 88, "")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var buf bytes.Buffer
	if err := printHistory(ctx, &buf, path, 5); err != nil {
		t.Fatalf("printHistory: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"DIAGNOSIS", "A4", "440.0", "score=88.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if err := printHistory(ctx, &buf, "", 5); err == nil {
		t.Error("expected error without a configured path")
	}
}
