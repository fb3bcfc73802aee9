// Command vocascan is the main entry point for the vocascan vocal pitch
// tracker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/vocascan/internal/app"
	"github.com/MrWong99/vocascan/internal/config"
	"github.com/MrWong99/vocascan/internal/observe"
	"github.com/MrWong99/vocascan/internal/store"
	"github.com/MrWong99/vocascan/pkg/audio"
	"github.com/MrWong99/vocascan/pkg/audio/rawpcm"
	"github.com/MrWong99/vocascan/pkg/note"
	"github.com/MrWong99/vocascan/pkg/pitch"
	"github.com/MrWong99/vocascan/pkg/provider/frequency"
	"github.com/MrWong99/vocascan/pkg/provider/frequency/remote"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
	"github.com/MrWong99/vocascan/pkg/provider/scoring/httpscore"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	history := flag.Int("history", 0, "print the last N recorded sessions and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocascan: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocascan: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *history > 0 {
		if err := printHistory(ctx, os.Stdout, cfg.Store.SQLitePath, *history); err != nil {
			slog.Error("failed to read session history", "err", err)
			return 1
		}
		return 0
	}

	slog.Info("vocascan starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(level, config.Diff(old, new))
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	meter := &meter{out: os.Stdout}
	var result app.Result
	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler),
		app.WithWatcher(watcher),
		app.WithUpdates(meter.update),
		app.WithResults(func(r app.Result) { result = r }),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("listening; sing, then press Ctrl+C to score")

	runErr := application.Run(ctx)
	meter.done()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		printResult(os.Stdout, result)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterCapture("rawpcm", func(c config.CaptureConfig) (audio.Capture, error) {
		return rawpcm.New(c.Device, c.Format(), rawpcm.WithFrameDuration(c.FrameDuration()))
	})

	reg.RegisterFrequency("remote", func(entry config.ProviderEntry) (frequency.Provider, error) {
		var opts []remote.Option
		if entry.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(entry.APIKey))
		}
		if c, ok := optFloat(entry.Options, "min_confidence"); ok {
			opts = append(opts, remote.WithMinConfidence(c))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	reg.RegisterScoring("http", func(c config.ScoringConfig) (scoring.Provider, error) {
		var opts []httpscore.Option
		if c.APIKey != "" {
			opts = append(opts, httpscore.WithAPIKey(c.APIKey))
		}
		if c.Timeout > 0 {
			opts = append(opts, httpscore.WithTimeout(c.Timeout))
		}
		return httpscore.New(c.BaseURL, opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	capture, err := reg.CreateCapture(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("create capture %q: %w", cfg.Capture.Name, err)
	}
	slog.Info("provider created", "kind", "capture", "name", cfg.Capture.Name)

	freq, err := reg.CreateFrequency(cfg.Frequency)
	if err != nil {
		return nil, fmt.Errorf("create frequency provider %q: %w", cfg.Frequency.Name, err)
	}
	slog.Info("provider created", "kind", "frequency", "name", cfg.Frequency.Name)

	sc, err := reg.CreateScoring(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("create scoring provider %q: %w", cfg.Scoring.Name, err)
	}
	slog.Info("provider created", "kind", "scoring", "name", cfg.Scoring.Name)

	return &app.Providers{Capture: capture, Frequency: freq, Scoring: sc}, nil
}

// applyConfigChange applies the live-reloadable part of a config change and
// reports the rest.
func applyConfigChange(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "log_level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change takes effect after restart", "sections", d.RestartRequired)
	}
}

// ── Output ────────────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        vocascan startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Capture", cfg.Capture.Name+" "+cfg.Capture.Device)
	printRow("Format", cfg.Capture.Format().String())
	printRow("Frequency", cfg.Frequency.Name)
	printRow("Scoring", cfg.Scoring.Name)
	printRow("Encoding", string(cfg.Engine.Encoding))
	if cfg.Store.SQLitePath != "" {
		printRow("History", cfg.Store.SQLitePath)
	} else {
		printRow("History", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// meterWidth is the number of cells on each side of the centre mark.
const meterWidth = 10

// meter renders smoothed pitch updates as a single, rewritten terminal line.
type meter struct {
	out   io.Writer
	drawn bool
}

func (m *meter) update(s pitch.State) {
	name, target, cents := note.Nearest(s.SmoothedFrequencyHz)
	fmt.Fprintf(m.out, "\r%-4s %7.1f Hz  target %7.1f Hz  %s %+5.0f¢  conf %.2f ",
		name, s.SmoothedFrequencyHz, target, centsBar(cents), cents, s.Confidence)
	m.drawn = true
}

// done ends the meter line.
func (m *meter) done() {
	if m.drawn {
		fmt.Fprintln(m.out)
	}
}

// centsBar draws cents as a marker on a scale of ±note.DefaultCentsLimit.
func centsBar(cents float64) string {
	c := note.ClampCents(cents, note.DefaultCentsLimit)
	pos := meterWidth + int(c/note.DefaultCentsLimit*meterWidth)
	cells := []rune(strings.Repeat("-", 2*meterWidth+1))
	cells[meterWidth] = '|'
	cells[pos] = '●'
	return "[" + string(cells) + "]"
}

func printResult(w io.Writer, r app.Result) {
	switch {
	case r.Recording == nil:
		fmt.Fprintln(w, "no session recorded")
	case !r.Current:
		fmt.Fprintln(w, "diagnosis discarded")
	default:
		fmt.Fprintf(w, "session %s: %d samples, dominant note %s\n",
			r.Recording.ID, r.Summary.Samples, r.Summary.DominantNote)
		fmt.Fprintln(w, r.Diagnosis.String())
	}
}

func printHistory(ctx context.Context, w io.Writer, path string, n int) error {
	if path == "" {
		return errors.New("store.sqlite_path is not configured")
	}
	st, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.Recent(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tDURATION\tSAMPLES\tNOTE\tMEAN HZ\tDIAGNOSIS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.1f\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.Duration.Round(time.Millisecond),
			e.Summary.Samples,
			e.Summary.DominantNote,
			e.Summary.MeanHz,
			e.Diagnosis.String(),
		)
	}
	return tw.Flush()
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optFloat extracts a numeric value from a provider Options map[string]any.
// YAML decodes numbers as int or float64; both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
