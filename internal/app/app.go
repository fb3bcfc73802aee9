// Package app wires all vocascan subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes one tracking session alongside the HTTP endpoints
// and the config watcher, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistory,
// WithMetrics, etc.) and mock providers. When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocascan/internal/config"
	"github.com/MrWong99/vocascan/internal/engine"
	"github.com/MrWong99/vocascan/internal/health"
	"github.com/MrWong99/vocascan/internal/observe"
	"github.com/MrWong99/vocascan/internal/resilience"
	"github.com/MrWong99/vocascan/internal/store"
	"github.com/MrWong99/vocascan/internal/submit"
	"github.com/MrWong99/vocascan/pkg/audio"
	"github.com/MrWong99/vocascan/pkg/provider/frequency"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

const (
	// defaultSubmitTimeout bounds the final scoring request when
	// scoring.timeout is unset.
	defaultSubmitTimeout = 30 * time.Second

	// serverShutdownTimeout bounds the graceful HTTP shutdown.
	serverShutdownTimeout = 5 * time.Second
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	Capture   audio.Capture
	Frequency frequency.Provider
	Scoring   scoring.Provider
}

// App owns all subsystem lifetimes and orchestrates the vocascan pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics     *observe.Metrics
	breaker     *resilience.CircuitBreaker
	coordinator *submit.Coordinator
	engine      *engine.Engine
	history     History
	tuner       *Tuner
	handler     http.Handler
	server      *http.Server

	// Optional collaborators injected via options.
	metricsHandler http.Handler
	watcher        *config.Watcher
	onUpdate       UpdateFunc
	onResult       func(Result)

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics sink instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithHistory injects a session history instead of opening the SQLite store
// named by store.sqlite_path. The App does not close an injected history.
func WithHistory(h History) Option {
	return func(a *App) { a.history = h }
}

// WithWatcher runs w alongside the session in [App.Run].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithUpdates sets the receiver of smoothed pitch updates.
func WithUpdates(fn UpdateFunc) Option {
	return func(a *App) { a.onUpdate = fn }
}

// WithResults sets the receiver of the session result produced when Run
// ends the session.
func WithResults(fn func(Result)) Option {
	return func(a *App) { a.onResult = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Capture == nil || providers.Frequency == nil || providers.Scoring == nil {
		return nil, errors.New("app: capture, frequency and scoring providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Scoring ───────────────────────────────────────────────────────
	a.initScoring()

	// ── 2. Engine ────────────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 3. Session history ───────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 4. Tuner ─────────────────────────────────────────────────────────
	tuner, err := NewTuner(TunerConfig{
		Engine:         a.engine,
		Coordinator:    a.coordinator,
		History:        a.history,
		UpdateInterval: cfg.Engine.UpdateInterval,
		OnUpdate:       a.onUpdate,
	})
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.tuner = tuner

	// ── 5. HTTP endpoints ────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initScoring puts the circuit breaker in front of the scoring provider.
func (a *App) initScoring() {
	bc := a.cfg.Scoring.Breaker
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "scoring",
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	a.coordinator = submit.New(a.providers.Scoring,
		submit.WithBreaker(a.breaker),
		submit.WithMetrics(a.metrics),
	)
}

// initEngine builds the tracking engine from the engine config section.
func (a *App) initEngine() error {
	ec := a.cfg.Engine
	opts := []engine.Option{engine.WithMetrics(a.metrics)}
	if ec.PollInterval != nil {
		opts = append(opts, engine.WithPollInterval(*ec.PollInterval))
	}
	if ec.Encoding != "" {
		opts = append(opts, engine.WithEncoding(ec.Encoding))
	}

	e, err := engine.New(a.providers.Capture, a.providers.Frequency, opts...)
	if err != nil {
		return err
	}
	a.engine = e
	a.closers = append(a.closers, e.Close)
	return nil
}

// initHistory opens the SQLite history or uses the injected one. An empty
// store.sqlite_path disables the history.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	path := a.cfg.Store.SQLitePath
	if path == "" {
		return nil
	}

	st, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	a.history = st
	a.closers = append(a.closers, st.Close)
	slog.Info("session history opened", "path", path)
	return nil
}

// initHTTP builds the health and metrics handler. The listener itself is
// only created when server.listen_addr is set.
func (a *App) initHTTP() {
	checkers := []health.Checker{health.BreakerCheck(a.breaker)}
	if p, ok := a.history.(health.Pinger); ok {
		checkers = append(checkers, health.PingCheck("store", p))
	}

	mux := http.NewServeMux()
	health.New(checkers, health.WithState(func() string {
		return a.engine.State().String()
	})).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
}

// Handler returns the HTTP handler serving /healthz, /readyz and, when
// configured, /metrics.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Tuner returns the session tuner.
func (a *App) Tuner() *Tuner {
	return a.tuner
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts a tracking session and serves the HTTP endpoints and the config
// watcher until ctx is done. It then stops the session, scores it and hands
// the [Result] to the WithResults receiver. When ctx is done, Run returns
// context.Canceled (or the underlying cause); a failing subsystem ends the
// others and its error is returned.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		return a.session(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// session runs one tuner session for the lifetime of ctx.
func (a *App) session(ctx context.Context) error {
	if err := a.tuner.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	slog.Info("app running", "capture", a.cfg.Capture.Name, "frequency", a.cfg.Frequency.Name)
	<-ctx.Done()

	timeout := a.cfg.Scoring.Timeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	res, err := a.tuner.Stop(sctx)
	if err != nil {
		return fmt.Errorf("app: stop session: %w", err)
	}
	if a.onResult != nil && res.Recording != nil {
		a.onResult(res)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown abandons any in-flight scoring request and tears down all
// subsystems in init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Pending diagnoses are never shown once shutdown began.
		a.tuner.Cancel()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
