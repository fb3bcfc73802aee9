package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocascan/internal/engine"
	"github.com/MrWong99/vocascan/internal/store"
	"github.com/MrWong99/vocascan/internal/submit"
	"github.com/MrWong99/vocascan/pkg/pitch"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

// noPitchMessage is the diagnosis message of a session that produced neither
// audio nor a single voiced frame.
const noPitchMessage = "no pitch detected"

// UpdateFunc receives smoothed pitch updates on the engine's loop goroutine.
// It must return quickly and must not call [Tuner.Stop].
type UpdateFunc func(pitch.State)

// History persists finished sessions. [store.Store] implements it.
type History interface {
	Save(ctx context.Context, e store.Entry) (store.Entry, error)
}

// Result is the outcome of one tuner session.
type Result struct {
	// Recording is the finalized session recording with its smoothed pitch
	// states. Nil when Stop found no session to end.
	Recording *engine.Recording

	// Summary aggregates Recording.Pitch.
	Summary pitch.Summary

	// Diagnosis is the scoring outcome.
	Diagnosis scoring.Diagnosis

	// Current is false when the diagnosis was superseded or cancelled before
	// it arrived. Such a diagnosis is zero and must not be shown.
	Current bool
}

// TunerConfig holds all dependencies for a [Tuner].
type TunerConfig struct {
	Engine      *engine.Engine
	Coordinator *submit.Coordinator

	// History, if set, receives every finished session with a current
	// diagnosis.
	History History

	// UpdateInterval throttles OnUpdate to at most one call per interval of
	// session time. Zero delivers every voiced frame.
	UpdateInterval time.Duration

	// OnUpdate, if set, receives smoothed pitch updates.
	OnUpdate UpdateFunc
}

// Tuner runs tracking sessions: it feeds the engine's voiced frames through
// a [pitch.Processor], forwards the smoothed states to the UI, and on Stop
// attaches them to the recording and submits it for scoring.
//
// Only one session can be active at a time. All exported methods are safe
// for concurrent use.
type Tuner struct {
	engine   *engine.Engine
	coord    *submit.Coordinator
	history  History
	interval time.Duration
	onUpdate UpdateFunc
	proc     *pitch.Processor

	mu       sync.Mutex
	active   bool
	states   []pitch.State
	emitted  bool
	lastEmit time.Duration
}

// NewTuner creates a Tuner with the given dependencies.
func NewTuner(cfg TunerConfig) (*Tuner, error) {
	if cfg.Engine == nil {
		return nil, errors.New("app: tuner: engine must not be nil")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("app: tuner: coordinator must not be nil")
	}
	return &Tuner{
		engine:   cfg.Engine,
		coord:    cfg.Coordinator,
		history:  cfg.History,
		interval: max(cfg.UpdateInterval, 0),
		onUpdate: cfg.OnUpdate,
		proc:     pitch.NewProcessor(),
	}, nil
}

// State returns the engine's lifecycle state.
func (t *Tuner) State() engine.State {
	return t.engine.State()
}

// Start begins a new session with a fresh smoothing history. It blocks until
// the engine is Running. Calling Start while a session is active is a no-op.
func (t *Tuner) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return nil
	}
	t.active = true
	t.proc.Reset()
	t.states = nil
	t.emitted = false
	t.lastEmit = 0
	t.mu.Unlock()

	if err := t.engine.Start(ctx, t.onFrame); err != nil {
		t.mu.Lock()
		t.active = false
		t.mu.Unlock()
		return fmt.Errorf("app: start session: %w", err)
	}
	return nil
}

// Stop ends the active session and scores it. ctx bounds the scoring request
// and the history write.
//
// A recording with audio is submitted whole. An empty recording with at
// least one voiced frame is scored by its final smoothed pitch. A session
// with neither yields an error diagnosis without contacting the service.
// While no session is running Stop returns a zero Result.
func (t *Tuner) Stop(ctx context.Context) (Result, error) {
	rec, err := t.engine.Stop()
	if rec == nil {
		return Result{}, err
	}
	if err != nil {
		slog.Warn("app: recording not finalized", "session_id", rec.ID, "err", err)
	}

	t.mu.Lock()
	rec.Pitch = t.states
	hz, voiced := t.proc.Last()
	t.states = nil
	t.active = false
	t.mu.Unlock()

	res := Result{Recording: rec, Summary: pitch.Summarize(rec.Pitch)}
	switch {
	case !rec.Empty():
		res.Diagnosis, res.Current = t.coord.Submit(ctx, rec)
	case voiced:
		res.Diagnosis, res.Current = t.coord.SubmitPitch(ctx, hz, res.Summary.Stability)
	default:
		res.Diagnosis, res.Current = scoring.Failure(noPitchMessage), true
	}

	if !res.Current {
		slog.Debug("app: diagnosis discarded", "session_id", rec.ID)
		return res, nil
	}
	slog.Info("app: session scored",
		"session_id", rec.ID,
		"samples", res.Summary.Samples,
		"dominant_note", string(res.Summary.DominantNote),
		"diagnosis", res.Diagnosis.String(),
	)
	t.record(ctx, res)
	return res, nil
}

// Cancel abandons the in-flight scoring request, if any.
func (t *Tuner) Cancel() {
	t.coord.Cancel()
}

// record saves res to the history. Failures are logged; the diagnosis is
// still returned to the caller.
func (t *Tuner) record(ctx context.Context, res Result) {
	if t.history == nil {
		return
	}
	e, err := t.history.Save(ctx, store.EntryFrom(res.Recording, res.Summary, res.Diagnosis))
	if err != nil {
		slog.Warn("app: save session history", "session_id", res.Recording.ID, "err", err)
		return
	}
	slog.Debug("app: session saved", "session_id", res.Recording.ID, "entry_id", e.ID)
}

// onFrame is the engine callback for the active session.
func (t *Tuner) onFrame(f engine.Frame) {
	st, ok := t.proc.Process(f.FrequencyHz)
	if !ok {
		return
	}

	t.mu.Lock()
	t.states = append(t.states, st)
	emit := t.interval == 0 || !t.emitted || f.Timestamp-t.lastEmit >= t.interval
	if emit {
		t.emitted = true
		t.lastEmit = f.Timestamp
	}
	t.mu.Unlock()

	if emit && t.onUpdate != nil {
		t.onUpdate(st)
	}
}
