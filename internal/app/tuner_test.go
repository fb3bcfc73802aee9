package app_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/vocascan/internal/app"
	"github.com/MrWong99/vocascan/internal/engine"
	"github.com/MrWong99/vocascan/internal/observe"
	"github.com/MrWong99/vocascan/internal/store"
	"github.com/MrWong99/vocascan/internal/submit"
	"github.com/MrWong99/vocascan/pkg/audio"
	audiomock "github.com/MrWong99/vocascan/pkg/audio/mock"
	"github.com/MrWong99/vocascan/pkg/pitch"
	freqmock "github.com/MrWong99/vocascan/pkg/provider/frequency/mock"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
	scoremock "github.com/MrWong99/vocascan/pkg/provider/scoring/mock"
)

// ---- helpers ----

func newMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// fakeHistory records saved entries.
type fakeHistory struct {
	mu      sync.Mutex
	entries []store.Entry
	err     error
}

func (h *fakeHistory) Save(_ context.Context, e store.Entry) (store.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return store.Entry{}, h.err
	}
	e.ID = "entry-1"
	h.entries = append(h.entries, e)
	return e, nil
}

func (h *fakeHistory) saved() []store.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]store.Entry(nil), h.entries...)
}

// updateSink collects pitch updates.
type updateSink struct {
	mu     sync.Mutex
	states []pitch.State
}

func (s *updateSink) onUpdate(st pitch.State) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *updateSink) snapshot() []pitch.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pitch.State(nil), s.states...)
}

type tunerFixture struct {
	tuner   *app.Tuner
	capture *audiomock.Capture
	freq    *freqmock.Provider
	scoring *scoremock.Provider
	history *fakeHistory
	updates *updateSink
}

func newTuner(t *testing.T, capture *audiomock.Capture, sess *freqmock.Session, interval time.Duration) *tunerFixture {
	t.Helper()
	m := newMetrics(t)
	f := &tunerFixture{
		capture: capture,
		freq:    &freqmock.Provider{Session: sess},
		scoring: &scoremock.Provider{
			ScoreResult: scoring.Success(440, 0.9, 87, "nice"),
			PitchResult: scoring.PitchResult{Score: 70, Message: "steady"},
		},
		history: &fakeHistory{},
		updates: &updateSink{},
	}
	e, err := engine.New(capture, f.freq, engine.WithPollInterval(0), engine.WithMetrics(m))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	f.tuner, err = app.NewTuner(app.TunerConfig{
		Engine:         e,
		Coordinator:    submit.New(f.scoring, submit.WithMetrics(m)),
		History:        f.history,
		UpdateInterval: interval,
		OnUpdate:       f.updates.onUpdate,
	})
	if err != nil {
		t.Fatalf("NewTuner: %v", err)
	}
	return f
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func tone(n int) []audio.AudioFrame {
	return audiomock.Tone(16000, 20*time.Millisecond, n)
}

// ---- tests ----

func TestNewTuner_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := app.NewTuner(app.TunerConfig{}); err == nil {
		t.Fatal("expected error without engine")
	}
	e, err := engine.New(&audiomock.Capture{}, &freqmock.Provider{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if _, err := app.NewTuner(app.TunerConfig{Engine: e}); err == nil {
		t.Fatal("expected error without coordinator")
	}
}

func TestTuner_StopSubmitsRecording(t *testing.T) {
	t.Parallel()

	frames := tone(10)
	sess := &freqmock.Session{Script: []float64{440, 440, 0, 440, 440}, Hold: true}
	f := newTuner(t, &audiomock.Capture{Frames: frames, Hold: true}, sess, 0)

	if err := f.tuner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := len(frames) * len(frames[0].Data)
	waitFor(t, "audio to reach the frequency source", func() bool { return sess.Bytes() == want })
	waitFor(t, "four updates", func() bool { return len(f.updates.snapshot()) == 4 })

	res, err := f.tuner.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !res.Current {
		t.Fatal("result should be current")
	}
	if res.Diagnosis != f.scoring.ScoreResult {
		t.Errorf("diagnosis = %+v, want %+v", res.Diagnosis, f.scoring.ScoreResult)
	}
	if res.Recording == nil || res.Recording.Empty() {
		t.Fatalf("recording = %+v, want audio", res.Recording)
	}
	if got := len(res.Recording.Pitch); got != 4 {
		t.Errorf("recording pitch states = %d, want 4", got)
	}
	if res.Summary.Samples != 4 || res.Summary.DominantNote != "A4" {
		t.Errorf("summary = %+v", res.Summary)
	}

	calls := f.scoring.Calls()
	if len(calls) != 1 {
		t.Fatalf("Score calls = %d, want 1", len(calls))
	}
	if calls[0].Req.SessionID != res.Recording.ID || calls[0].Req.Summary.Samples != 4 {
		t.Errorf("request = %+v", calls[0].Req)
	}

	saved := f.history.saved()
	if len(saved) != 1 {
		t.Fatalf("history entries = %d, want 1", len(saved))
	}
	if saved[0].SessionID != res.Recording.ID || saved[0].Diagnosis != res.Diagnosis {
		t.Errorf("history entry = %+v", saved[0])
	}
	if f.tuner.State() != engine.StateIdle {
		t.Errorf("state = %v, want idle", f.tuner.State())
	}
}

func TestTuner_EmptyRecordingScoresFinalPitch(t *testing.T) {
	t.Parallel()

	sess := &freqmock.Session{Script: []float64{330, 330, 330}, Hold: true}
	f := newTuner(t, &audiomock.Capture{Hold: true}, sess, 0)

	if err := f.tuner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "three updates", func() bool { return len(f.updates.snapshot()) == 3 })

	res, err := f.tuner.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !res.Recording.Empty() {
		t.Fatal("recording should be empty")
	}
	if len(f.scoring.Calls()) != 0 {
		t.Error("an empty recording must not be submitted whole")
	}
	if len(f.scoring.PitchCalls) != 1 || math.Abs(f.scoring.PitchCalls[0]-330) > 1e-9 {
		t.Fatalf("ScorePitch calls = %v, want [330]", f.scoring.PitchCalls)
	}
	want := scoring.Success(330, res.Summary.Stability, 70, "steady")
	if math.Abs(res.Diagnosis.Pitch-330) > 1e-9 || res.Diagnosis.Score != want.Score || res.Diagnosis.Message != want.Message {
		t.Errorf("diagnosis = %+v, want %+v", res.Diagnosis, want)
	}
}

func TestTuner_NoPitchYieldsErrorWithoutSubmitting(t *testing.T) {
	t.Parallel()

	f := newTuner(t, &audiomock.Capture{Hold: true}, &freqmock.Session{Hold: true}, 0)
	if err := f.tuner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := f.tuner.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !res.Current || !res.Diagnosis.IsError() || res.Diagnosis.Message != "no pitch detected" {
		t.Errorf("result = %+v, want current error diagnosis", res)
	}
	if len(f.scoring.Calls()) != 0 || len(f.scoring.PitchCalls) != 0 {
		t.Error("scoring service must not be contacted")
	}
	if got := len(f.history.saved()); got != 1 {
		t.Errorf("history entries = %d, want 1", got)
	}
}

func TestTuner_ThrottlesUpdates(t *testing.T) {
	t.Parallel()

	sess := &freqmock.Session{Script: []float64{440, 441, 442, 443, 444}, Hold: true}
	f := newTuner(t, &audiomock.Capture{Hold: true}, sess, time.Hour)

	if err := f.tuner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The sixth poll blocks, so all five scripted frames were delivered.
	waitFor(t, "script to be exhausted", func() bool { return sess.Polls() >= 6 })

	res, err := f.tuner.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := len(f.updates.snapshot()); got != 1 {
		t.Errorf("updates = %d, want 1 within one interval", got)
	}
	if got := len(res.Recording.Pitch); got != 5 {
		t.Errorf("recording pitch states = %d, want every frame (5)", got)
	}
}

func TestTuner_StartResetsSmoothing(t *testing.T) {
	t.Parallel()

	f := newTuner(t, &audiomock.Capture{Hold: true}, &freqmock.Session{Script: []float64{440, 440}, Hold: true}, 0)
	if err := f.tuner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first session updates", func() bool { return len(f.updates.snapshot()) == 2 })
	if _, err := f.tuner.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	f.freq.Session = &freqmock.Session{Script: []float64{220}, Hold: true}
	if err := f.tuner.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitFor(t, "second session update", func() bool { return len(f.updates.snapshot()) == 3 })
	res, err := f.tuner.Stop(context.Background())
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	first := f.updates.snapshot()[2]
	if first.SmoothedFrequencyHz != 220 || first.Confidence != 1 {
		t.Errorf("first state of new session = %+v, want unsmoothed 220 Hz with confidence 1", first)
	}
	if len(res.Recording.Pitch) != 1 {
		t.Errorf("second recording carries %d states, want 1", len(res.Recording.Pitch))
	}
}

func TestTuner_StopWhileIdle(t *testing.T) {
	t.Parallel()

	f := newTuner(t, &audiomock.Capture{}, &freqmock.Session{}, 0)
	res, err := f.tuner.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res.Recording != nil || res.Current {
		t.Errorf("result = %+v, want zero", res)
	}
	if len(f.history.saved()) != 0 {
		t.Error("nothing should be saved")
	}
}

func TestTuner_StartFailureAllowsRetry(t *testing.T) {
	t.Parallel()

	capture := &audiomock.Capture{AcquireErr: errors.New("no device"), Hold: true}
	f := newTuner(t, capture, &freqmock.Session{Hold: true}, 0)

	err := f.tuner.Start(context.Background())
	var acq *engine.AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("Start error = %v, want *engine.AcquisitionError", err)
	}

	capture.AcquireErr = nil
	if err := f.tuner.Start(context.Background()); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	if f.tuner.State() != engine.StateRunning {
		t.Errorf("state = %v, want running", f.tuner.State())
	}
}

func TestTuner_HistoryFailureKeepsDiagnosis(t *testing.T) {
	t.Parallel()

	f := newTuner(t, &audiomock.Capture{Hold: true}, &freqmock.Session{Script: []float64{440}, Hold: true}, 0)
	f.history.err = errors.New("disk full")

	if err := f.tuner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "update", func() bool { return len(f.updates.snapshot()) == 1 })
	res, err := f.tuner.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !res.Current || res.Diagnosis.IsError() {
		t.Errorf("result = %+v, want current success", res)
	}
}
