// Package engine implements the tracking engine: the lifecycle state machine
// that acquires a capture stream and a frequency-source session, drives the
// frame-delivery loop, records the session audio, and tears everything down
// deterministically.
//
// An [Engine] runs at most one session at a time. [Engine.Start] blocks until
// the session is Running (or the start failed); [Engine.Stop] halts delivery,
// releases every handle exactly once and returns the finalized [Recording].
// Stop may be called while Start is still acquiring resources; the start is
// then aborted, its resources are released once acquisition returns, and no
// frame is ever delivered.
//
// This package lives under internal/ because it encapsulates
// application-private processing logic and is not intended to be imported by
// external code.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vocascan/internal/observe"
	"github.com/MrWong99/vocascan/pkg/audio"
	"github.com/MrWong99/vocascan/pkg/pitch"
	"github.com/MrWong99/vocascan/pkg/provider/frequency"
)

const (
	// DefaultPollInterval is the pause between two frequency polls.
	DefaultPollInterval = 80 * time.Millisecond

	// pollErrorBackoff is the minimum pause after a failed poll.
	pollErrorBackoff = 100 * time.Millisecond
)

// Frame is one voiced raw frequency sample.
type Frame struct {
	// FrequencyHz is the raw estimate reported by the frequency source.
	FrequencyHz float64

	// Timestamp is the time since the session reached Running. Strictly
	// increasing within a session.
	Timestamp time.Duration
}

// FrameFunc receives voiced frames on the engine's loop goroutine. It must
// not call [Engine.Stop] synchronously; Stop waits for the callback in
// progress to return.
type FrameFunc func(Frame)

// Recording is the finalized output of one session. Ownership passes to the
// caller of [Engine.Stop]; the engine keeps no reference to it.
type Recording struct {
	// ID uniquely identifies the session.
	ID string

	// Audio is the encoded session audio. Empty for a zero-length session.
	Audio []byte

	// MIMEType describes Audio.
	MIMEType string

	// Format is the PCM format of the capture stream.
	Format audio.Format

	// Duration is the length of the captured audio.
	Duration time.Duration

	// StartedAt is the wall-clock time the session reached Running.
	StartedAt time.Time

	// Frames holds every voiced frame delivered during the session, in order.
	Frames []Frame

	// Pitch holds the smoothed pitch states of the session. The engine
	// never fills it; the session owner appends the states it derived from
	// Frames before handing the recording on.
	Pitch []pitch.State
}

// Empty reports whether r carries no audio. A nil recording is empty.
func (r *Recording) Empty() bool {
	return r == nil || len(r.Audio) == 0
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithPollInterval sets the pause between polls. Zero polls back-to-back
// (each poll still blocks until the source has an estimate).
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.pollInterval = d
		}
	}
}

// WithEncoding selects the recording encoding. Defaults to WAV. Encodings
// that cannot represent the capture format fall back to WAV.
func WithEncoding(enc audio.Encoding) Option {
	return func(e *Engine) {
		e.encoding = enc
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine is the tracking engine. Create one with [New]; it is safe for
// concurrent use.
type Engine struct {
	capture      audio.Capture
	frequency    frequency.Provider
	pollInterval time.Duration
	encoding     audio.Encoding
	metrics      *observe.Metrics

	mu          sync.Mutex
	state       State
	closed      bool
	sess        *session
	abort       bool
	cancelStart context.CancelFunc
	startDone   chan struct{} // closed when the in-flight Start returns
	stopDone    chan struct{} // closed when the in-flight Stop returns
}

// New creates an Engine that acquires audio from capture and estimates from
// freq.
func New(capture audio.Capture, freq frequency.Provider, opts ...Option) (*Engine, error) {
	if capture == nil {
		return nil, errors.New("engine: capture must not be nil")
	}
	if freq == nil {
		return nil, errors.New("engine: frequency provider must not be nil")
	}
	e := &Engine{
		capture:      capture,
		frequency:    freq,
		pollInterval: DefaultPollInterval,
		encoding:     audio.EncodingWAV,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start acquires the capture stream and a frequency-source session and
// begins delivering voiced frames to onFrame. It blocks until the session is
// Running. ctx bounds acquisition only; the session runs until Stop.
//
// Calling Start while a session is not Idle is a no-op and returns nil. On
// failure the engine returns to Idle having released everything it acquired;
// the error is an [*AcquisitionError], a [*ProviderUnavailableError], or
// [ErrStartAborted] when Stop interrupted the start.
func (e *Engine) Start(ctx context.Context, onFrame FrameFunc) error {
	if onFrame == nil {
		return errors.New("engine: onFrame must not be nil")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if st := e.state; st != StateIdle {
		e.mu.Unlock()
		slog.Debug("engine: start ignored", "state", st.String())
		return nil
	}
	e.state = StateStarting
	e.abort = false
	actx, cancel := context.WithCancel(ctx)
	e.cancelStart = cancel
	done := make(chan struct{})
	e.startDone = done
	e.mu.Unlock()

	defer close(done)
	defer cancel()

	begin := time.Now()
	res, err := e.acquire(actx)
	e.metrics.StartDuration.Record(ctx, time.Since(begin).Seconds())

	e.mu.Lock()
	aborted := e.abort
	if err == nil && !aborted {
		s := newSession(res, onFrame, e.pollInterval, e.metrics)
		e.sess = s
		e.state = StateRunning
		e.cancelStart = nil
		// Started under the lock so a concurrent Stop always sees a live
		// session to halt.
		s.run()
		e.metrics.ActiveSessions.Add(ctx, 1)
		e.mu.Unlock()

		slog.Info("engine: session running",
			"session_id", s.id,
			"format", res.stream.Format().String(),
			"encoding", string(e.encoding),
		)
		return nil
	}
	e.mu.Unlock()

	// Failed or aborted: release what was acquired before returning to Idle.
	if res != nil {
		res.release()
	}
	e.mu.Lock()
	e.state = StateIdle
	e.cancelStart = nil
	e.mu.Unlock()

	if aborted {
		e.metrics.RecordStartFailure(ctx, "aborted")
		slog.Info("engine: start aborted")
		return ErrStartAborted
	}
	var pu *ProviderUnavailableError
	if errors.As(err, &pu) {
		e.metrics.RecordStartFailure(ctx, "provider")
	} else {
		e.metrics.RecordStartFailure(ctx, "acquisition")
	}
	slog.Warn("engine: start failed", "err", err)
	return err
}

// Stop ends the current session and returns its recording.
//
// While Idle, Stop is a no-op returning (nil, nil). While Starting, Stop
// aborts the start, waits for acquisition to return and its resources to be
// released, and returns (nil, nil). While another Stop is in progress, Stop
// waits for it and returns (nil, nil); the recording is handed to exactly
// one caller.
//
// The returned error reports a failure to finalize the recording; the
// recording is still returned with its frames.
func (e *Engine) Stop() (*Recording, error) {
	e.mu.Lock()
	switch e.state {
	case StateIdle:
		e.mu.Unlock()
		return nil, nil

	case StateStarting:
		e.abort = true
		if e.cancelStart != nil {
			e.cancelStart()
		}
		done := e.startDone
		e.mu.Unlock()
		<-done
		return nil, nil

	case StateStopping:
		done := e.stopDone
		e.mu.Unlock()
		<-done
		return nil, nil
	}

	// Running.
	s := e.sess
	e.state = StateStopping
	done := make(chan struct{})
	e.stopDone = done
	e.mu.Unlock()
	defer close(done)

	rec, err := s.stop()

	e.mu.Lock()
	e.sess = nil
	e.state = StateIdle
	e.mu.Unlock()

	ctx := context.Background()
	e.metrics.ActiveSessions.Add(ctx, -1)
	e.metrics.SessionDuration.Record(ctx, time.Since(rec.StartedAt).Seconds())
	slog.Info("engine: session stopped",
		"session_id", rec.ID,
		"frames", len(rec.Frames),
		"audio_bytes", len(rec.Audio),
		"duration", rec.Duration,
	)
	return rec, err
}

// Close stops any running session and rejects further starts. The final
// recording, if any, is discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	_, err := e.Stop()
	return err
}

// ---- acquisition ----

// resources are the handles owned by one session.
type resources struct {
	stream  audio.Stream
	freq    frequency.Session
	encoder audio.Encoder

	releaseStream once
	closeFreq     once
}

// release frees the capture stream and the frequency session. Each handle is
// released at most once no matter how often release is called.
func (r *resources) release() {
	if err := r.closeFreq.do(r.freq.Close); err != nil {
		slog.Warn("engine: close frequency session", "err", err)
	}
	if err := r.releaseStream.do(r.stream.Release); err != nil {
		slog.Warn("engine: release capture stream", "err", err)
	}
}

// acquire obtains the capture stream, the frequency session and the
// recording encoder. On failure everything already acquired is released and
// a nil *resources is returned. When acquisition completes after ctx was
// cancelled the resources are returned anyway so the caller can release them.
func (e *Engine) acquire(ctx context.Context) (*resources, error) {
	stream, err := e.capture.Acquire(ctx)
	if err != nil {
		return nil, &AcquisitionError{Err: err}
	}

	freq, err := e.frequency.Open(ctx, stream.Format())
	if err != nil {
		if rerr := stream.Release(); rerr != nil {
			slog.Warn("engine: release capture stream", "err", rerr)
		}
		return nil, &ProviderUnavailableError{Err: err}
	}

	enc, err := audio.NewEncoder(e.encoding, stream.Format())
	if err != nil {
		slog.Warn("engine: encoder unavailable, recording as wav",
			"encoding", string(e.encoding),
			"format", stream.Format().String(),
			"err", err,
		)
		enc = audio.NewWAVEncoder(stream.Format())
	}

	return &resources{stream: stream, freq: freq, encoder: enc}, nil
}

// once runs a release function a single time and remembers its error.
type once struct {
	o   sync.Once
	err error
}

func (o *once) do(fn func() error) error {
	ran := false
	o.o.Do(func() {
		ran = true
		o.err = fn()
	})
	if !ran {
		return nil
	}
	return o.err
}

// ---- session ----

// session is one Running period of the engine.
type session struct {
	id        string
	res       *resources
	onFrame   FrameFunc
	interval  time.Duration
	metrics   *observe.Metrics
	startedAt time.Time
	epoch     time.Time // monotonic reference for frame timestamps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// deliverMu serialises frame delivery with halting so no frame is
	// delivered once halted is set.
	deliverMu sync.Mutex
	halted    bool
	frames    []Frame
	lastTS    time.Duration

	encErr error // owned by the pump goroutine until wg.Wait returns
}

func newSession(res *resources, onFrame FrameFunc, interval time.Duration, m *observe.Metrics) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	now := time.Now()
	return &session{
		id:        id,
		res:       res,
		onFrame:   onFrame,
		interval:  interval,
		metrics:   m,
		startedAt: now,
		epoch:     now,
		ctx:       observe.WithSessionID(ctx, id),
		cancel:    cancel,
	}
}

// run starts the audio pump and the frame loop.
func (s *session) run() {
	s.wg.Add(2)
	go s.pump()
	go s.loop()
}

// stop halts delivery, waits for both goroutines, releases the handles and
// finalizes the recording.
func (s *session) stop() (*Recording, error) {
	s.deliverMu.Lock()
	s.halted = true
	s.deliverMu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.res.release()

	rec := &Recording{
		ID:        s.id,
		Format:    s.res.stream.Format(),
		StartedAt: s.startedAt,
		Frames:    s.frames,
	}
	payload, err := s.res.encoder.Finalize()
	if err != nil {
		return rec, errors.Join(s.encErr, err)
	}
	rec.Audio = payload.Data
	rec.MIMEType = payload.MIMEType
	rec.Duration = payload.Duration
	if s.encErr != nil {
		slog.Warn("engine: recording incomplete", "session_id", s.id, "err", s.encErr)
	}
	return rec, nil
}

// pump tees captured audio into the encoder and the frequency session.
func (s *session) pump() {
	defer s.wg.Done()
	frames := s.res.stream.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				slog.Debug("engine: capture stream ended", "session_id", s.id)
				return
			}
			s.consume(f)
		case <-s.ctx.Done():
			// Keep audio that was already captured when the stop arrived.
			for {
				select {
				case f, ok := <-frames:
					if !ok {
						return
					}
					s.record(f)
				default:
					return
				}
			}
		}
	}
}

func (s *session) consume(f audio.AudioFrame) {
	s.record(f)
	if err := s.res.freq.SendAudio(f.Data); err != nil && !errors.Is(err, frequency.ErrSessionClosed) {
		slog.Debug("engine: send audio", "session_id", s.id, "err", err)
	}
}

func (s *session) record(f audio.AudioFrame) {
	if s.encErr != nil {
		return
	}
	if err := s.res.encoder.Write(f); err != nil {
		s.encErr = err
	}
}

// loop polls the frequency source and delivers voiced frames until the
// session context is cancelled or the source ends the session.
func (s *session) loop() {
	defer s.wg.Done()
	log := observe.Logger(s.ctx)
	for {
		if s.ctx.Err() != nil {
			return
		}
		hz, err := s.res.freq.Poll(s.ctx)
		wait := s.interval
		switch {
		case s.ctx.Err() != nil:
			return
		case errors.Is(err, frequency.ErrSessionClosed):
			log.Warn("engine: frequency source ended the session", "err", err)
			return
		case err != nil:
			s.metrics.PollErrors.Add(s.ctx, 1)
			log.Warn("engine: poll failed", "err", err)
			wait = max(wait, pollErrorBackoff)
		case !frequency.IsAbsent(hz):
			if !s.deliver(hz) {
				return
			}
		}
		if !s.sleep(wait) {
			return
		}
	}
}

// deliver hands one frame to the callback unless the session was halted.
func (s *session) deliver(hz float64) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.halted {
		return false
	}
	ts := time.Since(s.epoch)
	if ts <= s.lastTS && len(s.frames) > 0 {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	f := Frame{FrequencyHz: hz, Timestamp: ts}
	s.frames = append(s.frames, f)
	s.onFrame(f)
	s.metrics.FramesDelivered.Add(s.ctx, 1)
	return true
}

// sleep waits d or until the session is cancelled. It reports whether the
// loop should continue.
func (s *session) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
