// Package mock provides test doubles for the frequency package interfaces.
//
// Session replays a scripted sequence of estimates, one per Poll, so engine
// tests are fully deterministic:
//
//	sess := &mock.Session{Script: []float64{440, 0, 442}}
//	p := &mock.Provider{Session: sess}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocascan/pkg/audio"
	"github.com/MrWong99/vocascan/pkg/provider/frequency"
)

// OpenCall records a single invocation of Provider.Open.
type OpenCall struct {
	// Format is the audio format passed to Open.
	Format audio.Format
}

// Provider is a mock implementation of frequency.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Open. If nil, Open returns a new Session that
	// holds (blocks in Poll) until closed.
	Session *Session

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall
}

// Open records the call and returns Session, OpenErr.
func (p *Provider) Open(_ context.Context, f audio.Format) (frequency.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls = append(p.OpenCalls, OpenCall{Format: f})
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if p.Session == nil {
		p.Session = &Session{Hold: true}
	}
	return p.Session, nil
}

// OpenCount returns how many times Open was called.
func (p *Provider) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.OpenCalls)
}

// Ensure Provider implements frequency.Provider at compile time.
var _ frequency.Provider = (*Provider)(nil)

// Session is a mock implementation of frequency.Session.
type Session struct {
	mu sync.Mutex

	// Script is replayed by Poll, one value per call. Use 0 for an absent
	// tick.
	Script []float64

	// PollErrs, if set, maps a zero-based poll index to an error returned
	// instead of the scripted value at that position.
	PollErrs map[int]error

	// PollFunc, if non-nil, replaces Script entirely. n is the zero-based
	// poll index.
	PollFunc func(ctx context.Context, n int) (float64, error)

	// Hold makes Poll block until ctx is done once Script is exhausted.
	// Otherwise an exhausted script yields absent ticks.
	Hold bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by the first Close.
	CloseErr error

	// --- Call records ---

	// PollCount is the number of times Poll was called.
	PollCount int

	// AudioBytes is the total number of bytes passed to SendAudio.
	AudioBytes int

	// SendAudioCount is the number of times SendAudio was called.
	SendAudioCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return frequency.ErrSessionClosed
	}
	s.SendAudioCount++
	s.AudioBytes += len(chunk)
	return s.SendAudioErr
}

// Poll returns the next scripted value.
func (s *Session) Poll(ctx context.Context) (float64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return frequency.Absent, frequency.ErrSessionClosed
	}
	n := s.PollCount
	s.PollCount++
	fn := s.PollFunc
	hold := s.Hold && n >= len(s.Script)
	var (
		hz  float64
		err error
	)
	if n < len(s.Script) {
		hz = s.Script[n]
	}
	if e, ok := s.PollErrs[n]; ok {
		err = e
	}
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, n)
	}
	if err != nil {
		return frequency.Absent, err
	}
	if hold {
		<-ctx.Done()
		return frequency.Absent, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return frequency.Absent, err
	}
	return hz, nil
}

// Close records the call and returns CloseErr on the first call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	return s.CloseErr
}

// Polls returns the number of Poll calls so far. Thread-safe.
func (s *Session) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PollCount
}

// Closes returns the number of Close calls so far. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Bytes returns the total audio bytes received so far. Thread-safe.
func (s *Session) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioBytes
}

// Ensure Session implements frequency.Session at compile time.
var _ frequency.Session = (*Session)(nil)
