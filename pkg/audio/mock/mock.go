// Package mock provides in-memory mock implementations of the [audio.Capture]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	capture := &mock.Capture{
//	    StreamFormat: audio.Format{SampleRate: 16000, Channels: 1},
//	    Frames:       mock.Tone(16000, 10*time.Millisecond, 50),
//	}
//	stream, err := capture.Acquire(ctx)
//	// ...
//	_ = stream.Release()
//	capture.Stream().ReleaseCount() // 1
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/vocascan/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture].
// Set the exported fields before use; inspect the Call* fields after.
type Capture struct {
	mu sync.Mutex

	// AcquireErr is returned by [Capture.Acquire] when non-nil.
	AcquireErr error

	// AcquireDelay makes Acquire block for the given duration (or until ctx
	// is cancelled) before returning. Useful to exercise "stop while
	// starting" paths.
	AcquireDelay time.Duration

	// StreamFormat is reported by acquired streams. Defaults to 16 kHz mono.
	StreamFormat audio.Format

	// Frames are delivered by each acquired stream, in order. When Hold is
	// false the frame channel is closed after the last frame; otherwise it
	// stays open until Release.
	Frames []audio.AudioFrame

	// Hold keeps the stream open after the scripted frames are exhausted.
	Hold bool

	// ReleaseErr is returned by the first Release of each acquired stream.
	ReleaseErr error

	// CallCountAcquire records how many times Acquire was called.
	CallCountAcquire int

	streams []*Stream
}

// Acquire implements [audio.Capture].
func (c *Capture) Acquire(ctx context.Context) (audio.Stream, error) {
	c.mu.Lock()
	c.CallCountAcquire++
	delay := c.AcquireDelay
	err := c.AcquireErr
	c.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.StreamFormat
	if !f.Valid() {
		f = audio.Format{SampleRate: 16000, Channels: 1}
	}
	s := NewStream(f, c.Frames, c.Hold)
	s.releaseErr = c.ReleaseErr
	c.streams = append(c.streams, s)
	return s, nil
}

// Streams returns every stream handed out by Acquire, in order.
func (c *Capture) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Stream, len(c.streams))
	copy(out, c.streams)
	return out
}

// Stream returns the most recently acquired stream, or nil.
func (c *Capture) Stream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream] that replays scripted
// frames.
type Stream struct {
	format audio.Format
	frames chan audio.AudioFrame
	done   chan struct{}

	once       sync.Once
	mu         sync.Mutex
	releases   int
	releaseErr error
}

// NewStream returns a stream delivering frames in order. When hold is true
// the frame channel stays open until Release.
func NewStream(f audio.Format, frames []audio.AudioFrame, hold bool) *Stream {
	s := &Stream{
		format: f,
		frames: make(chan audio.AudioFrame),
		done:   make(chan struct{}),
	}
	go s.pump(frames, hold)
	return s
}

func (s *Stream) pump(frames []audio.AudioFrame, hold bool) {
	defer close(s.frames)
	for _, f := range frames {
		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
	}
	if hold {
		<-s.done
	}
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Release implements [audio.Stream]. Only the first call stops the stream;
// every call is counted.
func (s *Stream) Release() error {
	s.mu.Lock()
	s.releases++
	s.mu.Unlock()

	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.releaseErr
	})
	return err
}

// ReleaseCount returns how many times Release was called.
func (s *Stream) ReleaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

// Released reports whether Release has been called at least once.
func (s *Stream) Released() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// Tone returns n consecutive mono frames of silence at sampleRate, each of
// length frameLen, with increasing timestamps.
func Tone(sampleRate int, frameLen time.Duration, n int) []audio.AudioFrame {
	samples := int(int64(sampleRate) * int64(frameLen) / int64(time.Second))
	frames := make([]audio.AudioFrame, n)
	for i := range frames {
		frames[i] = audio.AudioFrame{
			Data:       make([]byte, samples*audio.BytesPerSample),
			SampleRate: sampleRate,
			Channels:   1,
			Timestamp:  time.Duration(i) * frameLen,
		}
	}
	return frames
}

// Compile-time interface assertions.
var (
	_ audio.Capture = (*Capture)(nil)
	_ audio.Stream  = (*Stream)(nil)
)
