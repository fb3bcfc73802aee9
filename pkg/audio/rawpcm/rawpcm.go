// Package rawpcm implements [audio.Capture] over a stream of raw signed 16-bit
// little-endian PCM, read from a file, a named pipe, or standard input.
//
// It is the capture backend for headless deployments where another process
// (arecord, ffmpeg, parec) owns the sound card and pipes samples in:
//
//	arecord -f S16_LE -r 16000 -c 1 -t raw | vocascan -config vocascan.yaml
//
// Frames are delivered at real-time pace by default so that recorded files
// behave like a live microphone.
package rawpcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/vocascan/pkg/audio"
)

// Stdin is the device name that selects standard input.
const Stdin = "-"

const (
	defaultFrameDuration = 20 * time.Millisecond
	frameBuffer          = 16
)

// ErrBusy is returned by Acquire while a previous stream from the same
// capture is still live.
var ErrBusy = errors.New("rawpcm: device busy")

// Compile-time interface assertion.
var _ audio.Capture = (*Capture)(nil)

// Option is a functional option for configuring a Capture.
type Option func(*Capture)

// WithFrameDuration sets the length of each delivered frame. Defaults to 20 ms.
func WithFrameDuration(d time.Duration) Option {
	return func(c *Capture) {
		if d > 0 {
			c.frameDur = d
		}
	}
}

// WithPacing controls whether frames are throttled to real time. Disable it
// to consume a file as fast as possible.
func WithPacing(on bool) Option {
	return func(c *Capture) {
		c.paced = on
	}
}

// WithOpener overrides how the device is opened. Intended for tests.
func WithOpener(open func(device string) (io.ReadCloser, error)) Option {
	return func(c *Capture) {
		c.open = open
	}
}

// Capture reads raw PCM from a single device. Only one stream may be live at
// a time.
type Capture struct {
	device   string
	format   audio.Format
	frameDur time.Duration
	paced    bool
	open     func(device string) (io.ReadCloser, error)

	mu   sync.Mutex
	busy bool
}

// New creates a Capture for device in format f. device is a file path or
// [Stdin].
func New(device string, f audio.Format, opts ...Option) (*Capture, error) {
	if device == "" {
		return nil, errors.New("rawpcm: device must not be empty")
	}
	if !f.Valid() {
		return nil, fmt.Errorf("rawpcm: invalid format %s", f)
	}
	c := &Capture{
		device:   device,
		format:   f,
		frameDur: defaultFrameDuration,
		paced:    true,
		open:     openDevice,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func openDevice(device string) (io.ReadCloser, error) {
	if device == Stdin {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(device)
}

// Acquire implements [audio.Capture].
func (c *Capture) Acquire(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	c.mu.Unlock()

	r, err := c.open(c.device)
	if err != nil {
		c.setIdle()
		return nil, fmt.Errorf("rawpcm: open %s: %w", c.device, err)
	}

	s := &stream{
		format: c.format,
		r:      r,
		frames: make(chan audio.AudioFrame, frameBuffer),
		done:   make(chan struct{}),
		onFree: c.setIdle,
	}
	frameBytes := int(int64(c.format.BytesPerSecond()) * int64(c.frameDur) / int64(time.Second))
	frameBytes -= frameBytes % (audio.BytesPerSample * c.format.Channels)
	go s.readLoop(frameBytes, c.frameDur, c.paced)

	slog.Debug("rawpcm: stream acquired", "device", c.device, "format", c.format.String(), "frame", c.frameDur)
	return s, nil
}

func (c *Capture) setIdle() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// stream is a live rawpcm capture.
type stream struct {
	format audio.Format
	r      io.ReadCloser
	frames chan audio.AudioFrame
	done   chan struct{}
	onFree func()

	once sync.Once
}

func (s *stream) Format() audio.Format            { return s.format }
func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Release implements [audio.Stream]. It is idempotent.
func (s *stream) Release() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.r.Close()
		s.onFree()
	})
	if err != nil {
		return fmt.Errorf("rawpcm: release: %w", err)
	}
	return nil
}

func (s *stream) readLoop(frameBytes int, frameDur time.Duration, paced bool) {
	defer close(s.frames)

	var ticker *time.Ticker
	if paced {
		ticker = time.NewTicker(frameDur)
		defer ticker.Stop()
	}

	align := audio.BytesPerSample * s.format.Channels
	var ts time.Duration
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(s.r, buf)
		n -= n % align
		if n > 0 {
			frame := audio.AudioFrame{
				Data:       buf[:n],
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Timestamp:  ts,
			}
			ts += frame.Duration()
			select {
			case s.frames <- frame:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				select {
				case <-s.done:
				default:
					slog.Warn("rawpcm: read failed", "err", err)
				}
			}
			return
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.done:
				return
			}
		}
	}
}
