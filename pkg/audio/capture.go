// Package audio defines the capture-side abstractions and PCM helpers used by
// the vocascan tracking engine.
//
// The two primary abstractions are:
//
//   - [Capture] acquires exclusive access to an input device and returns a
//     [Stream].
//   - [Stream] is a live microphone stream delivering [AudioFrame] values until
//     it is released.
//
// Encoders ([WAVEncoder], [OpusEncoder]) turn a session's frames into a single
// self-contained payload that can be submitted for scoring.
//
// Implementations of [Capture] live in sub-packages (audio/rawpcm, audio/mock).
// The interfaces are intentionally narrow so the engine can be tested against
// scripted fakes.
package audio

import (
	"context"
	"errors"
)

// ErrReleased is returned by operations on a [Stream] that has already been
// released.
var ErrReleased = errors.New("audio: stream released")

// Stream is a live capture stream owned by a single session.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Format returns the format of the frames delivered on Frames.
	Format() Format

	// Frames returns the channel of captured audio. The channel is closed
	// after Release, or when the underlying device stops delivering data.
	Frames() <-chan AudioFrame

	// Release stops capture and frees the device. It is safe to call Release
	// more than once; subsequent calls are no-ops and return nil.
	Release() error
}

// Capture acquires input streams from an audio device.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// Acquire opens the device and returns a running [Stream]. It fails when
	// the device is unavailable or permission is denied. ctx bounds the
	// acquisition only; the stream lives until released.
	Acquire(ctx context.Context) (Stream, error)
}

// Drain reads from ch until it is closed, discarding all values. Call it
// after releasing a [Stream] whose remaining frames are not wanted so the
// producer goroutine can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
