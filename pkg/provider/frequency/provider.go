// Package frequency defines the Provider interface for pitch-estimation
// backends.
//
// A frequency provider wraps an external fundamental-frequency estimator (a
// neural pitch model, a YIN/autocorrelation server, a hardware tuner) behind
// a pull-based interface. The engine opens a Session per tracking session,
// streams captured PCM into it with SendAudio, and repeatedly calls Poll to
// obtain the latest raw estimate.
//
// Poll reports "no voiced pitch this tick" as [Absent] (zero) rather than as
// an error. Errors are reserved for transport or provider failures.
//
// Implementations must be safe for concurrent use: SendAudio is called from
// the capture goroutine while Poll runs on the frame loop.
package frequency

import (
	"context"
	"errors"
	"math"

	"github.com/MrWong99/vocascan/pkg/audio"
)

// Absent is the value Poll returns when no voiced pitch was detected.
const Absent = 0.0

// ErrSessionClosed is returned by Session methods after Close, or after the
// provider ended the session.
var ErrSessionClosed = errors.New("frequency: session closed")

// IsAbsent reports whether hz carries no usable estimate: zero, negative, NaN
// or infinite.
func IsAbsent(hz float64) bool {
	return !(hz > 0) || math.IsInf(hz, 0)
}

// Session is an open pitch-estimation stream.
//
// Callers must call Close when the session is no longer needed. Calling Close
// more than once is safe and returns nil.
type Session interface {
	// SendAudio delivers a chunk of PCM in the format agreed at Open.
	SendAudio(chunk []byte) error

	// Poll blocks until the provider has a new estimate or ctx is done, and
	// returns it in Hz. [Absent] means no voiced pitch was detected.
	Poll(ctx context.Context) (float64, error)

	// Close terminates the session and releases its resources.
	Close() error
}

// Provider is the abstraction over any pitch-estimation backend.
type Provider interface {
	// Open starts a session that accepts audio in format f. It fails when the
	// backend is unreachable or not ready; the caller owns the returned
	// Session and must Close it.
	Open(ctx context.Context, f audio.Format) (Session, error)
}
