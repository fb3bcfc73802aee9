// Package scoring defines the Provider interface for remote vocal-diagnosis
// services and the tagged [Diagnosis] result they produce.
//
// A scoring provider receives a finished session recording (encoded audio
// plus a pitch summary) and returns a diagnosis: the detected pitch, a
// stability figure in [0,1], a score, and an optional message. Transport and
// service failures are reported as [*TransportError]; callers that must
// always produce a terminal result convert them with [Failure].
package scoring

import (
	"context"
	"fmt"

	"github.com/MrWong99/vocascan/pkg/pitch"
)

// Kind discriminates the two shapes of a [Diagnosis].
type Kind int

const (
	// KindSuccess marks a diagnosis returned by the service.
	KindSuccess Kind = iota

	// KindError marks a diagnosis that only carries an error message.
	KindError
)

// String returns "success" or "error".
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Diagnosis is the outcome of scoring one session. Pitch, Stability and Score
// are only meaningful when Kind is KindSuccess; Message is optional for
// successes and always set for errors.
type Diagnosis struct {
	Kind      Kind
	Pitch     float64
	Stability float64
	Score     float64
	Message   string
}

// Success builds a successful diagnosis.
func Success(pitchHz, stability, score float64, message string) Diagnosis {
	return Diagnosis{
		Kind:      KindSuccess,
		Pitch:     pitchHz,
		Stability: stability,
		Score:     score,
		Message:   message,
	}
}

// Failure builds an error-shaped diagnosis carrying msg.
func Failure(msg string) Diagnosis {
	if msg == "" {
		msg = "scoring failed"
	}
	return Diagnosis{Kind: KindError, Message: msg}
}

// IsError reports whether d is the error variant.
func (d Diagnosis) IsError() bool { return d.Kind == KindError }

// String renders d for logs and terminal output.
func (d Diagnosis) String() string {
	if d.IsError() {
		return "error: " + d.Message
	}
	s := fmt.Sprintf("pitch=%.1fHz stability=%.2f score=%.1f", d.Pitch, d.Stability, d.Score)
	if d.Message != "" {
		s += " (" + d.Message + ")"
	}
	return s
}

// Request is a scoring request for one finished session.
type Request struct {
	// SessionID identifies the session the audio belongs to.
	SessionID string

	// Audio is the encoded recording. May be empty when only the summary is
	// scored.
	Audio []byte

	// MIMEType describes Audio (e.g. "audio/wav").
	MIMEType string

	// Summary aggregates the smoothed pitch states of the session.
	Summary pitch.Summary
}

// PitchResult is the response to a single-pitch scoring request.
type PitchResult struct {
	Score   float64
	Message string
}

// Provider is the abstraction over any scoring backend.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation so that superseded submissions stop early.
type Provider interface {
	// Score submits a session recording and returns the service diagnosis.
	// The returned Diagnosis may be the error variant when the service
	// reported a domain error in a successful response.
	Score(ctx context.Context, req Request) (Diagnosis, error)

	// ScorePitch scores a single sustained pitch in Hz.
	ScorePitch(ctx context.Context, hz float64) (PitchResult, error)
}

// TransportError reports a network failure or a non-2xx response from the
// scoring service.
type TransportError struct {
	// Op names the failed operation ("score", "score pitch").
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Body is a truncated copy of the error response body, if any.
	Body string

	// Err is the underlying cause, if any.
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("scoring: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("scoring: %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("scoring: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("scoring: %s: transport failure", e.Op)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }
