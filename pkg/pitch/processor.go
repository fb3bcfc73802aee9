// Package pitch turns noisy raw fundamental-frequency estimates into a
// smoothed pitch, a confidence score and the nearest musical note.
//
// A [Processor] is stateful across a session: each call to
// [Processor.Process] blends the new sample into an exponential moving
// average and scores the continuity of the smoothed curve. Call
// [Processor.Reset] at the start of every session so history never leaks
// from one session into the next.
package pitch

import (
	"math"
	"sync"

	"github.com/MrWong99/vocascan/pkg/note"
)

const (
	// SmoothingFactor is the weight of the newest raw sample in the moving
	// average. Sustained pitch converges within roughly six to eight frames.
	SmoothingFactor = 0.15

	// retention is 1 - SmoothingFactor, spelled out so a steady pitch stays
	// exactly on its value.
	retention = 0.85

	// ContinuitySensitivity scales the relative jump between consecutive
	// smoothed values. A jump of 1/ContinuitySensitivity (20 %) or more
	// drives continuity to zero.
	ContinuitySensitivity = 5.0

	// ConfidenceFloor is the lowest confidence reported for a valid sample.
	ConfidenceFloor = 0.3
)

// State is the smoothed view of the pitch after one raw sample.
type State struct {
	// SmoothedFrequencyHz is the exponentially smoothed frequency.
	SmoothedFrequencyHz float64 `json:"smoothed_frequency_hz"`

	// Note is the nearest equal-temperament note of SmoothedFrequencyHz.
	Note note.Name `json:"note"`

	// Confidence lies in [ConfidenceFloor, 1]. It depends only on the
	// relative jump from the previous smoothed value.
	Confidence float64 `json:"confidence"`
}

// Processor smooths raw frequency samples. It is safe for concurrent use,
// although a single session normally feeds it from one goroutine.
type Processor struct {
	mu       sync.Mutex
	previous float64
	primed   bool
}

// NewProcessor returns a Processor with no history.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process folds raw into the smoothed state. It returns ok == false, and
// leaves the history untouched, when raw is absent: non-positive, NaN or
// infinite. A single missed detection therefore never resets the smoother.
func (p *Processor) Process(raw float64) (State, bool) {
	if !valid(raw) {
		return State{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	smoothed := raw
	continuity := 1.0
	if p.primed {
		smoothed = p.previous*retention + raw*SmoothingFactor
		continuity = math.Max(0, 1-math.Abs(smoothed-p.previous)/p.previous*ContinuitySensitivity)
	}
	p.previous = smoothed
	p.primed = true

	return State{
		SmoothedFrequencyHz: smoothed,
		Note:                note.FromFrequency(smoothed),
		Confidence:          confidence(continuity),
	}, true
}

// Reset clears the smoothing history.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previous = 0
	p.primed = false
}

// Last returns the most recent smoothed frequency, if any.
func (p *Processor) Last() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previous, p.primed
}

// confidence maps continuity in [0, 1] onto [ConfidenceFloor, 1]. Written
// as a distance from 1 so perfect continuity yields exactly 1.
func confidence(continuity float64) float64 {
	c := 1 - (1-continuity)*(1-ConfidenceFloor)
	return math.Max(ConfidenceFloor, math.Min(1, c))
}

func valid(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}
