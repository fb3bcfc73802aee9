// Package mock provides a test double for the scoring.Provider interface.
//
// Set ScoreResult / ScoreErr for fixed responses, or ScoreFunc to control
// timing (e.g. to hold a response until a newer submission was issued).
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

// ScoreCall records a single invocation of Provider.Score.
type ScoreCall struct {
	// Ctx is the context passed to Score.
	Ctx context.Context
	// Req is the request passed to Score.
	Req scoring.Request
}

// Provider is a mock implementation of scoring.Provider.
type Provider struct {
	mu sync.Mutex

	// ScoreResult is returned by Score when ScoreFunc is nil.
	ScoreResult scoring.Diagnosis

	// ScoreErr, if non-nil, is returned by Score when ScoreFunc is nil.
	ScoreErr error

	// ScoreFunc, if non-nil, handles Score. n is the zero-based call index.
	ScoreFunc func(ctx context.Context, n int, req scoring.Request) (scoring.Diagnosis, error)

	// PitchResult is returned by ScorePitch.
	PitchResult scoring.PitchResult

	// PitchErr, if non-nil, is returned by ScorePitch.
	PitchErr error

	// ScoreCalls records every call to Score.
	ScoreCalls []ScoreCall

	// PitchCalls records the frequency of every ScorePitch call.
	PitchCalls []float64
}

// Score records the call and returns the configured result.
func (p *Provider) Score(ctx context.Context, req scoring.Request) (scoring.Diagnosis, error) {
	p.mu.Lock()
	n := len(p.ScoreCalls)
	p.ScoreCalls = append(p.ScoreCalls, ScoreCall{Ctx: ctx, Req: req})
	fn, res, err := p.ScoreFunc, p.ScoreResult, p.ScoreErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, n, req)
	}
	return res, err
}

// ScorePitch records the call and returns PitchResult, PitchErr.
func (p *Provider) ScorePitch(_ context.Context, hz float64) (scoring.PitchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PitchCalls = append(p.PitchCalls, hz)
	return p.PitchResult, p.PitchErr
}

// Calls returns a snapshot of the recorded Score calls. Thread-safe.
func (p *Provider) Calls() []ScoreCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ScoreCall, len(p.ScoreCalls))
	copy(out, p.ScoreCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ScoreCalls = nil
	p.PitchCalls = nil
}

// Ensure Provider implements scoring.Provider at compile time.
var _ scoring.Provider = (*Provider)(nil)
