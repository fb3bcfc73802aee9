// Package submit sends finished session recordings to the scoring service
// and suppresses responses that arrive after a newer submission.
//
// Every call to [Coordinator.Submit] takes a new [Ticket] and cancels the
// context of the request it supersedes. When a response arrives the
// coordinator compares its ticket with the one currently wanted; a mismatch
// means the result is stale and is dropped. Transport and service failures
// never escape as errors: they become an error-shaped [scoring.Diagnosis] and
// the coordinator stays usable.
package submit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocascan/internal/engine"
	"github.com/MrWong99/vocascan/internal/observe"
	"github.com/MrWong99/vocascan/internal/resilience"
	"github.com/MrWong99/vocascan/pkg/pitch"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

// ErrStale marks a response that was superseded by a newer submission or
// abandoned with [Coordinator.Cancel]. It never leaves the package as a
// return value; it is recorded on the submission span.
var ErrStale = errors.New("submit: stale submission")

// Ticket identifies one submission. Tickets increase monotonically per
// [Coordinator], starting at 1.
type Ticket uint64

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithBreaker guards every scoring call with cb. While the breaker is open,
// submissions fail fast with an error-shaped diagnosis.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Coordinator) {
		c.breaker = cb
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator serialises submissions to a [scoring.Provider]. It is safe for
// concurrent use.
type Coordinator struct {
	provider scoring.Provider
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics

	mu     sync.Mutex
	last   Ticket
	wanted Ticket // 0 when no response is wanted
	cancel context.CancelFunc
}

// New creates a Coordinator that submits to p.
func New(p scoring.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{provider: p}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Submit scores rec and returns its diagnosis. ok is false when the response
// went stale before it arrived: a newer Submit or a Cancel happened in the
// meantime. A failed request yields ok == true with an error-shaped
// diagnosis.
//
// The recording's smoothed pitch states are summarised and sent along with
// the audio. ctx bounds the request in addition to the coordinator's own
// cancellation.
func (c *Coordinator) Submit(ctx context.Context, rec *engine.Recording) (scoring.Diagnosis, bool) {
	req := scoring.Request{}
	if rec != nil {
		req = scoring.Request{
			SessionID: rec.ID,
			Audio:     rec.Audio,
			MIMEType:  rec.MIMEType,
			Summary:   pitch.Summarize(rec.Pitch),
		}
	} else {
		req.Summary = pitch.Summarize(nil)
	}
	if req.SessionID != "" {
		ctx = observe.WithSessionID(ctx, req.SessionID)
	}

	return c.do(ctx, "submit.score", func(ctx context.Context) (scoring.Diagnosis, error) {
		return c.provider.Score(ctx, req)
	})
}

// SubmitPitch scores a single sustained pitch. It follows the same ticket
// and failure rules as [Coordinator.Submit]; the returned diagnosis carries
// hz and stability alongside the service score.
func (c *Coordinator) SubmitPitch(ctx context.Context, hz, stability float64) (scoring.Diagnosis, bool) {
	return c.do(ctx, "submit.score_pitch", func(ctx context.Context) (scoring.Diagnosis, error) {
		res, err := c.provider.ScorePitch(ctx, hz)
		if err != nil {
			return scoring.Diagnosis{}, err
		}
		return scoring.Success(hz, stability, res.Score, res.Message), nil
	})
}

// Cancel abandons the in-flight submission, if any, without issuing a
// replacement. Its response is discarded when it arrives.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.wanted != 0 {
		slog.Debug("submission cancelled", "ticket", uint64(c.wanted))
	}
	c.wanted = 0
}

// Latest returns the most recently issued ticket, or 0 if none was issued.
func (c *Coordinator) Latest() Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// issue takes a new ticket and supersedes the previous submission.
func (c *Coordinator) issue(ctx context.Context) (Ticket, context.Context, context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.last++
	c.wanted = c.last
	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return c.last, sctx, cancel
}

// settle reports whether t is still wanted and, if so, retires it. The
// second result is true when t was abandoned by Cancel rather than
// superseded.
func (c *Coordinator) settle(t Ticket) (current, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wanted != t {
		return false, c.wanted == 0 && c.last == t
	}
	c.wanted = 0
	c.cancel = nil
	return true, false
}

func (c *Coordinator) do(ctx context.Context, op string, call func(context.Context) (scoring.Diagnosis, error)) (scoring.Diagnosis, bool) {
	t, sctx, cancel := c.issue(ctx)
	defer cancel()

	sctx, span := observe.StartSpan(sctx, op)
	log := observe.Logger(sctx).With("ticket", uint64(t))
	start := time.Now()

	var d scoring.Diagnosis
	err := c.execute(func() error {
		var err error
		d, err = call(sctx)
		return err
	})

	current, cancelled := c.settle(t)
	if !current {
		outcome := observe.OutcomeStale
		if cancelled {
			outcome = observe.OutcomeCancelled
		}
		c.metrics.RecordSubmission(ctx, outcome, time.Since(start))
		observe.EndSpan(span, ErrStale)
		log.Debug("discarding stale submission result", "outcome", outcome)
		return scoring.Diagnosis{}, false
	}

	if err != nil {
		d = scoring.Failure(failureMessage(err))
		log.Warn("submission failed", "err", err)
	}
	outcome := observe.OutcomeSuccess
	if d.IsError() {
		outcome = observe.OutcomeError
	}
	c.metrics.RecordSubmission(ctx, outcome, time.Since(start))
	observe.EndSpan(span, err)
	log.Info("submission finished", "outcome", outcome, "diagnosis", d.String())
	return d, true
}

func (c *Coordinator) execute(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "scoring service unavailable"
	case errors.Is(err, context.Canceled):
		return "submission cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "scoring service timed out"
	default:
		return err.Error()
	}
}
