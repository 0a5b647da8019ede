// Package timing provides sleep-time strategies for task workers.
package timing

import (
	"sync"
	"time"

	"github.com/vinayprograms/agentflow/errors"
)

const (
	// DefaultAlpha is the smoothing factor used when none is configured.
	DefaultAlpha = 0.1

	// DefaultEstimate is the initial sleep estimate.
	DefaultEstimate = 100 * time.Millisecond
)

// Adaptive derives the sleep time from an exponentially weighted moving
// average of observed waiting times. Tasks that are repeatedly idle back
// off; tasks that keep finding work poll more often.
//
// Adaptive is safe for concurrent use.
type Adaptive struct {
	alpha float64

	mu       sync.Mutex
	estimate float64 // milliseconds
}

// AdaptiveOption configures an Adaptive.
type AdaptiveOption func(*Adaptive)

// WithInitialEstimate sets the estimate used before the first sample.
func WithInitialEstimate(d time.Duration) AdaptiveOption {
	return func(a *Adaptive) {
		a.estimate = float64(d) / float64(time.Millisecond)
	}
}

// NewAdaptive creates an EWMA timer. alpha must be in (0, 1].
func NewAdaptive(alpha float64, opts ...AdaptiveOption) (*Adaptive, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, errors.InvalidConfig("alpha must be in (0, 1]",
			errors.WithMetadata("alpha", formatFloat(alpha)))
	}

	a := &Adaptive{
		alpha:    alpha,
		estimate: float64(DefaultEstimate / time.Millisecond),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.estimate < 0 {
		return nil, errors.InvalidConfig("initial estimate must not be negative")
	}
	return a, nil
}

// Default returns an Adaptive with DefaultAlpha and DefaultEstimate.
func Default() *Adaptive {
	return &Adaptive{
		alpha:    DefaultAlpha,
		estimate: float64(DefaultEstimate / time.Millisecond),
	}
}

// CalculateSleepTime folds waiting into the average and returns the new
// estimate, truncated to whole milliseconds.
//
// Waiting time is sampled at millisecond resolution; a sample that rounds
// down to zero leaves the estimate unchanged.
func (a *Adaptive) CalculateSleepTime(waiting time.Duration) time.Duration {
	w := waiting.Milliseconds()

	a.mu.Lock()
	defer a.mu.Unlock()

	if w > 0 {
		a.estimate = a.alpha*float64(w) + (1-a.alpha)*a.estimate
	}
	return time.Duration(int64(a.estimate)) * time.Millisecond
}

// Alpha returns the smoothing factor.
func (a *Adaptive) Alpha() float64 {
	return a.alpha
}

// EstimateMillis returns the current estimate in fractional milliseconds.
func (a *Adaptive) EstimateMillis() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.estimate
}

// Estimate returns the current estimate as a duration.
func (a *Adaptive) Estimate() time.Duration {
	return time.Duration(a.EstimateMillis() * float64(time.Millisecond))
}
