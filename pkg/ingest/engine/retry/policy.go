// Package retry decides whether a failed operation is attempted again and how
// long to wait before the next attempt.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// RetryPolicy defines retry logic for one pipeline boundary.
type RetryPolicy interface {
	// ShouldRetry determines if err is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait after the given failed attempt (starting from 1).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the total number of attempts. 0 means unbounded.
	GetMaxAttempts() int
}

// DefaultRetryPolicyFactory creates exponential backoff policies.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create builds a policy from a retry section of the configuration.
func (f *DefaultRetryPolicyFactory) Create(cfg config.RetryConfig) RetryPolicy {
	p := &exponentialPolicy{
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		factor:          cfg.Factor,
		retryableErrors: cfg.RetryableErrors,
	}
	if p.factor < 1 {
		p.factor = 1
	}
	return p
}

type exponentialPolicy struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	factor          float64
	retryableErrors []string
}

func (p *exponentialPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry honours the retryable flag of a PipelineError first, then the configured names.
func (p *exponentialPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := exception.AsPipelineError(err); ok && pe.IsRetryable() {
		return true
	}
	for _, name := range p.retryableErrors {
		if exception.IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

// GetBackoffInterval returns initial * factor^(attempt-1), capped at maxInterval.
func (p *exponentialPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.initialInterval) * math.Pow(p.factor, float64(attempt-1))
	if p.maxInterval > 0 && d > float64(p.maxInterval) {
		return p.maxInterval
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// policy or ctx ends. onRetry, when set, is called before each wait.
// The returned error is the last error of op, or ctx.Err() if ctx ended first.
func Do(ctx context.Context, policy RetryPolicy, name string, op func(ctx context.Context) error, onRetry func(attempt int, err error)) (int, error) {
	attempt := 0
	for {
		attempt++
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if !policy.ShouldRetry(err) {
			return attempt, err
		}
		if limit := policy.GetMaxAttempts(); limit > 0 && attempt >= limit {
			logger.Errorf("%s: giving up after %d attempts: %v", name, attempt, err)
			return attempt, err
		}
		wait := policy.GetBackoffInterval(attempt)
		logger.Warnf("%s: attempt %d failed, retrying in %s: %v", name, attempt, wait, err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

var _ RetryPolicy = (*exponentialPolicy)(nil)
