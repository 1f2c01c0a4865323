// Package retry provides a bounded, jittered exponential backoff policy.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

// ExponentialPolicy implements cover.RetryPolicy with jittered backoff.
type ExponentialPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewExponentialPolicy builds a policy. Zero values fall back to 3 attempts,
// 250ms base delay and a 5s cap.
func NewExponentialPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &ExponentialPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		sleep:       sleepContext,
	}
}

// MaxAttempts reports the total attempt budget.
func (p *ExponentialPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Retryable classifies err as transient. Not-found, not-image, cancellation and
// non-retryable HTTP statuses are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, cover.ErrNotFound) || errors.Is(err, cover.ErrNotImage) || errors.Is(err, cover.ErrCorruptImage) {
		return false
	}
	var statusErr *cover.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	// Timeouts and transport failures are transient.
	return true
}

// ShouldRetry decides whether the error is retryable after attempt attempts.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return Retryable(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Do runs fn until it succeeds, fails permanently, or the attempt budget runs
// out. A transient failure that outlives the budget is wrapped with
// cover.ErrRetriesExhausted. The returned count is the number of attempts made.
func (p *ExponentialPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempt := 0
	for {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !Retryable(err) {
			return attempt, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if !p.ShouldRetry(err, attempt) {
			return attempt, fmt.Errorf("%w after %d attempts: %w", cover.ErrRetriesExhausted, attempt, err)
		}
		if err := p.sleep(ctx, p.Backoff(attempt-1)); err != nil {
			return attempt, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
