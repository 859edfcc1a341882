package async

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Policy is an exponential backoff retry policy: after failed attempt n the next attempt waits BaseDelay * 2^(n-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is 3 attempts, waiting 2s then 4s.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
}

// Delay returns how long to wait after the given (1-based) failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// Retry calls op until it succeeds, the attempts run out, or ctx is done. The returned error aggregates every failed
// attempt.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var result error
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		value, err := op(ctx, attempt)
		if err == nil {
			return value, nil
		}
		result = multierror.Append(result, fmt.Errorf("attempt %d: %w", attempt, err))
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, multierror.Append(result, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, fmt.Errorf("gave up after %d attempts: %w", attempts, result)
}
