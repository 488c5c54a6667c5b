package order

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"order-engine/internal/monitor"
)

// RetryPolicy bounds attempts per order and spaces them with exponential
// backoff: the wait after attempt n is BaseDelay * 2^(n-1).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// MaxAttempts is MaxRetries, at least 1.
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries <= 0 {
		return 1
	}
	return p.MaxRetries
}

// Delay returns the backoff to wait after the failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return p.BaseDelay << shift
}

// Attempter runs single attempts and records exhaustion. *Executor
// implements it.
type Attempter interface {
	Execute(ctx context.Context, o Order, attempt int) (Order, error)
	MarkExhausted(ctx context.Context, id string, attempts int, cause error) (Order, error)
}

// Outcome is the result of running an order to a final status.
type Outcome struct {
	Order    Order
	Attempts int
	// Err is the RetryExhaustedError when every attempt failed, combined with
	// any error from recording it. Nil when the order was confirmed.
	Err error
}

// Retrier runs attempts for one order until it is confirmed or the policy
// is exhausted. It never returns an error to the worker; failures are
// recorded on the order.
type Retrier struct {
	attempter Attempter
	policy    RetryPolicy
	log       *zap.Logger
	metrics   *monitor.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRetrier(attempter Attempter, policy RetryPolicy, log *zap.Logger, metrics *monitor.Metrics) *Retrier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrier{
		attempter: attempter,
		policy:    policy,
		log:       log,
		metrics:   metrics,
		sleep:     sleepContext,
	}
}

// Run executes o with retries. The backoff sleep happens in the caller's
// goroutine, so the worker slot stays occupied while waiting.
func (r *Retrier) Run(ctx context.Context, o Order) Outcome {
	maxAttempts := r.policy.MaxAttempts()
	var (
		last     error
		attempts int
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		start := time.Now()
		final, err := r.attempter.Execute(ctx, o, attempt)
		r.metrics.ObserveAttempt(time.Since(start), err)
		if err == nil {
			r.metrics.Completed(string(StatusConfirmed))
			return Outcome{Order: final, Attempts: attempt}
		}
		last = err
		if attempt == maxAttempts {
			break
		}

		delay := r.policy.Delay(attempt)
		r.log.Warn("attempt failed, retrying",
			zap.String("order_id", o.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		r.metrics.Retried()
		if err := r.sleep(ctx, delay); err != nil {
			last = multierr.Append(last, err)
			break
		}
	}

	exhausted := &RetryExhaustedError{OrderID: o.ID, Attempts: attempts, Last: last}
	r.metrics.Completed(string(StatusFailed))
	failed, err := r.attempter.MarkExhausted(ctx, o.ID, attempts, exhausted)
	if err != nil {
		return Outcome{Order: o, Attempts: attempts, Err: multierr.Append(exhausted, err)}
	}
	return Outcome{Order: failed, Attempts: attempts, Err: exhausted}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
