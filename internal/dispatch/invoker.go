package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCircuitOpen is returned without touching the channel while the
// breaker is open. Checked with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Operation is a single channel call returning a provider message ID
type Operation func(ctx context.Context) (string, error)

// InvokerConfig holds retry parameters
type InvokerConfig struct {
	MaxAttempts  int           // attempts per invocation
	InitialDelay time.Duration // first backoff; doubles per attempt
}

// Invoker wraps a channel call with bounded retries and exponential
// backoff, consulting the circuit breaker before attempting. One invoker
// instance is shared by a single scheduler; the breaker handles its own
// locking.
type Invoker struct {
	breaker      *Breaker
	maxAttempts  int
	initialDelay time.Duration
	logger       *slog.Logger

	// sleep is swappable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates a retrying invoker bound to a circuit breaker
func NewInvoker(breaker *Breaker, cfg InvokerConfig, logger *slog.Logger) *Invoker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	return &Invoker{
		breaker:      breaker,
		maxAttempts:  cfg.MaxAttempts,
		initialDelay: cfg.InitialDelay,
		logger:       logger,
		sleep:        sleepCtx,
	}
}

// Invoke runs the operation with retries. An accepted send must carry a
// non-empty message ID; an empty ID is treated as a failure even when the
// call returned no error. The breaker is reported once per invocation:
// success on any successful attempt, failure after the last attempt.
func (i *Invoker) Invoke(ctx context.Context, op Operation) (string, error) {
	if !i.breaker.Allow() {
		remaining := i.breaker.RemainingCooldown()
		return "", fmt.Errorf("%w: retry in %s", ErrCircuitOpen, remaining.Round(time.Second))
	}

	var lastErr error
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := i.backoff(attempt)
			i.logger.Debug("retrying dispatch", "attempt", attempt, "backoff", backoff)
			if err := i.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		id, err := op(ctx)
		if err == nil && id == "" {
			err = errors.New("channel accepted send without a message id")
		}
		if err == nil {
			i.breaker.RecordSuccess()
			return id, nil
		}

		lastErr = err
		i.logger.Warn("dispatch attempt failed", "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	i.breaker.RecordFailure()
	return "", fmt.Errorf("dispatch failed after %d attempts: %w", i.maxAttempts, lastErr)
}

// backoff returns initialDelay * 2^(attempt-2): the wait before the given
// attempt, so attempt 2 waits one initial delay.
func (i *Invoker) backoff(attempt int) time.Duration {
	return i.initialDelay * time.Duration(1<<(attempt-2))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
