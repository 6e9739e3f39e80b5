package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxAttempts bounds Do when Options.MaxAttempts is unset.
const DefaultMaxAttempts = 5

// Options configures Do.
type Options struct {
	// MaxAttempts counts the first call. Values below 1 use DefaultMaxAttempts.
	MaxAttempts int
	Policy      *Policy

	// OnRetry runs before each wait so callers can show the attempt and countdown.
	OnRetry func(attempt int, delay time.Duration, reason string)
	Logger  *slog.Logger
}

// Sleep waits for d or until ctx is done. A canceled wait returns an error
// matching both ErrCanceled and the context's error.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, fails terminally, runs out of attempts, or
// ctx is canceled during a wait.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	policy := opts.Policy
	if policy == nil {
		policy = defaultPolicy
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
		}

		d := policy.Decide(attempt, ContextFor(err))
		if !d.ShouldRetry {
			return &TerminalError{Err: err}
		}
		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Reason: d.Reason, Err: err}
		}

		logger.Info("retry scheduled",
			slog.Int("attempt", attempt),
			slog.Duration("delay", d.Delay),
			slog.String("reason", d.Reason))
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, d.Delay, d.Reason)
		}

		if err := Sleep(ctx, d.Delay); err != nil {
			return err
		}
	}
}
