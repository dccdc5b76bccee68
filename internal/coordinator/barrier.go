package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/catalogtools/catcov/internal/exchange"
)

// PollingBarrier waits for follower workers by polling the exchange directory
// until the expected number of snapshots has been persisted. It is the
// default barrier for runners that spawn workers but offer no completion
// signal of their own; it never consumes the files it counts.
type PollingBarrier struct {
	store    *exchange.Store
	expected int
	maxWait  time.Duration
}

// BarrierOption configures a PollingBarrier.
type BarrierOption func(*PollingBarrier)

// WithMaxWait bounds the total wait. Zero means wait until the context is
// cancelled.
func WithMaxWait(d time.Duration) BarrierOption {
	return func(b *PollingBarrier) {
		b.maxWait = d
	}
}

// NewPollingBarrier creates a barrier that waits for expected worker
// snapshots.
func NewPollingBarrier(store *exchange.Store, expected int, opts ...BarrierOption) *PollingBarrier {
	b := &PollingBarrier{
		store:    store,
		expected: expected,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Wait blocks until the expected number of worker snapshots exists, the
// context is cancelled, or the configured maximum wait elapses.
func (b *PollingBarrier) Wait(ctx context.Context) error {
	if b.expected <= 0 {
		return nil
	}

	operation := func() (int, error) {
		pending, err := b.store.PendingWorkers()
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		if pending < b.expected {
			return 0, fmt.Errorf("%d of %d worker snapshots persisted", pending, b.expected)
		}
		return pending, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	}
	if b.maxWait > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(b.maxWait))
	}

	pending, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		return fmt.Errorf("parallel workers did not complete: %w", err)
	}

	slog.Debug("All parallel workers persisted their state", "workers", pending)
	return nil
}
