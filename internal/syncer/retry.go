package syncer

import (
	"context"
	"time"

	"github.com/riftdb/riftdb/internal/errs"
)

// RetryPolicy governs retries of individual RPCs (spec §4.10: "explicit
// exponential backoff lives in a separate RetryPolicy used for
// individual RPCs (attempts attempts, delay = baseDelay × attempt)").
// The gossip loop itself is not retried; its backoff is the natural
// sleep interval between cycles.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond}
}

// Do runs fn up to Attempts times, sleeping delay = BaseDelay × attempt
// between tries, stopping early if fn's error is not errs.Retryable or
// the context is cancelled (spec §4.13: "Authentication rejection → no
// retry").
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errs.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.BaseDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}
