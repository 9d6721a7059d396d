package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/riftdb/riftdb/internal/errs"
)

func TestRetryPolicy_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: 0}
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetryPolicy_RetriesNetworkErrorsUpToAttempts(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: 0}
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return errs.New(errs.Network, "dial", errors.New("connection refused"))
	})
	if err == nil {
		t.Fatal("expected final failure to be returned")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryPolicy_DoesNotRetryAuthRejection(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: 0}
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return errs.New(errs.Auth, "handshake", errors.New("bad credential"))
	})
	if err == nil {
		t.Fatal("expected auth error to be surfaced")
	}
	if calls != 1 {
		t.Fatalf("expected no retry on auth rejection, got %d calls", calls)
	}
}
