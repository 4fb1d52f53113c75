package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"mootbot/internal/domain"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     maxRetries,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		RateLimitDelay: time.Millisecond,
	}
}

func serverErr() error {
	return &domain.APIError{Kind: domain.KindServer, Provider: "mock", Status: 502, Message: "bad gateway"}
}

func TestCompleteWithRetry_SucceedsFirstTry(t *testing.T) {
	p := &mockProvider{name: "mock", resp: &domain.CompletionResponse{Content: "hi there"}}

	resp, err := CompleteWithRetry(context.Background(), p, domain.CompletionRequest{}, fastPolicy(3), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("expected 'hi there', got %q", resp.Content)
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", p.calls)
	}
}

func TestCompleteWithRetry_TransientFailuresThenSuccess(t *testing.T) {
	p := &mockProvider{
		name:     "mock",
		err:      serverErr(),
		failUpTo: 2,
		resp:     &domain.CompletionResponse{Content: "recovered"},
	}

	resp, err := CompleteWithRetry(context.Background(), p, domain.CompletionRequest{}, fastPolicy(3), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("expected 'recovered', got %q", resp.Content)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", p.calls)
	}
}

func TestCompleteWithRetry_ExhaustsAttemptCeiling(t *testing.T) {
	p := &mockProvider{name: "mock", err: serverErr()}

	_, err := CompleteWithRetry(context.Background(), p, domain.CompletionRequest{}, fastPolicy(2), testLogger())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 calls (1 initial + 2 retries), got %d", p.calls)
	}
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected wrapped APIError, got %v", err)
	}
}

func TestCompleteWithRetry_TerminalErrorNotRetried(t *testing.T) {
	p := &mockProvider{
		name: "mock",
		err:  &domain.APIError{Kind: domain.KindAuth, Provider: "mock", Status: 401, Message: "bad key"},
	}

	_, err := CompleteWithRetry(context.Background(), p, domain.CompletionRequest{}, fastPolicy(3), testLogger())
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Fatalf("terminal error must not be retried, got %d calls", p.calls)
	}
}

func TestCompleteWithRetry_UnclassifiedErrorNotRetried(t *testing.T) {
	p := &mockProvider{name: "mock", err: errors.New("something odd")}

	_, err := CompleteWithRetry(context.Background(), p, domain.CompletionRequest{}, fastPolicy(3), testLogger())
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Fatalf("unclassified error must not be retried, got %d calls", p.calls)
	}
}

func TestCompleteWithRetry_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	p := &mockProvider{name: "mock", err: serverErr()}

	_, err := CompleteWithRetry(context.Background(), p, domain.CompletionRequest{}, fastPolicy(0), testLogger())
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly 1 call with MaxRetries=0, got %d", p.calls)
	}
}

func TestCompleteWithRetry_CancelledContextDuringBackoff(t *testing.T) {
	p := &mockProvider{name: "mock", err: serverErr()}

	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, RateLimitDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := CompleteWithRetry(ctx, p, domain.CompletionRequest{}, policy, testLogger())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestCompleteWithRetry_RateLimitHonorsHint(t *testing.T) {
	p := &mockProvider{
		name:     "mock",
		err:      &domain.APIError{Kind: domain.KindRateLimited, Provider: "mock", Status: 429, RetryAfter: 20 * time.Millisecond},
		failUpTo: 1,
		resp:     &domain.CompletionResponse{Content: "ok"},
	}

	policy := RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Second, RateLimitDelay: time.Millisecond}
	start := time.Now()
	_, err := CompleteWithRetry(context.Background(), p, domain.CompletionRequest{}, policy, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected backoff to honor retry hint, waited only %v", elapsed)
	}
}
