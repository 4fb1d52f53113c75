package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"mootbot/internal/domain"
)

// RetryPolicy bounds the attempt chain around a provider call.
type RetryPolicy struct {
	MaxRetries     int           // extra attempts after the first (0 = no retry)
	BaseDelay      time.Duration // first backoff step
	MaxDelay       time.Duration // backoff ceiling
	RateLimitDelay time.Duration // floor for rate-limited backoff
}

// DefaultRetryPolicy matches the relay's bounded-backoff contract.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		RateLimitDelay: 5 * time.Second,
	}
}

// CompleteWithRetry calls p.Complete, retrying transient failures with
// exponential backoff and jitter. Rate-limited errors wait at least the
// server's retry hint. Terminal errors and context cancellation return
// immediately.
func CompleteWithRetry(ctx context.Context, p domain.Provider, req domain.CompletionRequest, policy RetryPolicy, logger *slog.Logger) (*domain.CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := backoffDelay(policy, attempt, lastErr)
			logger.Warn("retrying model request",
				"provider", p.Name(),
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !domain.Retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("model request failed after %d retries: %w", policy.MaxRetries, lastErr)
}

// backoffDelay computes the wait before the given attempt (1-based).
// Exponential with jitter; rate-limited failures honor the retry hint.
func backoffDelay(policy RetryPolicy, attempt int, err error) time.Duration {
	base := policy.BaseDelay << (attempt - 1)
	if base > policy.MaxDelay {
		base = policy.MaxDelay
	}
	delay := base + time.Duration(rand.Int64N(int64(base/2+1)))

	if hint := domain.RetryHint(err); hint > 0 || isRateLimited(err) {
		floor := policy.RateLimitDelay
		if hint > floor {
			floor = hint
		}
		if delay < floor {
			delay = floor
		}
	}
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

func isRateLimited(err error) bool {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == domain.KindRateLimited
	}
	return false
}
