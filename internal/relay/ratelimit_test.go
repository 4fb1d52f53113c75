package relay

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(3, 60) // 3 burst, 1/s refill

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("burst should not block, took %v", elapsed)
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(1, 0.001) // effectively never refills

	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context error while starved")
	}
}

func TestRateLimiter_DefaultsOnBadInput(t *testing.T) {
	rl := NewRateLimiter(0, -1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("defaults should allow immediate call: %v", err)
	}
}
