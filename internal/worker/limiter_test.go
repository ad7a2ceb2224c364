package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiterPerModel(t *testing.T) {
	l := NewLimiter(1, 1)
	ctx := context.Background()

	if err := l.Wait(ctx, "model-a"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// A different model has its own bucket and is not delayed.
	start := time.Now()
	if err := l.Wait(ctx, "model-b"); err != nil {
		t.Fatalf("wait model-b: %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Error("model-b should not wait for model-a's bucket")
	}

	// model-a's bucket is empty; a short deadline must expire.
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(short, "model-a"); err == nil {
		t.Error("expected model-a to be rate limited")
	}
}

func TestLimiterGetReturnsSameInstance(t *testing.T) {
	l := NewLimiter(5, 2)
	if l.get("m") != l.get("m") {
		t.Error("expected a single limiter per model")
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(0, 0)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx, "m"); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Wait(ctx, "m"); err != nil {
		t.Errorf("nil limiter: %v", err)
	}
}

func TestSetModelRate(t *testing.T) {
	l := NewLimiter(0, 0)
	l.SetModelRate("slow", 1, 1)
	ctx := context.Background()
	_ = l.Wait(ctx, "slow")
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(short, "slow"); err == nil {
		t.Error("expected override rate to apply")
	}
}

func TestSetModelRateZeroIsUnlimited(t *testing.T) {
	l := NewLimiter(1, 1)
	l.SetModelRate("fast", 0, 0)
	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 20; i++ {
		if err := l.Wait(short, "fast"); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}
