package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
)

// flakyEmbedder fails its first failures calls with err.
type flakyEmbedder struct {
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func TestRetryingEmbedderRetriesRateLimit(t *testing.T) {
	next := &flakyEmbedder{failures: 1, err: &llm.StatusError{Provider: "OpenAI", Code: 429}}
	e := RetryingEmbedder(BudgetedEmbedder(next, NewBudget(1)), 3, time.Millisecond)

	vecs, err := e.Embed(context.Background(), []string{"a"})
	if err != nil || len(vecs) != 1 {
		t.Fatalf("Embed = %v, %v", vecs, err)
	}
	if next.calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", next.calls.Load())
	}
}

func TestRetryingEmbedderGivesUp(t *testing.T) {
	next := &flakyEmbedder{failures: 10, err: &llm.StatusError{Provider: "OpenAI", Code: 503}}
	e := RetryingEmbedder(next, 3, 0)

	if _, err := e.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if next.calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", next.calls.Load())
	}
}

func TestRetryingEmbedderPermanentError(t *testing.T) {
	next := &flakyEmbedder{failures: 10, err: &llm.StatusError{Provider: "OpenAI", Code: 401}}
	e := RetryingEmbedder(next, 3, 0)

	_, err := e.Embed(context.Background(), []string{"a"})
	if !llm.IsAuthFailure(err) {
		t.Errorf("expected the auth failure to surface, got %v", err)
	}
	if next.calls.Load() != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", next.calls.Load())
	}
}

func TestRetryingEmbedderStopsOnCancel(t *testing.T) {
	next := &flakyEmbedder{failures: 10, err: &llm.StatusError{Provider: "OpenAI", Code: 429}}
	e := RetryingEmbedder(next, 5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	if _, err := e.Embed(ctx, []string{"a"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if next.calls.Load() != 1 {
		t.Errorf("expected one call before the backoff, got %d", next.calls.Load())
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("zero sleep: %v", err)
	}
}
