package worker

import (
	"context"
	"time"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type retryingEmbedder struct {
	next     llm.Embedder
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// RetryingEmbedder retries transient embedding failures with exponential
// backoff, up to attempts calls in total. Wrap it around a budgeted
// embedder so no budget slot is held while waiting.
func RetryingEmbedder(next llm.Embedder, attempts int, backoff time.Duration) llm.Embedder {
	if attempts <= 0 {
		attempts = 3
	}
	return &retryingEmbedder{next: next, attempts: attempts, backoff: backoff, sleep: Sleep}
}

func (e *retryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	for attempt := 1; ; attempt++ {
		out, err := e.next.Embed(ctx, texts)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !llm.IsTransient(err) {
			return nil, err
		}
		if attempt >= e.attempts {
			return nil, eris.Wrapf(err, "giving up after %d attempts", attempt)
		}
		wait := e.backoff << (attempt - 1)
		zap.L().Debug("retrying embedding call",
			zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}
