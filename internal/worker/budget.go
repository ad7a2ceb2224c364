package worker

import (
	"context"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"golang.org/x/sync/semaphore"
)

// Budget caps concurrent calls to external services independently of the
// worker pool size. A nil Budget does not limit anything.
type Budget struct {
	sem  *semaphore.Weighted
	size int
}

// NewBudget allows n calls at a time.
func NewBudget(n int) *Budget {
	if n <= 0 {
		n = 1
	}
	return &Budget{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Size returns the number of concurrent calls allowed.
func (b *Budget) Size() int {
	if b == nil {
		return 0
	}
	return b.size
}

// Do runs fn once a slot is free. It returns ctx's error without calling fn
// if ctx ends first.
func (b *Budget) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.sem.Release(1)
	return fn(ctx)
}

type budgetedEmbedder struct {
	next   llm.Embedder
	budget *Budget
}

// BudgetedEmbedder routes every embedding call through b.
func BudgetedEmbedder(next llm.Embedder, b *Budget) llm.Embedder {
	return &budgetedEmbedder{next: next, budget: b}
}

func (e *budgetedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	var out [][]float64
	err := e.budget.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, texts)
		return err
	})
	return out, err
}
