package cache

import (
	"context"
	"sync/atomic"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Tiered checks stores in order and backfills faster tiers on a hit in a
// slower one.
type Tiered []Store

// Get returns the first hit.
func (t Tiered) Get(ctx context.Context, key string) ([]float64, bool) {
	for i, s := range t {
		if vec, ok := s.Get(ctx, key); ok {
			for j := 0; j < i; j++ {
				_ = t[j].Set(ctx, key, vec)
			}
			return vec, true
		}
	}
	return nil, false
}

// Set writes to every tier. The first error is returned after all tiers
// were tried.
func (t Tiered) Set(ctx context.Context, key string, vec []float64) error {
	var first error
	for _, s := range t {
		if err := s.Set(ctx, key, vec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Embedder serves embeddings from a Store and forwards misses to the
// wrapped embedder in one batch.
type Embedder struct {
	next   llm.Embedder
	store  Store
	model  string
	hits   atomic.Int64
	misses atomic.Int64
}

// NewEmbedder wraps next with a cache keyed on model.
func NewEmbedder(next llm.Embedder, store Store, model string) *Embedder {
	return &Embedder{next: next, store: store, model: model}
}

// Embed returns one vector per text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))

	var missing []string
	pending := map[string][]int{}
	for i, text := range texts {
		keys[i] = Key(e.model, text)
		if vec, ok := e.store.Get(ctx, keys[i]); ok {
			out[i] = vec
			e.hits.Add(1)
			continue
		}
		if _, seen := pending[keys[i]]; !seen {
			missing = append(missing, text)
		}
		pending[keys[i]] = append(pending[keys[i]], i)
	}

	if len(missing) == 0 {
		return out, nil
	}
	e.misses.Add(int64(len(missing)))

	vecs, err := e.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, eris.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}

	for i, text := range missing {
		key := Key(e.model, text)
		if err := e.store.Set(ctx, key, vecs[i]); err != nil {
			zap.L().Debug("embedding cache write failed", zap.Error(err))
		}
		for _, idx := range pending[key] {
			out[idx] = vecs[i]
		}
	}
	return out, nil
}

// Stats returns cache hits and misses since creation.
func (e *Embedder) Stats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}
