package retrieval

import (
	"context"
	"math"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"github.com/rotisserie/eris"
)

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is zero or their lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// similarities embeds the query together with texts in one call and returns
// the cosine similarity of each text to the query.
func similarities(ctx context.Context, embedder llm.Embedder, query string, texts []string) ([]float64, error) {
	inputs := append([]string{query}, texts...)
	vecs, err := embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, eris.Wrap(err, "embedding candidates")
	}
	if len(vecs) != len(inputs) {
		return nil, eris.Errorf("got %d embeddings for %d inputs", len(vecs), len(inputs))
	}
	out := make([]float64, len(texts))
	for i := range texts {
		out[i] = Cosine(vecs[0], vecs[i+1])
	}
	return out, nil
}
