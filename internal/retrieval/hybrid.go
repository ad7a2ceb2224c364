package retrieval

import (
	"context"
	"sort"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"go.uber.org/zap"
)

// Retrieval methods recorded on evidence segments.
const (
	MethodHybrid   = "hybrid"
	MethodAbstract = "abstract"
)

// Options controls one retrieval call.
type Options struct {
	TopK     int
	MinScore float64
	Priority Priority
}

// Retriever finds evidence passages in a cited document: a BM25 shortlist
// followed by embedding similarity.
type Retriever struct {
	embedder    llm.Embedder
	lexicalTopN int
	minChars    int
}

// NewRetriever creates a retriever. lexicalTopN bounds how many BM25
// candidates are embedded per call.
func NewRetriever(embedder llm.Embedder, lexicalTopN, minParagraphChars int) *Retriever {
	if lexicalTopN <= 0 {
		lexicalTopN = 20
	}
	return &Retriever{embedder: embedder, lexicalTopN: lexicalTopN, minChars: minParagraphChars}
}

type candidate struct {
	unit     Unit
	score    float64
	weighted float64
}

// Retrieve returns up to TopK passages of doc whose similarity to query is
// at least MinScore, best first. A short or empty result is a valid answer;
// results are never padded. Priority reorders passages but never filters
// them, and equal weighted scores keep document order.
func (r *Retriever) Retrieve(ctx context.Context, query string, doc *database.Document, opts Options) ([]database.EvidenceSegment, error) {
	units := Partition(doc, r.minChars)
	if len(units) == 0 || opts.TopK <= 0 {
		return nil, nil
	}

	shortlist := NewIndex(units).Top(QueryTokens(query), r.lexicalTopN)
	if len(shortlist) == 0 {
		zap.L().Debug("no lexical candidates", zap.String("document_id", doc.ID))
		return nil, nil
	}

	texts := make([]string, len(shortlist))
	for i, idx := range shortlist {
		texts[i] = units[idx].Text
	}
	sims, err := similarities(ctx, r.embedder, query, texts)
	if err != nil {
		return nil, err
	}

	var cands []candidate
	for i, idx := range shortlist {
		if sims[i] < opts.MinScore {
			continue
		}
		u := units[idx]
		cands = append(cands, candidate{unit: u, score: sims[i], weighted: sims[i] * opts.Priority.Weight(u.Section)})
	}

	sort.Slice(cands, func(a, b int) bool {
		if cands[a].weighted != cands[b].weighted {
			return cands[a].weighted > cands[b].weighted
		}
		return cands[a].unit.Position < cands[b].unit.Position
	})
	if len(cands) > opts.TopK {
		cands = cands[:opts.TopK]
	}

	out := make([]database.EvidenceSegment, len(cands))
	for i, c := range cands {
		out[i] = database.EvidenceSegment{
			Rank:            i,
			SourceSection:   c.unit.Section,
			Text:            c.unit.Text,
			SimilarityScore: c.score,
			RetrievalMethod: MethodHybrid,
		}
	}
	return out, nil
}

// RetrieveWithAbstract is Retrieve with the document's abstract prepended
// as the first segment whenever the document has one. The abstract segment
// carries its own similarity but is exempt from MinScore.
func (r *Retriever) RetrieveWithAbstract(ctx context.Context, query string, doc *database.Document, opts Options) ([]database.EvidenceSegment, error) {
	segs, err := r.Retrieve(ctx, query, doc, opts)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Abstract == "" {
		return segs, nil
	}

	sims, err := similarities(ctx, r.embedder, query, []string{doc.Abstract})
	if err != nil {
		return nil, err
	}
	abstract := database.EvidenceSegment{
		SourceSection:   string(SectionAbstract),
		Text:            doc.Abstract,
		SimilarityScore: sims[0],
		RetrievalMethod: MethodAbstract,
	}
	out := append([]database.EvidenceSegment{abstract}, segs...)
	for i := range out {
		out[i].Rank = i
	}
	return out, nil
}
