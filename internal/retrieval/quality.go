package retrieval

import (
	"context"
	"math"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
)

// Quality summarizes how trustworthy an evidence set is.
type Quality struct {
	Average     float64
	Min         float64
	Max         float64
	Sections    int
	Consistency float64 // 1 minus the estimated contradiction between segments
	Score       float64
	Confidence  string // HIGH, MEDIUM, LOW or VERY_LOW
}

// AssessQuality scores an evidence set, embedding the segments to measure
// how much they agree with each other.
func (r *Retriever) AssessQuality(ctx context.Context, segs []database.EvidenceSegment) (Quality, error) {
	if len(segs) < 2 {
		return ScoreQuality(segs, nil), nil
	}
	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return Quality{}, err
	}
	return ScoreQuality(segs, vecs), nil
}

// ScoreQuality computes Quality from segments and, optionally, their
// embeddings in the same order.
func ScoreQuality(segs []database.EvidenceSegment, vecs [][]float64) Quality {
	if len(segs) == 0 {
		return Quality{Confidence: "VERY_LOW"}
	}

	q := Quality{Min: math.Inf(1), Max: math.Inf(-1)}
	sections := map[SectionCategory]bool{}
	highPriority := 0
	var sum float64
	for _, s := range segs {
		sum += s.SimilarityScore
		q.Min = math.Min(q.Min, s.SimilarityScore)
		q.Max = math.Max(q.Max, s.SimilarityScore)
		cat := CategorizeSection(s.SourceSection)
		if cat == SectionOther {
			sections[SectionCategory(s.SourceSection)] = true
		} else {
			sections[cat] = true
		}
		if cat == SectionMethods || cat == SectionResults {
			highPriority++
		}
	}
	q.Average = sum / float64(len(segs))
	q.Sections = len(sections)
	q.Consistency = 1 - contradiction(vecs)

	diversity := math.Min(float64(q.Sections)/3.0, 1.0)
	priority := math.Min(float64(highPriority)/float64(len(segs))/0.4, 1.0)

	q.Score = 0.35*q.Average + 0.15*q.Min + 0.20*diversity + 0.20*priority + 0.10*q.Consistency
	switch {
	case q.Score >= 0.8:
		q.Confidence = "HIGH"
	case q.Score >= 0.6:
		q.Confidence = "MEDIUM"
	case q.Score >= 0.4:
		q.Confidence = "LOW"
	default:
		q.Confidence = "VERY_LOW"
	}
	return q
}

// contradiction maps the mean pairwise similarity of the segments onto a
// coarse contradiction estimate. Fewer than two vectors means none.
func contradiction(vecs [][]float64) float64 {
	if len(vecs) < 2 {
		return 0
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += Cosine(vecs[i], vecs[j])
			pairs++
		}
	}
	avg := sum / float64(pairs)
	switch {
	case avg >= 0.7:
		return 0
	case avg >= 0.5:
		return 0.3
	case avg >= 0.3:
		return 0.6
	}
	return 0.9
}
