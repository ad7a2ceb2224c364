package retrieval

import (
	"context"
	"math"
	"testing"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
)

// vocabEmbedder embeds text as counts of a small vocabulary, which makes
// cosine similarities easy to reason about in tests.
type vocabEmbedder struct {
	vocab []string
	calls int
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{vocab: []string{"alpha", "beta", "gamma", "delta", "epsilon"}}
}

func (e *vocabEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	e.calls++
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, len(e.vocab))
		for _, tok := range Tokenize(text) {
			for j, w := range e.vocab {
				if tok == w {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

func testDoc() *database.Document {
	return &database.Document{
		ID:       "ref",
		Abstract: "An abstract that mentions delta only.",
		Sections: []database.Section{
			{Label: "Introduction", Text: "alpha alpha results confirm the alpha effect strongly\n\nshort"},
			{Label: "Results", Text: "alpha and beta were measured in tandem here\n\n   \n\nalpha beta gamma all appear in this paragraph"},
			{Label: "Discussion", Text: "nothing relevant is written in this paragraph at all"},
		},
	}
}

func TestPartition(t *testing.T) {
	units := Partition(testDoc(), 20)
	if len(units) != 4 {
		t.Fatalf("expected 4 units, got %d: %+v", len(units), units)
	}
	for i, u := range units {
		if u.Position != i {
			t.Errorf("unit %d has position %d", i, u.Position)
		}
	}
	if units[1].Section != "Results" || units[2].Text != "alpha beta gamma all appear in this paragraph" {
		t.Errorf("unexpected units %+v", units)
	}
	for _, u := range units {
		if u.Text == "An abstract that mentions delta only." {
			t.Error("abstract must not be partitioned into body units")
		}
	}
	if Partition(nil, 20) != nil {
		t.Error("expected nil for nil document")
	}
}

func TestQueryTokens(t *testing.T) {
	got := QueryTokens("The data of Smith et al. were obtained from X-ray scans")
	want := []string{"data", "smith", "obtained", "ray", "scans"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIndexTop(t *testing.T) {
	units := []Unit{
		{Position: 0, Text: "cells divide rapidly under stress"},
		{Position: 1, Text: "mitochondria produce energy for cells"},
		{Position: 2, Text: "unrelated text about weather patterns"},
		{Position: 3, Text: "mitochondria produce energy for cells"},
	}
	ix := NewIndex(units)
	top := ix.Top([]string{"mitochondria"}, 10)
	if len(top) != 2 {
		t.Fatalf("expected 2 non-zero candidates, got %v", top)
	}
	if top[0] != 1 || top[1] != 3 {
		t.Errorf("equal scores must keep document order, got %v", top)
	}
	if got := ix.Top([]string{"mitochondria", "cells"}, 1); len(got) != 1 {
		t.Errorf("expected n to bound the shortlist, got %v", got)
	}
	if got := ix.Top([]string{"absent"}, 10); len(got) != 0 {
		t.Errorf("expected no candidates for unknown term, got %v", got)
	}
}

func TestIndexCommonTermStillScores(t *testing.T) {
	units := []Unit{{Text: "alpha one"}, {Text: "alpha two"}, {Text: "alpha three"}}
	scores := NewIndex(units).Scores([]string{"alpha"})
	for i, s := range scores {
		if s <= 0 {
			t.Errorf("unit %d: expected positive score for a term in every unit, got %v", i, s)
		}
	}
}

func TestRetrieveEmptyDocument(t *testing.T) {
	emb := newVocabEmbedder()
	r := NewRetriever(emb, 20, 20)
	segs, err := r.Retrieve(context.Background(), "alpha", &database.Document{ID: "empty"}, Options{TopK: 5, MinScore: 0.7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("expected no segments, got %v", segs)
	}
	if emb.calls != 0 {
		t.Error("embedder should not be called for an empty document")
	}
}

func TestRetrieveMinScoreNoPadding(t *testing.T) {
	r := NewRetriever(newVocabEmbedder(), 20, 20)
	segs, err := r.Retrieve(context.Background(), "alpha", testDoc(), Options{TopK: 5, MinScore: 0.7})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments above 0.7, got %d", len(segs))
	}
	if segs[0].SourceSection != "Introduction" || math.Abs(segs[0].SimilarityScore-1) > 1e-9 {
		t.Errorf("unexpected best segment %+v", segs[0])
	}
	for i, s := range segs {
		if s.SimilarityScore < 0.7 {
			t.Errorf("segment %d below min score: %v", i, s.SimilarityScore)
		}
		if s.Rank != i || s.RetrievalMethod != MethodHybrid {
			t.Errorf("segment %d: rank=%d method=%s", i, s.Rank, s.RetrievalMethod)
		}
	}
}

func TestRetrieveMonotoneInTopK(t *testing.T) {
	r := NewRetriever(newVocabEmbedder(), 20, 20)
	ctx := context.Background()
	var prev []database.EvidenceSegment
	for k := 1; k <= 6; k++ {
		segs, err := r.Retrieve(ctx, "alpha beta", testDoc(), Options{TopK: k, MinScore: 0.1})
		if err != nil {
			t.Fatalf("Retrieve(k=%d): %v", k, err)
		}
		if len(segs) < len(prev) {
			t.Fatalf("k=%d returned fewer segments than k=%d", k, k-1)
		}
		for i := range prev {
			if segs[i].Text != prev[i].Text {
				t.Errorf("k=%d changed segment %d: %q -> %q", k, i, prev[i].Text, segs[i].Text)
			}
		}
		prev = segs
	}
}

func TestRetrievePriorityReordersTies(t *testing.T) {
	doc := &database.Document{
		ID: "ref",
		Sections: []database.Section{
			{Label: "Discussion", Text: "alpha beta discussed at some length here"},
			{Label: "Materials and Methods", Text: "alpha beta measured with the standard kit"},
		},
	}
	r := NewRetriever(newVocabEmbedder(), 20, 20)
	ctx := context.Background()

	plain, err := r.Retrieve(ctx, "alpha beta", doc, Options{TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(plain) != 2 || plain[0].SourceSection != "Discussion" {
		t.Fatalf("without priority, ties keep document order: %+v", plain)
	}

	weighted, err := r.Retrieve(ctx, "alpha beta", doc, Options{TopK: 5, Priority: PriorityFor(Methodological)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(weighted) != 2 {
		t.Fatalf("priority must not filter, got %d segments", len(weighted))
	}
	if weighted[0].SourceSection != "Materials and Methods" {
		t.Errorf("expected Methods first, got %+v", weighted[0])
	}
	if weighted[0].SimilarityScore != plain[1].SimilarityScore {
		t.Error("stored similarity must be the raw cosine, not the weighted score")
	}
}

func TestRetrievePriorityDoesNotHideBetterPassage(t *testing.T) {
	doc := &database.Document{
		ID: "ref",
		Sections: []database.Section{
			{Label: "Discussion", Text: "alpha alpha alpha repeated for emphasis"},
			{Label: "Methods", Text: "alpha beta gamma in the methods paragraph"},
		},
	}
	r := NewRetriever(newVocabEmbedder(), 20, 20)
	segs, err := r.Retrieve(context.Background(), "alpha", doc, Options{TopK: 1, Priority: PriorityFor(Methodological)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(segs) != 1 || segs[0].SourceSection != "Discussion" {
		t.Errorf("expected the clearly better Discussion passage, got %+v", segs)
	}
}

func TestRetrieveWithAbstract(t *testing.T) {
	r := NewRetriever(newVocabEmbedder(), 20, 20)
	segs, err := r.RetrieveWithAbstract(context.Background(), "gamma delta epsilon", testDoc(), Options{TopK: 15, MinScore: 0.5})
	if err != nil {
		t.Fatalf("RetrieveWithAbstract: %v", err)
	}
	if len(segs) == 0 || segs[0].RetrievalMethod != MethodAbstract {
		t.Fatalf("expected abstract first, got %+v", segs)
	}
	if segs[0].Text != "An abstract that mentions delta only." || segs[0].Rank != 0 {
		t.Errorf("unexpected abstract segment %+v", segs[0])
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Rank != i {
			t.Errorf("segment %d has rank %d", i, segs[i].Rank)
		}
	}

	noAbstract := testDoc()
	noAbstract.Abstract = ""
	segs, err = r.RetrieveWithAbstract(context.Background(), "alpha", noAbstract, Options{TopK: 1, MinScore: 0.7})
	if err != nil || len(segs) != 1 || segs[0].RetrievalMethod != MethodHybrid {
		t.Errorf("without an abstract only hybrid segments are returned: %+v, %v", segs, err)
	}
}

func TestCosine(t *testing.T) {
	if Cosine([]float64{1, 0}, []float64{0, 0}) != 0 {
		t.Error("zero vector must give 0")
	}
	if Cosine([]float64{1}, []float64{1, 0}) != 0 {
		t.Error("length mismatch must give 0")
	}
	if math.Abs(Cosine([]float64{1, 1}, []float64{2, 2})-1) > 1e-9 {
		t.Error("parallel vectors must give 1")
	}
}
