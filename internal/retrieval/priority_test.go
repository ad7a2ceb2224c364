package retrieval

import (
	"testing"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
)

func TestCategorizeSection(t *testing.T) {
	tests := map[string]SectionCategory{
		"Materials and methods":   SectionMethods,
		"Experimental Procedures": SectionMethods,
		"Results":                 SectionResults,
		"Results and discussion":  SectionResults,
		"Conclusions":             SectionDiscussion,
		"Background":              SectionIntroduction,
		"Abstract":                SectionAbstract,
		"Acknowledgements":        SectionOther,
	}
	for title, want := range tests {
		if got := CategorizeSection(title); got != want {
			t.Errorf("CategorizeSection(%q) = %s, want %s", title, got, want)
		}
	}
}

func TestInferCitationType(t *testing.T) {
	tests := []struct {
		context string
		want    CitationType
	}{
		{"Summary statistics were obtained from Jones et al. (2019).", Methodological},
		{"Sequencing followed the protocol as described in [12].", Methodological},
		{"Smith et al. showed that the effect depends on temperature.", Conceptual},
		{"This is consistent with earlier observations [4].", Conceptual},
		{"The topic has been reviewed extensively (for review see [3]).", Background},
		{"CRISPR was first described by Ishino et al.", Attribution},
		{"We thank the reviewers.", UnknownType},
	}
	for _, tt := range tests {
		if got := InferCitationType(tt.context); got != tt.want {
			t.Errorf("InferCitationType(%q) = %s, want %s", tt.context, got, tt.want)
		}
	}
}

func TestPriorityWeights(t *testing.T) {
	p := PriorityFor(Background)
	if p.Weight("Introduction") <= 1 || p.Weight("Methods") != 1 {
		t.Errorf("unexpected background weights: intro=%v methods=%v", p.Weight("Introduction"), p.Weight("Methods"))
	}
	var none Priority
	if none.Weight("Results") != 1 {
		t.Error("nil priority must be neutral")
	}
	if PriorityFor(UnknownType) != nil {
		t.Error("unknown type has no priority")
	}
	if ParseCitationType(" conceptual ") != Conceptual || ParseCitationType("other") != UnknownType {
		t.Error("ParseCitationType mismatch")
	}
}

func TestScoreQuality(t *testing.T) {
	if q := ScoreQuality(nil, nil); q.Confidence != "VERY_LOW" || q.Score != 0 {
		t.Errorf("empty evidence: %+v", q)
	}

	segs := []database.EvidenceSegment{
		{SourceSection: "Methods", SimilarityScore: 0.9},
		{SourceSection: "Results", SimilarityScore: 0.85},
		{SourceSection: "Discussion", SimilarityScore: 0.8},
	}
	agreeing := [][]float64{{1, 0}, {1, 0.1}, {1, 0.05}}
	q := ScoreQuality(segs, agreeing)
	if q.Sections != 3 || q.Consistency != 1 {
		t.Errorf("unexpected quality %+v", q)
	}
	if q.Confidence != "HIGH" {
		t.Errorf("expected HIGH confidence, got %s (%.3f)", q.Confidence, q.Score)
	}

	disagreeing := [][]float64{{1, 0}, {0, 1}, {-1, 0}}
	q2 := ScoreQuality(segs, disagreeing)
	if q2.Score >= q.Score {
		t.Errorf("disagreeing evidence should score lower: %.3f vs %.3f", q2.Score, q.Score)
	}
}
