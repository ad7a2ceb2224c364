package server

import (
	"time"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/analytics"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
)

// The store models carry no JSON tags; these views fix the API shape.

type statsView struct {
	Documents         int `json:"documents"`
	Edges             int `json:"edges"`
	Instances         int `json:"instances"`
	FirstClassified   int `json:"first_round_classified"`
	SecondClassified  int `json:"second_round_classified"`
	Sentinels         int `json:"eval_failures"`
	ImpactAssessments int `json:"impact_assessments"`
}

type runView struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Selected   int       `json:"selected"`
	Succeeded  int       `json:"succeeded"`
	Sentinel   int       `json:"eval_failures"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

func newRunView(r database.StageRun) runView {
	return runView{
		RunID:      r.RunID,
		Stage:      r.Stage,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		Selected:   r.Selected,
		Succeeded:  r.Succeeded,
		Sentinel:   r.Sentinel,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
	}
}

type citationImpactView struct {
	InstanceID         int64  `json:"instance_id"`
	ImpactLevel        string `json:"impact_level"`
	Centrality         string `json:"centrality,omitempty"`
	AffectsMainFinding bool   `json:"affects_main_finding"`
	UnderminedClaim    string `json:"undermined_claim,omitempty"`
	ReferenceFinding   string `json:"reference_finding,omitempty"`
	Explanation        string `json:"explanation,omitempty"`
}

type impactView struct {
	DocumentID              string               `json:"document_id"`
	OverallClassification   string               `json:"overall_classification"`
	Rationale               string               `json:"rationale"`
	ReviewerRecommendations []string             `json:"reviewer_recommendations"`
	ReaderRecommendations   []string             `json:"reader_recommendations"`
	ProblematicCount        int                  `json:"problematic_count"`
	RunID                   string               `json:"run_id,omitempty"`
	AssessedAt              string               `json:"assessed_at,omitempty"`
	Citations               []citationImpactView `json:"citations"`
}

func newImpactView(a *database.ImpactAssessment) impactView {
	v := impactView{
		DocumentID:              a.DocumentID,
		OverallClassification:   a.OverallClassification,
		Rationale:               a.Rationale,
		ReviewerRecommendations: nonNil(a.ReviewerRecommendations),
		ReaderRecommendations:   nonNil(a.ReaderRecommendations),
		ProblematicCount:        a.ProblematicCount,
		RunID:                   a.RunID,
		Citations:               []citationImpactView{},
	}
	if a.AssessedAt != nil {
		v.AssessedAt = *a.AssessedAt
	}
	for _, c := range a.Citations {
		v.Citations = append(v.Citations, citationImpactView(c))
	}
	return v
}

type citationView struct {
	InstanceID int64  `json:"instance_id"`
	Target     string `json:"target_document_id"`
	Section    string `json:"section,omitempty"`
	Context    string `json:"context"`
	// Category is the authoritative category, empty while unclassified.
	Category string `json:"category,omitempty"`
}

type documentView struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Year           int               `json:"year,omitempty"`
	RepeatOffender bool              `json:"repeat_offender"`
	Report         *analytics.Report `json:"report"`
	Citations      []citationView    `json:"citations"`
	Impact         *impactView       `json:"impact,omitempty"`
}

type evidenceView struct {
	Rank            int     `json:"rank"`
	SourceSection   string  `json:"source_section"`
	Text            string  `json:"text"`
	SimilarityScore float64 `json:"similarity_score"`
	RetrievalMethod string  `json:"retrieval_method"`
}

type overrideView struct {
	Category string `json:"category"`
	Note     string `json:"note,omitempty"`
	At       string `json:"at,omitempty"`
}

type roundView struct {
	Round              string         `json:"round"`
	Category           string         `json:"category"`
	Confidence         float64        `json:"confidence"`
	Rationale          string         `json:"rationale"`
	CitationType       string         `json:"citation_type,omitempty"`
	Determination      string         `json:"determination,omitempty"`
	Recommendation     string         `json:"recommendation,omitempty"`
	Model              string         `json:"model,omitempty"`
	Attempts           int            `json:"attempts"`
	RunID              string         `json:"run_id,omitempty"`
	EvidenceQuality    *float64       `json:"evidence_quality,omitempty"`
	EvidenceConfidence string         `json:"evidence_confidence,omitempty"`
	ClassifiedAt       string         `json:"classified_at,omitempty"`
	Override           *overrideView  `json:"override,omitempty"`
	Evidence           []evidenceView `json:"evidence"`
}

func newRoundView(c database.Classification, evidence []database.EvidenceSegment) roundView {
	v := roundView{
		Round:              string(c.Round),
		Category:           c.Category,
		Confidence:         c.Confidence,
		Rationale:          c.Rationale,
		CitationType:       c.CitationType,
		Determination:      c.Determination,
		Recommendation:     c.Recommendation,
		Model:              c.Model,
		Attempts:           c.Attempts,
		RunID:              c.RunID,
		EvidenceQuality:    c.EvidenceQuality,
		EvidenceConfidence: c.EvidenceConfidence,
		Evidence:           make([]evidenceView, len(evidence)),
	}
	if c.ClassifiedAt != nil {
		v.ClassifiedAt = *c.ClassifiedAt
	}
	if o := c.Override; o != nil {
		v.Override = &overrideView{Category: o.Category, Note: o.Note}
		if o.At != nil {
			v.Override.At = *o.At
		}
	}
	for i, e := range evidence {
		v.Evidence[i] = evidenceView(e)
	}
	return v
}

type instanceView struct {
	ID       int64       `json:"id"`
	Key      string      `json:"key"`
	Source   string      `json:"source_document_id"`
	Target   string      `json:"target_document_id"`
	Section  string      `json:"section,omitempty"`
	Context  string      `json:"context"`
	Sentence string      `json:"citing_sentence,omitempty"`
	Rounds   []roundView `json:"rounds"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
