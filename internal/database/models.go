package database

import (
	"strings"
	"time"
)

// Round identifies a classification round.
type Round string

const (
	RoundFirst  Round = "FIRST"
	RoundSecond Round = "SECOND"
)

// Valid reports whether r is a known round.
func (r Round) Valid() bool {
	return r == RoundFirst || r == RoundSecond
}

// Document is an imported paper, split into labeled sections.
type Document struct {
	ID         string
	Title      string
	Authors    []string
	Year       int
	Abstract   string
	Sections   []Section
	ImportedAt *string
}

// Section is one labeled part of a document body.
type Section struct {
	Position int
	Label    string
	Text     string
}

// FullText joins the abstract and every section body.
func (d *Document) FullText() string {
	var b strings.Builder
	if d.Abstract != "" {
		b.WriteString("## Abstract\n")
		b.WriteString(d.Abstract)
		b.WriteString("\n\n")
	}
	for _, s := range d.Sections {
		b.WriteString("## ")
		b.WriteString(s.Label)
		b.WriteString("\n")
		b.WriteString(s.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// CitationEdge is a directed source -> target reference.
type CitationEdge struct {
	ID               int64
	SourceDocumentID string
	TargetDocumentID string
	Instances        []CitationInstance
}

// CitationInstance is one in-text occurrence of an edge. SourceDocumentID
// and TargetDocumentID are filled from the owning edge on reads.
type CitationInstance struct {
	ID               int64
	EdgeID           int64
	InstanceKey      string
	Section          string
	Context          string
	CitingSentence   string
	SourceDocumentID string
	TargetDocumentID string
}

// EvidenceSegment is a retrieved passage attached to one instance and round.
type EvidenceSegment struct {
	Rank            int
	SourceSection   string
	Text            string
	SimilarityScore float64
	RetrievalMethod string // "hybrid" or "abstract"
}

// Classification is the result of one round for one instance.
type Classification struct {
	InstanceID         int64
	Round              Round
	Category           string
	Confidence         float64
	Rationale          string
	CitationType       string
	Determination      string // SECOND only: "CONFIRMED" or "CORRECTED"
	Recommendation     string
	Model              string
	Attempts           int
	RunID              string
	EvidenceQuality    *float64
	EvidenceConfidence string
	ClassifiedAt       *string
	Override           *Override
}

// Effective returns the human override category when present.
func (c *Classification) Effective() string {
	if c.Override != nil && c.Override.Category != "" {
		return c.Override.Category
	}
	return c.Category
}

// Override is a reviewer's correction of a classification.
type Override struct {
	Category string
	Note     string
	At       *string
}

// ImpactAssessment is the single document-level verdict.
type ImpactAssessment struct {
	DocumentID              string
	OverallClassification   string
	Rationale               string
	ReviewerRecommendations []string
	ReaderRecommendations   []string
	ProblematicCount        int
	RunID                   string
	AssessedAt              *string
	Citations               []CitationImpact
}

// CitationImpact is the Phase A judgment for one problematic instance.
type CitationImpact struct {
	InstanceID         int64
	ImpactLevel        string
	Centrality         string
	AffectsMainFinding bool
	UnderminedClaim    string
	ReferenceFinding   string
	Explanation        string
}

// StageRun records one invocation of a pipeline stage.
type StageRun struct {
	RunID      string
	Stage      string
	StartedAt  time.Time
	FinishedAt time.Time
	Selected   int
	Succeeded  int
	Sentinel   int
	Failed     int
	Skipped    int
}

// RoundOutcome is the slice of a classification analytics needs.
type RoundOutcome struct {
	Category      string
	Override      string
	Confidence    float64
	Determination string
}

// Effective returns the override category when present.
func (o *RoundOutcome) Effective() string {
	if o.Override != "" {
		return o.Override
	}
	return o.Category
}

// AnalyticsRow is one instance with both rounds, for aggregation.
type AnalyticsRow struct {
	DocumentID string
	InstanceID int64
	First      *RoundOutcome
	Second     *RoundOutcome
}

// Stats contains aggregate database statistics.
type Stats struct {
	Documents         int
	Edges             int
	Instances         int
	FirstClassified   int
	SecondClassified  int
	Sentinels         int
	ImpactAssessments int
}
