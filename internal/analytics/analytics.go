// Package analytics computes corpus statistics and repeat-offender
// documents from the persisted classifications.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
)

// Report is the analytics artifact.
type Report struct {
	GeneratedAt           time.Time      `json:"generated_at"`
	TotalInstances        int            `json:"total_instances"`
	UnclassifiedInstances int            `json:"unclassified_instances"`
	CategoryCounts        map[string]int `json:"authoritative_category_counts"`
	FidelityRate          float64        `json:"fidelity_rate"`
	VerifiedInstances     int            `json:"verified_instances"`
	CorrectedInstances    int            `json:"corrected_instances"`
	FalsePositiveRate     float64        `json:"false_positive_rate"`
	Threshold             int            `json:"repeat_offender_threshold"`
	RepeatOffenders       []Offender     `json:"repeat_offenders"`
}

// Offender is a document with at least Threshold problematic citations.
type Offender struct {
	DocumentID       string  `json:"document_id"`
	ProblematicCount int     `json:"problematic_count"`
	InstanceIDs      []int64 `json:"instance_ids"`
}

// Authoritative returns the category that counts for an instance: the
// second round when it produced a verdict, otherwise the first. Overrides
// win within a round. An unclassified instance returns "".
func Authoritative(first, second *database.RoundOutcome) classify.Category {
	if second != nil {
		if c := classify.Category(second.Effective()); !c.Sentinel() {
			return c
		}
	}
	if first != nil {
		return classify.Category(first.Effective())
	}
	return ""
}

// Aggregate builds a report from analytics rows. It has no side effects.
func Aggregate(rows []database.AnalyticsRow, threshold int) *Report {
	r := &Report{
		TotalInstances:  len(rows),
		CategoryCounts:  make(map[string]int),
		Threshold:       threshold,
		RepeatOffenders: []Offender{},
	}

	problematic := make(map[string][]int64)
	for _, row := range rows {
		cat := Authoritative(row.First, row.Second)
		if cat == "" {
			r.UnclassifiedInstances++
			continue
		}
		r.CategoryCounts[string(cat)]++
		if cat.Problematic() {
			problematic[row.DocumentID] = append(problematic[row.DocumentID], row.InstanceID)
		}

		if row.Second != nil && !classify.Category(row.Second.Effective()).Sentinel() {
			if d := determination(row.First, row.Second); d != "" {
				r.VerifiedInstances++
				if d == classify.Corrected {
					r.CorrectedInstances++
				}
			}
		}
	}

	if r.TotalInstances > 0 {
		r.FidelityRate = float64(r.CategoryCounts[string(classify.Support)]) / float64(r.TotalInstances)
	}
	if r.VerifiedInstances > 0 {
		r.FalsePositiveRate = float64(r.CorrectedInstances) / float64(r.VerifiedInstances)
	}

	for doc, ids := range problematic {
		if len(ids) >= threshold {
			r.RepeatOffenders = append(r.RepeatOffenders, Offender{DocumentID: doc, ProblematicCount: len(ids), InstanceIDs: ids})
		}
	}
	sort.Slice(r.RepeatOffenders, func(i, j int) bool {
		a, b := r.RepeatOffenders[i], r.RepeatOffenders[j]
		if a.ProblematicCount != b.ProblematicCount {
			return a.ProblematicCount > b.ProblematicCount
		}
		return a.DocumentID < b.DocumentID
	})
	return r
}

// determination is the stored value unless either round was overridden or
// nothing was stored.
func determination(first, second *database.RoundOutcome) string {
	if second.Override == "" && (first == nil || first.Override == "") && second.Determination != "" {
		return second.Determination
	}
	var prior classify.Category
	if first != nil {
		prior = classify.Category(first.Effective())
	}
	return classify.Determination(prior, classify.Category(second.Effective()))
}

// IsRepeatOffender reports whether documentID is on the report's list.
func (r *Report) IsRepeatOffender(documentID string) (Offender, bool) {
	for _, o := range r.RepeatOffenders {
		if o.DocumentID == documentID {
			return o, true
		}
	}
	return Offender{}, false
}

// Aggregator recomputes reports from the store.
type Aggregator struct {
	db        *database.DB
	threshold int
	now       func() time.Time
}

// NewAggregator creates an aggregator flagging documents with at least
// threshold problematic citations.
func NewAggregator(db *database.DB, threshold int) *Aggregator {
	if threshold <= 0 {
		threshold = 2
	}
	return &Aggregator{db: db, threshold: threshold, now: time.Now}
}

// Build scans the whole corpus.
func (a *Aggregator) Build(ctx context.Context) (*Report, error) {
	return a.build(ctx, "")
}

// BuildDocument scans one citing document.
func (a *Aggregator) BuildDocument(ctx context.Context, documentID string) (*Report, error) {
	return a.build(ctx, documentID)
}

func (a *Aggregator) build(ctx context.Context, documentID string) (*Report, error) {
	rows, err := a.db.AnalyticsRows(ctx, documentID)
	if err != nil {
		return nil, err
	}
	r := Aggregate(rows, a.threshold)
	r.GeneratedAt = a.now().UTC()
	return r, nil
}
