package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
)

// SaveImpactAssessment replaces the document's assessment and its
// per-citation impacts. There is only ever one assessment per document.
func (db *DB) SaveImpactAssessment(ctx context.Context, a *ImpactAssessment) error {
	reviewers, err := json.Marshal(a.ReviewerRecommendations)
	if err != nil {
		return eris.Wrap(err, "encoding reviewer recommendations")
	}
	readers, err := json.Marshal(a.ReaderRecommendations)
	if err != nil {
		return eris.Wrap(err, "encoding reader recommendations")
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM citation_impacts WHERE document_id = ?", a.DocumentID); err != nil {
			return eris.Wrap(err, "clearing citation impacts")
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM impact_assessments WHERE document_id = ?", a.DocumentID); err != nil {
			return eris.Wrap(err, "clearing impact assessment")
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO impact_assessments
			(document_id, overall_classification, rationale, reviewer_recommendations,
			 reader_recommendations, problematic_count, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.DocumentID, a.OverallClassification, a.Rationale, string(reviewers), string(readers),
			a.ProblematicCount, nullIfEmpty(a.RunID),
		); err != nil {
			return eris.Wrapf(err, "inserting impact assessment for %s", a.DocumentID)
		}

		for _, c := range a.Citations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO citation_impacts
				(document_id, instance_id, impact_level, centrality, affects_main_finding,
				 undermined_claim, reference_finding, explanation)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				a.DocumentID, c.InstanceID, c.ImpactLevel, nullIfEmpty(c.Centrality), c.AffectsMainFinding,
				nullIfEmpty(c.UnderminedClaim), nullIfEmpty(c.ReferenceFinding), nullIfEmpty(c.Explanation),
			); err != nil {
				return eris.Wrapf(err, "inserting citation impact %d", c.InstanceID)
			}
		}
		return nil
	})
}

// GetImpactAssessment returns the document's assessment, or nil.
func (db *DB) GetImpactAssessment(ctx context.Context, documentID string) (*ImpactAssessment, error) {
	var a ImpactAssessment
	var reviewers, readers, runID *string
	err := db.conn.QueryRowContext(ctx,
		`SELECT document_id, overall_classification, rationale, reviewer_recommendations,
			reader_recommendations, problematic_count, run_id, assessed_at
		FROM impact_assessments WHERE document_id = ?`, documentID,
	).Scan(&a.DocumentID, &a.OverallClassification, &a.Rationale, &reviewers, &readers,
		&a.ProblematicCount, &runID, &a.AssessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "loading impact assessment for %s", documentID)
	}
	a.RunID = deref(runID)
	if reviewers != nil {
		_ = json.Unmarshal([]byte(*reviewers), &a.ReviewerRecommendations)
	}
	if readers != nil {
		_ = json.Unmarshal([]byte(*readers), &a.ReaderRecommendations)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT instance_id, impact_level, centrality, affects_main_finding,
			undermined_claim, reference_finding, explanation
		FROM citation_impacts WHERE document_id = ? ORDER BY instance_id`, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c CitationImpact
		var centrality, claim, finding, explanation *string
		if err := rows.Scan(&c.InstanceID, &c.ImpactLevel, &centrality, &c.AffectsMainFinding,
			&claim, &finding, &explanation); err != nil {
			return nil, err
		}
		c.Centrality = deref(centrality)
		c.UnderminedClaim = deref(claim)
		c.ReferenceFinding = deref(finding)
		c.Explanation = deref(explanation)
		a.Citations = append(a.Citations, c)
	}
	return &a, rows.Err()
}

// ListImpactAssessments returns every stored assessment without citations,
// most recent first.
func (db *DB) ListImpactAssessments(ctx context.Context) ([]ImpactAssessment, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT document_id, overall_classification, rationale, problematic_count, assessed_at
		FROM impact_assessments ORDER BY assessed_at DESC, document_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImpactAssessment
	for rows.Next() {
		var a ImpactAssessment
		if err := rows.Scan(&a.DocumentID, &a.OverallClassification, &a.Rationale,
			&a.ProblematicCount, &a.AssessedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
