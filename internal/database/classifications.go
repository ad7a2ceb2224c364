package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrAlreadyClassified is returned when an instance already has a
	// classification for the round being committed.
	ErrAlreadyClassified = errors.New("instance already classified for this round")
	// ErrNotFound is returned when the target row does not exist.
	ErrNotFound = errors.New("not found")
)

// CommitClassification atomically writes a classification together with the
// evidence set it was based on. This write is the only state transition of
// an instance within a round; nothing is persisted if it fails.
func (db *DB) CommitClassification(ctx context.Context, c *Classification, evidence []EvidenceSegment) error {
	if !c.Round.Valid() {
		return eris.Errorf("invalid round %q", c.Round)
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO classifications
			(instance_id, round, category, confidence, rationale, citation_type, determination,
			 recommendation, model, attempts, run_id, evidence_quality, evidence_confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(instance_id, round) DO NOTHING`,
			c.InstanceID, string(c.Round), c.Category, c.Confidence, c.Rationale,
			nullIfEmpty(c.CitationType), nullIfEmpty(c.Determination), nullIfEmpty(c.Recommendation),
			nullIfEmpty(c.Model), c.Attempts, nullIfEmpty(c.RunID), c.EvidenceQuality, nullIfEmpty(c.EvidenceConfidence),
		)
		if err != nil {
			return eris.Wrapf(err, "inserting %s classification for instance %d", c.Round, c.InstanceID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAlreadyClassified
		}

		for i, seg := range evidence {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO evidence_segments
				(instance_id, round, rank, source_section, text, similarity_score, retrieval_method)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.InstanceID, string(c.Round), i, seg.SourceSection, seg.Text, seg.SimilarityScore, seg.RetrievalMethod,
			); err != nil {
				return eris.Wrapf(err, "inserting evidence %d for instance %d", i, c.InstanceID)
			}
		}
		return nil
	})
}

// PendingScreening is the Screening work queue: instances with no FIRST
// classification yet, oldest first. limit <= 0 means no limit.
func (db *DB) PendingScreening(ctx context.Context, limit int) ([]CitationInstance, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+instanceColumns+`
		FROM citation_instances i
		JOIN citation_edges e ON e.id = i.edge_id
		LEFT JOIN classifications c ON c.instance_id = i.id AND c.round = 'FIRST'
		WHERE c.instance_id IS NULL
		ORDER BY i.id
		LIMIT ?`, sqlLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "querying pending screening")
	}
	defer rows.Close()
	return scanInstances(rows)
}

// PendingVerification is the Verification work queue: instances whose FIRST
// category (after any human override) is in categories and that have no
// SECOND classification yet. Instances are returned in the order the
// categories are listed, then oldest first.
func (db *DB) PendingVerification(ctx context.Context, categories []string, limit int) ([]CitationInstance, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(categories)), ",")

	var order strings.Builder
	order.WriteString("CASE COALESCE(f.override_category, f.category)")
	for i := range categories {
		order.WriteString(" WHEN ? THEN " + strconv.Itoa(i))
	}
	order.WriteString(" END")

	// IN (...) placeholders come first in the statement, then the CASE ones.
	args := make([]any, 0, 2*len(categories)+1)
	for _, c := range categories {
		args = append(args, c)
	}
	for _, c := range categories {
		args = append(args, c)
	}
	args = append(args, sqlLimit(limit))

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+instanceColumns+`
		FROM citation_instances i
		JOIN citation_edges e ON e.id = i.edge_id
		JOIN classifications f ON f.instance_id = i.id AND f.round = 'FIRST'
		LEFT JOIN classifications s ON s.instance_id = i.id AND s.round = 'SECOND'
		WHERE s.instance_id IS NULL
		  AND COALESCE(f.override_category, f.category) IN (`+placeholders+`)
		ORDER BY `+order.String()+`, i.id
		LIMIT ?`, args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "querying pending verification")
	}
	defer rows.Close()
	return scanInstances(rows)
}

// CountClassified returns how many instances have a classification for round.
func (db *DB) CountClassified(ctx context.Context, round Round) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM classifications WHERE round = ?", string(round),
	).Scan(&n)
	return n, err
}

// GetClassification returns the classification of an instance for a round, or nil.
func (db *DB) GetClassification(ctx context.Context, instanceID int64, round Round) (*Classification, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+classificationColumns+` FROM classifications WHERE instance_id = ? AND round = ?`,
		instanceID, string(round),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanClassifications(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ClassificationsForInstance returns every round of an instance, FIRST first.
func (db *DB) ClassificationsForInstance(ctx context.Context, instanceID int64) ([]Classification, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+classificationColumns+` FROM classifications WHERE instance_id = ? ORDER BY round`,
		instanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClassifications(rows)
}

// GetEvidence returns the evidence set written for an instance and round.
func (db *DB) GetEvidence(ctx context.Context, instanceID int64, round Round) ([]EvidenceSegment, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT rank, source_section, text, similarity_score, retrieval_method
		FROM evidence_segments WHERE instance_id = ? AND round = ? ORDER BY rank`,
		instanceID, string(round),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvidenceSegment
	for rows.Next() {
		var s EvidenceSegment
		if err := rows.Scan(&s.Rank, &s.SourceSection, &s.Text, &s.SimilarityScore, &s.RetrievalMethod); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetOverride records a reviewer's category for an existing classification.
func (db *DB) SetOverride(ctx context.Context, instanceID int64, round Round, category, note string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE classifications
		SET override_category = ?, override_note = ?, overridden_at = datetime('now')
		WHERE instance_id = ? AND round = ?`,
		category, nullIfEmpty(note), instanceID, string(round),
	)
	if err != nil {
		return eris.Wrapf(err, "overriding instance %d", instanceID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetClassifications deletes classifications of round whose category is
// in categories, together with their evidence, so the next run selects
// those instances again. Used to retry sentinel results.
func (db *DB) ResetClassifications(ctx context.Context, round Round, categories []string) (int, error) {
	if len(categories) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(categories)), ",")
	args := []any{string(round)}
	for _, c := range categories {
		args = append(args, c)
	}

	var removed int
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM evidence_segments WHERE round = ?1 AND instance_id IN (
				SELECT instance_id FROM classifications WHERE round = ?1 AND category IN (`+placeholders+`))`,
			args...,
		); err != nil {
			return eris.Wrap(err, "deleting evidence")
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM classifications WHERE round = ?1 AND category IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return eris.Wrap(err, "deleting classifications")
		}
		n, _ := res.RowsAffected()
		removed = int(n)
		return nil
	})
	return removed, err
}

// AnalyticsRows returns every instance with the outcome of both rounds.
// An empty documentID scans the whole corpus.
func (db *DB) AnalyticsRows(ctx context.Context, documentID string) ([]AnalyticsRow, error) {
	query := `SELECT e.source_document_id, i.id,
			f.category, f.override_category, f.confidence, f.determination,
			s.category, s.override_category, s.confidence, s.determination
		FROM citation_instances i
		JOIN citation_edges e ON e.id = i.edge_id
		LEFT JOIN classifications f ON f.instance_id = i.id AND f.round = 'FIRST'
		LEFT JOIN classifications s ON s.instance_id = i.id AND s.round = 'SECOND'`
	var args []any
	if documentID != "" {
		query += " WHERE e.source_document_id = ?"
		args = append(args, documentID)
	}
	query += " ORDER BY e.source_document_id, i.id"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "querying analytics rows")
	}
	defer rows.Close()

	var out []AnalyticsRow
	for rows.Next() {
		var r AnalyticsRow
		var fCat, fOver, fDet, sCat, sOver, sDet *string
		var fConf, sConf *float64
		if err := rows.Scan(&r.DocumentID, &r.InstanceID,
			&fCat, &fOver, &fConf, &fDet,
			&sCat, &sOver, &sConf, &sDet); err != nil {
			return nil, err
		}
		r.First = outcome(fCat, fOver, fConf, fDet)
		r.Second = outcome(sCat, sOver, sConf, sDet)
		out = append(out, r)
	}
	return out, rows.Err()
}

func outcome(category, override *string, confidence *float64, determination *string) *RoundOutcome {
	if category == nil {
		return nil
	}
	o := &RoundOutcome{Category: *category}
	if override != nil {
		o.Override = *override
	}
	if confidence != nil {
		o.Confidence = *confidence
	}
	if determination != nil {
		o.Determination = *determination
	}
	return o
}

const classificationColumns = `instance_id, round, category, confidence, rationale, citation_type,
	determination, recommendation, model, attempts, run_id, evidence_quality, evidence_confidence,
	classified_at, override_category, override_note, overridden_at`

func scanClassifications(rows *sql.Rows) ([]Classification, error) {
	var out []Classification
	for rows.Next() {
		var c Classification
		var round string
		var rationale, ctype, det, rec, model, runID, evConf, ovCat, ovNote, ovAt *string
		var attempts *int
		if err := rows.Scan(&c.InstanceID, &round, &c.Category, &c.Confidence, &rationale, &ctype,
			&det, &rec, &model, &attempts, &runID, &c.EvidenceQuality, &evConf,
			&c.ClassifiedAt, &ovCat, &ovNote, &ovAt); err != nil {
			return nil, err
		}
		c.Round = Round(round)
		c.Rationale = deref(rationale)
		c.CitationType = deref(ctype)
		c.Determination = deref(det)
		c.Recommendation = deref(rec)
		c.Model = deref(model)
		c.RunID = deref(runID)
		c.EvidenceConfidence = deref(evConf)
		if attempts != nil {
			c.Attempts = *attempts
		}
		if ovCat != nil {
			c.Override = &Override{Category: *ovCat, Note: deref(ovNote), At: ovAt}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
