package database

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// RecordStageRun stores the summary of one stage invocation.
func (db *DB) RecordStageRun(ctx context.Context, r *StageRun) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO stage_runs
		(run_id, stage, started_at, finished_at, selected, succeeded, sentinel, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Stage, r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
		r.Selected, r.Succeeded, r.Sentinel, r.Failed, r.Skipped,
	)
	if err != nil {
		return eris.Wrapf(err, "recording %s run %s", r.Stage, r.RunID)
	}
	return nil
}

// RecentStageRuns returns the latest runs, newest first.
func (db *DB) RecentStageRuns(ctx context.Context, limit int) ([]StageRun, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, stage, started_at, COALESCE(finished_at, ''), selected, succeeded, sentinel, failed, skipped
		FROM stage_runs ORDER BY started_at DESC, run_id LIMIT ?`, sqlLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StageRun
	for rows.Next() {
		var r StageRun
		var started, finished string
		if err := rows.Scan(&r.RunID, &r.Stage, &started, &finished,
			&r.Selected, &r.Succeeded, &r.Sentinel, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetStats returns aggregate counts for the status command.
func (db *DB) GetStats(ctx context.Context, sentinels []string) (*Stats, error) {
	var s Stats
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM documents", &s.Documents},
		{"SELECT COUNT(*) FROM citation_edges", &s.Edges},
		{"SELECT COUNT(*) FROM citation_instances", &s.Instances},
		{"SELECT COUNT(*) FROM classifications WHERE round = 'FIRST'", &s.FirstClassified},
		{"SELECT COUNT(*) FROM classifications WHERE round = 'SECOND'", &s.SecondClassified},
		{"SELECT COUNT(*) FROM impact_assessments", &s.ImpactAssessments},
	}
	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "reading stats")
		}
	}

	for _, cat := range sentinels {
		var n int
		if err := db.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM classifications WHERE category = ?", cat,
		).Scan(&n); err != nil {
			return nil, eris.Wrap(err, "reading sentinel stats")
		}
		s.Sentinels += n
	}
	return &s, nil
}
