package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    authors TEXT,
    year INTEGER,
    abstract TEXT,
    imported_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS document_sections (
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    label TEXT NOT NULL,
    text TEXT NOT NULL,
    PRIMARY KEY (document_id, position)
);

CREATE TABLE IF NOT EXISTS citation_edges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_document_id TEXT NOT NULL,
    target_document_id TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE (source_document_id, target_document_id)
);

CREATE TABLE IF NOT EXISTS citation_instances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    edge_id INTEGER NOT NULL REFERENCES citation_edges(id),
    instance_key TEXT NOT NULL,
    section TEXT,
    context TEXT NOT NULL,
    citing_sentence TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE (edge_id, instance_key)
);

CREATE TABLE IF NOT EXISTS evidence_segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id INTEGER NOT NULL REFERENCES citation_instances(id),
    round TEXT NOT NULL CHECK(round IN ('FIRST', 'SECOND')),
    rank INTEGER NOT NULL,
    source_section TEXT NOT NULL,
    text TEXT NOT NULL,
    similarity_score REAL NOT NULL,
    retrieval_method TEXT NOT NULL,
    UNIQUE (instance_id, round, rank)
);

CREATE TABLE IF NOT EXISTS classifications (
    instance_id INTEGER NOT NULL REFERENCES citation_instances(id),
    round TEXT NOT NULL CHECK(round IN ('FIRST', 'SECOND')),
    category TEXT NOT NULL,
    confidence REAL NOT NULL,
    rationale TEXT,
    citation_type TEXT,
    determination TEXT CHECK(determination IS NULL OR determination IN ('CONFIRMED', 'CORRECTED')),
    recommendation TEXT,
    model TEXT,
    attempts INTEGER DEFAULT 0,
    classified_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (instance_id, round)
);

CREATE TABLE IF NOT EXISTS impact_assessments (
    document_id TEXT PRIMARY KEY,
    overall_classification TEXT NOT NULL CHECK(overall_classification IN
        ('MINOR_CONCERN', 'MODERATE_CONCERN', 'CRITICAL_CONCERN', 'FALSE_ALARM')),
    rationale TEXT NOT NULL,
    reviewer_recommendations TEXT,
    reader_recommendations TEXT,
    problematic_count INTEGER DEFAULT 0,
    assessed_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS citation_impacts (
    document_id TEXT NOT NULL REFERENCES impact_assessments(document_id),
    instance_id INTEGER NOT NULL REFERENCES citation_instances(id),
    impact_level TEXT NOT NULL,
    centrality TEXT,
    affects_main_finding INTEGER DEFAULT 0,
    undermined_claim TEXT,
    reference_finding TEXT,
    explanation TEXT,
    PRIMARY KEY (document_id, instance_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON citation_edges(source_document_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON citation_edges(target_document_id);
CREATE INDEX IF NOT EXISTS idx_instances_edge ON citation_instances(edge_id);
CREATE INDEX IF NOT EXISTS idx_evidence_instance ON evidence_segments(instance_id, round);
CREATE INDEX IF NOT EXISTS idx_classifications_round ON classifications(round, category);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "human overrides on classifications",
		Up: func(tx *sql.Tx) error {
			for _, col := range []struct{ name, decl string }{
				{"override_category", "TEXT"},
				{"override_note", "TEXT"},
				{"overridden_at", "TEXT"},
			} {
				if err := addColumn(tx, "classifications", col.name, col.decl); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "stage run log and evidence quality",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS stage_runs (
    run_id TEXT PRIMARY KEY,
    stage TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    selected INTEGER DEFAULT 0,
    succeeded INTEGER DEFAULT 0,
    sentinel INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_stage_runs_stage ON stage_runs(stage, started_at);
`); err != nil {
				return err
			}
			for _, col := range []struct{ table, name, decl string }{
				{"classifications", "run_id", "TEXT"},
				{"classifications", "evidence_quality", "REAL"},
				{"classifications", "evidence_confidence", "TEXT"},
				{"impact_assessments", "run_id", "TEXT"},
			} {
				if err := addColumn(tx, col.table, col.name, col.decl); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
