package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
)

const instanceColumns = `i.id, i.edge_id, i.instance_key, COALESCE(i.section, ''), i.context,
	COALESCE(i.citing_sentence, ''), e.source_document_id, e.target_document_id`

// UpsertEdge returns the id of the source -> target edge, creating it if needed.
func (db *DB) UpsertEdge(ctx context.Context, sourceID, targetID string) (int64, error) {
	if sourceID == "" || targetID == "" {
		return 0, eris.New("edge needs both source and target document ids")
	}
	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO citation_edges (source_document_id, target_document_id) VALUES (?, ?)
		ON CONFLICT(source_document_id, target_document_id) DO NOTHING`,
		sourceID, targetID,
	); err != nil {
		return 0, eris.Wrapf(err, "inserting edge %s -> %s", sourceID, targetID)
	}

	var id int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM citation_edges WHERE source_document_id = ? AND target_document_id = ?`,
		sourceID, targetID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "reading edge %s -> %s", sourceID, targetID)
	}
	return id, nil
}

// InsertInstance adds an in-text occurrence to an edge. Instances are never
// rewritten: an existing (edge, key) pair keeps its original context and the
// returned bool is false.
func (db *DB) InsertInstance(ctx context.Context, inst *CitationInstance) (int64, bool, error) {
	if inst.Context == "" {
		return 0, false, eris.Errorf("instance %q has no context", inst.InstanceKey)
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO citation_instances (edge_id, instance_key, section, context, citing_sentence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(edge_id, instance_key) DO NOTHING`,
		inst.EdgeID, inst.InstanceKey, inst.Section, inst.Context, inst.CitingSentence,
	)
	if err != nil {
		return 0, false, eris.Wrapf(err, "inserting instance %q", inst.InstanceKey)
	}
	affected, _ := res.RowsAffected()

	var id int64
	if err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM citation_instances WHERE edge_id = ? AND instance_key = ?`,
		inst.EdgeID, inst.InstanceKey,
	).Scan(&id); err != nil {
		return 0, false, eris.Wrapf(err, "reading instance %q", inst.InstanceKey)
	}
	return id, affected > 0, nil
}

// GetInstance returns one instance with its edge endpoints, or nil.
func (db *DB) GetInstance(ctx context.Context, id int64) (*CitationInstance, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+instanceColumns+`
		FROM citation_instances i JOIN citation_edges e ON e.id = i.edge_id
		WHERE i.id = ?`, id,
	)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "loading instance %d", id)
	}
	return inst, nil
}

// EdgesForDocument returns the outgoing edges of a citing document with
// their instances.
func (db *DB) EdgesForDocument(ctx context.Context, sourceID string) ([]CitationEdge, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+instanceColumns+`
		FROM citation_instances i JOIN citation_edges e ON e.id = i.edge_id
		WHERE e.source_document_id = ?
		ORDER BY e.id, i.id`, sourceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "loading edges for %s", sourceID)
	}
	defer rows.Close()

	var edges []CitationEdge
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		if len(edges) == 0 || edges[len(edges)-1].ID != inst.EdgeID {
			edges = append(edges, CitationEdge{
				ID:               inst.EdgeID,
				SourceDocumentID: inst.SourceDocumentID,
				TargetDocumentID: inst.TargetDocumentID,
			})
		}
		last := &edges[len(edges)-1]
		last.Instances = append(last.Instances, *inst)
	}
	return edges, rows.Err()
}

// GetEdge returns the edge for an ordered document pair with its
// instances, or nil.
func (db *DB) GetEdge(ctx context.Context, sourceID, targetID string) (*CitationEdge, error) {
	edges, err := db.EdgesForDocument(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	for i := range edges {
		if edges[i].TargetDocumentID == targetID {
			return &edges[i], nil
		}
	}
	return nil, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*CitationInstance, error) {
	var inst CitationInstance
	if err := row.Scan(&inst.ID, &inst.EdgeID, &inst.InstanceKey, &inst.Section, &inst.Context,
		&inst.CitingSentence, &inst.SourceDocumentID, &inst.TargetDocumentID); err != nil {
		return nil, err
	}
	return &inst, nil
}

func scanInstances(rows *sql.Rows) ([]CitationInstance, error) {
	var out []CitationInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}
