package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
)

// UpsertDocument inserts or replaces a document and its sections.
func (db *DB) UpsertDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		return eris.New("document id is required")
	}
	authors, err := json.Marshal(doc.Authors)
	if err != nil {
		return eris.Wrap(err, "encoding authors")
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, title, authors, year, abstract)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				authors = excluded.authors,
				year = excluded.year,
				abstract = excluded.abstract`,
			doc.ID, doc.Title, string(authors), doc.Year, doc.Abstract,
		); err != nil {
			return eris.Wrapf(err, "upserting document %s", doc.ID)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM document_sections WHERE document_id = ?", doc.ID); err != nil {
			return eris.Wrapf(err, "clearing sections for %s", doc.ID)
		}
		for i, s := range doc.Sections {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO document_sections (document_id, position, label, text) VALUES (?, ?, ?, ?)`,
				doc.ID, i, s.Label, s.Text,
			); err != nil {
				return eris.Wrapf(err, "inserting section %d of %s", i, doc.ID)
			}
		}
		return nil
	})
}

// GetDocument returns a document with its sections, or nil if unknown.
func (db *DB) GetDocument(ctx context.Context, id string) (*Document, error) {
	var d Document
	var authors, abstract *string
	var year *int
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, title, authors, year, abstract, imported_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &authors, &year, &abstract, &d.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "loading document %s", id)
	}
	if authors != nil {
		if err := json.Unmarshal([]byte(*authors), &d.Authors); err != nil {
			d.Authors = nil
		}
	}
	if year != nil {
		d.Year = *year
	}
	if abstract != nil {
		d.Abstract = *abstract
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT position, label, text FROM document_sections WHERE document_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "loading sections for %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		var s Section
		if err := rows.Scan(&s.Position, &s.Label, &s.Text); err != nil {
			return nil, err
		}
		d.Sections = append(d.Sections, s)
	}
	return &d, rows.Err()
}

// ListDocumentIDs returns all document ids in import order.
func (db *DB) ListDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id FROM documents ORDER BY imported_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
