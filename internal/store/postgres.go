package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, updated_by_name, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// GetDocument returns sql.ErrNoRows unwrapped when the document is unknown.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, updated_by_name, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.Title, &item.UpdatedBy, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, updated_by_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET title=EXCLUDED.title, updated_by_name=EXCLUDED.updated_by_name, updated_at=NOW()
	`, item.ID, item.Title, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// ReplaceFindings swaps a document's findings of one kind for the outcome of
// the latest highlight pass.
func (s *PostgresStore) ReplaceFindings(ctx context.Context, documentID, kind string, findings []Finding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin findings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE document_id=$1 AND kind=$2`, documentID, kind); err != nil {
		return fmt.Errorf("delete findings: %w", err)
	}
	for _, finding := range findings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO findings (id, document_id, kind, search_text, color, placed, strategy, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, finding.ID, documentID, kind, finding.SearchText, finding.Color, finding.Placed, finding.Strategy, finding.Reason); err != nil {
			return fmt.Errorf("insert finding %s: %w", finding.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit findings: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFindings(ctx context.Context, documentID, kind string) ([]Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, kind, search_text, color, placed, strategy, reason, recorded_at
		FROM findings
		WHERE document_id=$1 AND ($2='' OR kind=$2)
		ORDER BY kind, recorded_at, id
	`, documentID, kind)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	items := make([]Finding, 0)
	for rows.Next() {
		var item Finding
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.Kind,
			&item.SearchText,
			&item.Color,
			&item.Placed,
			&item.Strategy,
			&item.Reason,
			&item.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
