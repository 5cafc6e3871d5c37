package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and findings using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if (q.FilterType == "" || q.FilterType == ResultDocument) && q.FilterKind == "" {
		docWhere := "d.fts @@ " + tsQuery
		if q.FilterDocumentID != "" {
			docWhere += fmt.Sprintf(" AND d.id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', coalesce(d.title, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id AS document_id, ''::text AS annotation_id, ''::text AS kind, false AS placed,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultFinding {
		findingWhere := "f.fts @@ " + tsQuery
		if q.FilterDocumentID != "" {
			findingWhere += fmt.Sprintf(" AND f.document_id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		if q.FilterKind != "" {
			findingWhere += fmt.Sprintf(" AND f.kind = $%d", argN)
			args = append(args, q.FilterKind)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'finding'::text AS type, f.document_id || ':' || f.kind || ':' || f.id AS id, d.title,
				ts_headline('english', coalesce(f.search_text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				f.document_id, f.id AS annotation_id, f.kind, f.placed,
				ts_rank(f.fts, %s) AS rank
			FROM findings f
			JOIN documents d ON d.id = f.document_id
			WHERE %s`, tsQuery, tsQuery, findingWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, annotation_id, kind, placed
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.AnnotationID, &r.Kind, &r.Placed); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []FindingRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `SELECT id, title FROM documents`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	findingRows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, kind, search_text, placed, strategy
		FROM findings
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load findings: %w", err)
	}
	defer findingRows.Close()

	findings := make([]FindingRecord, 0)
	for findingRows.Next() {
		var f FindingRecord
		if err := findingRows.Scan(&f.AnnotationID, &f.DocumentID, &f.Kind, &f.SearchText, &f.Placed, &f.Strategy); err != nil {
			return nil, nil, fmt.Errorf("scan finding: %w", err)
		}
		f.ID = FindingKey(f.DocumentID, f.Kind, f.AnnotationID)
		findings = append(findings, f)
	}
	if err := findingRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate findings: %w", err)
	}

	return documents, findings, nil
}
