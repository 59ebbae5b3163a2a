package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFallback implements case search directly against Postgres. It serves when
// Meilisearch is down or not configured.
type PgFallback struct {
	db *sql.DB
}

func NewPgFallback(db *sql.DB) *PgFallback {
	return &PgFallback{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFallback) Healthy() bool {
	return true
}

func (p *PgFallback) Search(query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := p.db.QueryContext(context.Background(), `
		SELECT id, name, description
		FROM cases
		WHERE name ILIKE $1 OR description ILIKE $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("case search query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.CaseID, &h.Name, &h.Description); err != nil {
			return nil, fmt.Errorf("case search scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// LoadAllRecords returns every case for full reindexing into Meilisearch.
func (p *PgFallback) LoadAllRecords(ctx context.Context) ([]CaseRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, COALESCE(owner_id, ''), published
		FROM cases
	`)
	if err != nil {
		return nil, fmt.Errorf("load cases: %w", err)
	}
	defer rows.Close()

	records := make([]CaseRecord, 0)
	for rows.Next() {
		var rec CaseRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.OwnerID, &rec.Published); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
