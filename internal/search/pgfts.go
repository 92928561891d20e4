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

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across content_items and training_sources
// using plainto_tsquery and ts_rank, with ts_headline for snippets. Every
// sub-query carries the site filter; there is no unscoped path.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.SiteID == "" {
		return nil, 0, fmt.Errorf("search without site scope")
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
	args := []any{q.Text, q.SiteID}
	argN := 3

	var subQueries []string

	// Content items sub-query
	if q.FilterType == "" || q.FilterType == ResultItem {
		itemWhere := "ci.fts @@ " + tsQuery + " AND ci.site_id = $2"
		if q.FilterCollection != "" {
			itemWhere += fmt.Sprintf(" AND ci.collection_id = $%d", argN)
			args = append(args, q.FilterCollection)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'item'::text AS type, ci.id, ci.title,
				ts_headline('english', coalesce(ci.seo_description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ci.site_id, ci.collection_id, ci.status,
				ts_rank(ci.fts, %s) AS rank
			FROM content_items ci
			WHERE %s`, tsQuery, tsQuery, itemWhere))
	}

	// Training sources sub-query
	if q.FilterType == "" || q.FilterType == ResultSource {
		srcWhere := "ts.fts @@ " + tsQuery + " AND ts.site_id = $2"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'source'::text AS type, ts.id, ts.title,
				ts_headline('english', coalesce(ts.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts.site_id, ''::text AS collection_id, ts.type AS status,
				ts_rank(ts.fts, %s) AS rank
			FROM training_sources ts
			WHERE %s`, tsQuery, tsQuery, srcWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, site_id, collection_id, status
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SiteID, &r.CollectionID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, []SourceRecord, error) {
	itemRows, err := p.db.QueryContext(ctx, `
		SELECT id, site_id, collection_id, title, slug, seo_description, status
		FROM content_items
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load content items: %w", err)
	}
	defer itemRows.Close()

	items := make([]ItemRecord, 0)
	for itemRows.Next() {
		var rec ItemRecord
		if err := itemRows.Scan(&rec.ID, &rec.SiteID, &rec.CollectionID, &rec.Title, &rec.Slug, &rec.SeoDescription, &rec.Status); err != nil {
			return nil, nil, fmt.Errorf("scan content item: %w", err)
		}
		items = append(items, rec)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate content items: %w", err)
	}

	srcRows, err := p.db.QueryContext(ctx, `
		SELECT id, site_id, type, title, coalesce(content, '')
		FROM training_sources
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load training sources: %w", err)
	}
	defer srcRows.Close()

	sources := make([]SourceRecord, 0)
	for srcRows.Next() {
		var rec SourceRecord
		if err := srcRows.Scan(&rec.ID, &rec.SiteID, &rec.Type, &rec.Title, &rec.Content); err != nil {
			return nil, nil, fmt.Errorf("scan training source: %w", err)
		}
		sources = append(sources, rec)
	}
	if err := srcRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate training sources: %w", err)
	}

	return items, sources, nil
}
