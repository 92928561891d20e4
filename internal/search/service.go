package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexItem indexes a content item (fire-and-forget to Meilisearch).
func (s *Service) IndexItem(rec ItemRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexItem(rec); err != nil {
			log.Printf("search: index item %s: %v", rec.ID, err)
		}
	}()
}

// IndexSource indexes a training source (fire-and-forget to Meilisearch).
func (s *Service) IndexSource(rec SourceRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSource(rec); err != nil {
			log.Printf("search: index source %s: %v", rec.ID, err)
		}
	}()
}

// DeleteItem removes a content item from the search index (fire-and-forget).
func (s *Service) DeleteItem(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteItem(id); err != nil {
			log.Printf("search: delete item %s: %v", id, err)
		}
	}()
}

// DeleteSource removes a training source from the search index (fire-and-forget).
func (s *Service) DeleteSource(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSource(id); err != nil {
			log.Printf("search: delete source %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch in bulk.
func (s *Service) ReindexAll(items []ItemRecord, sources []SourceRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(items) > 0 {
		if err := s.meili.IndexItems(items); err != nil {
			log.Printf("search: reindex items: %v", err)
		}
	}
	if len(sources) > 0 {
		if err := s.meili.IndexSources(sources); err != nil {
			log.Printf("search: reindex sources: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called during startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	items, sources, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(items, sources)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
