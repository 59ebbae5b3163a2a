package search

import (
	"context"
	"log"

	"casemark/api/internal/store"
)

// Service tries Meilisearch first and falls back to Postgres. It satisfies
// both the search and the index mirroring hooks of the app layer.
type Service struct {
	meili    *Meili
	fallback *PgFallback
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, fallback *PgFallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// SearchCases returns raw hits; the caller applies permission filtering.
func (s *Service) SearchCases(ctx context.Context, query string) ([]map[string]any, error) {
	hits, err := s.search(query)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		entry := map[string]any{
			"case_id":     h.CaseID,
			"name":        h.Name,
			"description": h.Description,
		}
		if h.Snippet != "" {
			entry["snippet"] = h.Snippet
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) search(query string) ([]Hit, error) {
	if s.meili != nil && s.meili.Healthy() {
		hits, err := s.meili.Search(query, 20)
		if err == nil {
			return hits, nil
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}
	if s.fallback == nil {
		return nil, nil
	}
	return s.fallback.Search(query, 20)
}

// IndexCase mirrors a case into Meilisearch, fire-and-forget.
func (s *Service) IndexCase(ctx context.Context, c store.Case) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	rec := CaseRecord{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		OwnerID:     c.OwnerID,
		Published:   c.Published,
	}
	go func() {
		if err := s.meili.IndexCase(rec); err != nil {
			log.Printf("search: index case %s: %v", rec.ID, err)
		}
	}()
	return nil
}

// DeindexCase removes a case from Meilisearch, fire-and-forget.
func (s *Service) DeindexCase(ctx context.Context, caseID string) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	go func() {
		if err := s.meili.DeleteCase(caseID); err != nil {
			log.Printf("search: delete case %s: %v", caseID, err)
		}
	}()
	return nil
}

// ReindexAllFromPG reads every case from Postgres and pushes the whole set
// into Meilisearch. Called at startup when Meilisearch is reachable.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexCases(records); err != nil {
		log.Printf("search: reindex cases: %v", err)
	}
}
