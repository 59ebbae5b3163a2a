package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"casemark/api/internal/permissions"
	"casemark/api/internal/store"
	"casemark/api/internal/util"
)

// Searcher queries the search backend. Hits carry at least "case_id",
// "name" and "description"; the service filters them by read permission.
type Searcher interface {
	SearchCases(ctx context.Context, query string) ([]map[string]any, error)
}

// Exporter renders an assembled case tree into a downloadable document.
type Exporter interface {
	CasePDF(ctx context.Context, caseName string, tree map[string]any) ([]byte, error)
}

// ImageStore holds the feature image bytes; metadata lives in the database.
type ImageStore interface {
	Save(ctx context.Context, objectKey string, data []byte, contentType string) error
	Load(ctx context.Context, objectKey string) ([]byte, string, error)
}

func (s *Service) SetSearcher(sr Searcher)    { s.searcher = sr }
func (s *Service) SetExporter(e Exporter)     { s.exporter = e }
func (s *Service) SetImageStore(i ImageStore) { s.images = i }

// Search runs the query and keeps only cases the caller may read.
func (s *Service) Search(ctx context.Context, session Session, query string) (map[string]any, error) {
	results := make([]map[string]any, 0)
	if query == "" || s.searcher == nil {
		return map[string]any{"query": query, "results": results}, nil
	}
	hits, err := s.searcher.SearchCases(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	for _, hit := range hits {
		caseID, _ := hit["case_id"].(string)
		if caseID == "" {
			continue
		}
		if _, level, err := s.caseACL(ctx, session, caseID); err != nil || !permissions.CanRead(level) {
			continue
		}
		results = append(results, hit)
	}
	return map[string]any{"query": query, "results": results}, nil
}

// ExportResult is a rendered download.
type ExportResult struct {
	Filename string
	MimeType string
	Data     []byte
}

func (s *Service) ExportCase(ctx context.Context, session Session, caseID string) (ExportResult, error) {
	c, err := s.requireCase(ctx, session, caseID, permissions.CanRead)
	if err != nil {
		return ExportResult{}, err
	}
	if s.exporter == nil {
		return ExportResult{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}

	mu := s.caseLock(caseID)
	mu.RLock()
	g, err := s.store.LoadCaseGraph(ctx, caseID)
	mu.RUnlock()
	if err != nil {
		return ExportResult{}, fmt.Errorf("load case graph: %w", err)
	}
	data, err := s.exporter.CasePDF(ctx, c.Name, assembleCase(c, g))
	if err != nil {
		return ExportResult{}, fmt.Errorf("render case pdf: %w", err)
	}
	return ExportResult{
		Filename: exportFilename(c.Name),
		MimeType: "application/pdf",
		Data:     data,
	}, nil
}

func exportFilename(caseName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, caseName)
	name = strings.Trim(name, "-")
	if name == "" {
		name = "case"
	}
	return name + ".pdf"
}

// ── feature images ──

func (s *Service) SaveCaseImage(ctx context.Context, session Session, caseID string, data []byte, contentType string) error {
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanWrite); err != nil {
		return err
	}
	if s.images == nil {
		return domainError(http.StatusServiceUnavailable, "IMAGES_UNAVAILABLE", "Image storage is not configured", nil)
	}
	if len(data) == 0 {
		return errValidation("image body is required", nil)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectKey := fmt.Sprintf("cases/%s/%s", caseID, util.NewID("img"))
	if err := s.images.Save(ctx, objectKey, data, contentType); err != nil {
		return fmt.Errorf("store image: %w", err)
	}
	if err := s.store.SaveFeatureImage(ctx, store.FeatureImage{
		CaseID:      caseID,
		ObjectKey:   objectKey,
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("save image metadata: %w", err)
	}
	return nil
}

func (s *Service) CaseImage(ctx context.Context, session Session, caseID string) ([]byte, string, error) {
	if _, err := s.requireCase(ctx, session, caseID, permissions.CanRead); err != nil {
		return nil, "", err
	}
	if s.images == nil {
		return nil, "", domainError(http.StatusServiceUnavailable, "IMAGES_UNAVAILABLE", "Image storage is not configured", nil)
	}
	meta, err := s.store.GetFeatureImage(ctx, caseID)
	if err != nil {
		return nil, "", storeError(err)
	}
	data, contentType, err := s.images.Load(ctx, meta.ObjectKey)
	if err != nil {
		return nil, "", fmt.Errorf("load image: %w", err)
	}
	if contentType == "" {
		contentType = meta.ContentType
	}
	return data, contentType, nil
}
