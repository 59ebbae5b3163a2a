package export

import (
	"context"
	"fmt"
)

// Service turns an assembled case tree into a PDF.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// CasePDF renders the nested case tree and prints it through headless Chrome.
func (s *Service) CasePDF(ctx context.Context, caseName string, tree map[string]any) ([]byte, error) {
	html, err := RenderCaseHTML(caseName, tree)
	if err != nil {
		return nil, fmt.Errorf("render case html: %w", err)
	}
	return printPDF(ctx, html)
}
