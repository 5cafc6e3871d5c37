package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// DataStore loads what an export needs.
type DataStore interface {
	GetDocument(ctx context.Context, id string) (DocumentInfo, error)
	GetDocumentContent(ctx context.Context, documentID, version string) (interface{}, error)
	ListFindings(ctx context.Context, documentID string) ([]Finding, error)
}

// DocumentInfo holds basic document metadata
type DocumentInfo struct {
	ID        string
	Title     string
	UpdatedBy string
	UpdatedAt time.Time
}

// Service provides document export functionality
type Service struct {
	store DataStore
	pdf   func(ctx context.Context, html, title string) (*Result, error)
	docx  func(ctx context.Context, html, title string) (*Result, error)
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store, pdf: exportPDF, docx: exportDOCX}
}

// RenderHTML renders the full HTML page for a document version.
func (s *Service) RenderHTML(ctx context.Context, req Request) (string, DocumentInfo, error) {
	docInfo, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return "", DocumentInfo{}, fmt.Errorf("get document: %w", err)
	}

	content, err := s.store.GetDocumentContent(ctx, req.DocumentID, req.Version)
	if err != nil {
		return "", DocumentInfo{}, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		Title:       docInfo.Title,
		ContentHTML: template.HTML(ProseMirrorToHTML(content)),
		Author:      docInfo.UpdatedBy,
		UpdatedAt:   docInfo.UpdatedAt,
		Findings:    []TemplateFinding{},
	}

	if req.IncludeFindings {
		findings, err := s.store.ListFindings(ctx, req.DocumentID)
		if err != nil {
			return "", DocumentInfo{}, fmt.Errorf("list findings: %w", err)
		}
		for _, f := range findings {
			data.Findings = append(data.Findings, TemplateFinding{
				ID:         f.ID,
				Kind:       f.Kind,
				SearchText: f.SearchText,
				Color:      f.Color,
				Placed:     f.Placed,
				Reason:     f.Reason,
			})
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return "", DocumentInfo{}, fmt.Errorf("render template: %w", err)
	}
	return html, docInfo, nil
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if _, ok := ParseFormat(string(req.Format)); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	html, docInfo, err := s.RenderHTML(ctx, req)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(docInfo.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatDOCX:
		return s.docx(ctx, html, docInfo.Title)
	default:
		return s.pdf(ctx, html, docInfo.Title)
	}
}
