package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lexanchor/internal/export"
)

// exportData serves export reads. The live version of a document with an
// open session carries its annotation marks; stored versions do not.
type exportData struct {
	service *Service
}

func (d exportData) GetDocument(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := d.service.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	return export.DocumentInfo{
		ID:        doc.ID,
		Title:     doc.Title,
		UpdatedBy: doc.UpdatedBy,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (d exportData) GetDocumentContent(ctx context.Context, documentID, version string) (interface{}, error) {
	var raw json.RawMessage
	switch version {
	case "", "live", "latest":
		if sess, ok := d.service.lookup(documentID); ok && version != "latest" {
			live, err := sess.editor.JSON()
			if err != nil {
				return nil, err
			}
			raw = live
			break
		}
		content, _, err := d.service.git.GetHeadContent(documentID)
		if err != nil {
			return nil, err
		}
		raw = content.Doc
	default:
		content, _, err := d.service.git.GetContentByHash(documentID, version)
		if err != nil {
			return nil, err
		}
		raw = content.Doc
	}
	return decodeDoc(raw)
}

func (d exportData) ListFindings(ctx context.Context, documentID string) ([]export.Finding, error) {
	findings, err := d.service.store.ListFindings(ctx, documentID, "")
	if err != nil {
		return nil, err
	}
	out := make([]export.Finding, 0, len(findings))
	for _, f := range findings {
		out = append(out, export.Finding{
			ID:         f.ID,
			Kind:       f.Kind,
			SearchText: f.SearchText,
			Color:      f.Color,
			Placed:     f.Placed,
			Reason:     f.Reason,
			RecordedAt: f.RecordedAt,
		})
	}
	return out, nil
}

func decodeDoc(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty document")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
