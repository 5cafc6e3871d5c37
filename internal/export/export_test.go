package export

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"testing"
	"time"

	"lexanchor/internal/anchor"
	"lexanchor/internal/overlay"
)

func TestProseMirrorToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{
			name:     "nil input",
			input:    nil,
			expected: "",
		},
		{
			name: "simple paragraph",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "paragraph",
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "Hello world",
							},
						},
					},
				},
			},
			expected: "<p>Hello world</p>",
		},
		{
			name: "heading with levels",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "heading",
						"attrs": map[string]interface{}{"level": 2.0},
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "Section Title",
							},
						},
					},
				},
			},
			expected: "<h2>Section Title</h2>",
		},
		{
			name: "bold and italic text",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "paragraph",
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "Bold and italic",
								"marks": []interface{}{
									map[string]interface{}{"type": "bold"},
									map[string]interface{}{"type": "italic"},
								},
							},
						},
					},
				},
			},
			expected: "<strong><em>Bold and italic</em></strong>",
		},
		{
			name: "bullet list",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "bulletList",
						"content": []interface{}{
							map[string]interface{}{
								"type": "listItem",
								"content": []interface{}{
									map[string]interface{}{
										"type": "paragraph",
										"content": []interface{}{
											map[string]interface{}{
												"type": "text",
												"text": "Item 1",
											},
										},
									},
								},
							},
						},
					},
				},
			},
			expected: "<ul>",
		},
		{
			name: "code block",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "codeBlock",
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "func main() {}",
							},
						},
					},
				},
			},
			expected: "<pre><code>func main() {}</code></pre>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ProseMirrorToHTML(tt.input)
			// Normalize whitespace for comparison
			result = strings.TrimSpace(result)
			expected := strings.TrimSpace(tt.expected)
			if !strings.Contains(result, expected) {
				t.Errorf("ProseMirrorToHTML() = %v, want %v", result, expected)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderAnnotationMarks(t *testing.T) {
	doc := map[string]interface{}{
		"type": "doc",
		"content": []interface{}{
			map[string]interface{}{
				"type": "paragraph",
				"content": []interface{}{
					map[string]interface{}{
						"type": "text",
						"text": "The lease expired",
						"marks": []interface{}{
							map[string]interface{}{"type": "bold"},
							map[string]interface{}{
								"type":  "analysisHighlight",
								"attrs": map[string]interface{}{"id": "fact-0", "kind": "fact", "color": "#f59e0b"},
							},
						},
					},
				},
			},
		},
	}

	out := ProseMirrorToHTML(doc)
	want := `<strong><span class="annotation annotation-fact" data-annotation-id="fact-0" data-annotation-kind="fact" style="text-decoration: underline #f59e0b">The lease expired</span></strong>`
	if !strings.Contains(out, want) {
		t.Fatalf("ProseMirrorToHTML() = %s, want %s", out, want)
	}

	target, err := overlay.ResolveMarkup(want)
	if err != nil {
		t.Fatalf("rendered annotation not resolvable: %v", err)
	}
	if target.ID != "fact-0" || target.Kind != anchor.KindFact {
		t.Errorf("unexpected target %+v", target)
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	data := TemplateData{
		Title:       "Test Document",
		ContentHTML: template.HTML("<p>This is the content.</p>"),
		Author:      "Test Author",
		UpdatedAt:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Findings: []TemplateFinding{
			{ID: "fact-0", Kind: "fact", SearchText: "The lease expired", Placed: true},
			{ID: "fact-1", Kind: "fact", SearchText: "Missing quote", Reason: "no match"},
		},
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	for _, want := range []string{"Test Document", "Test Author", "Mar 2, 2026", "Findings", "The lease expired", "not located: no match"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("HTML content was escaped - should be rendered as raw HTML")
	}
	if !strings.Contains(html, "<p>This is the content.</p>") {
		t.Error("HTML content should contain unescaped <p> tags")
	}
}

type fakeDataStore struct {
	getDocument        func(ctx context.Context, id string) (DocumentInfo, error)
	getDocumentContent func(ctx context.Context, documentID, version string) (interface{}, error)
	listFindings       func(ctx context.Context, documentID string) ([]Finding, error)
}

func (f fakeDataStore) GetDocument(ctx context.Context, id string) (DocumentInfo, error) {
	return f.getDocument(ctx, id)
}

func (f fakeDataStore) GetDocumentContent(ctx context.Context, documentID, version string) (interface{}, error) {
	return f.getDocumentContent(ctx, documentID, version)
}

func (f fakeDataStore) ListFindings(ctx context.Context, documentID string) ([]Finding, error) {
	return f.listFindings(ctx, documentID)
}

func newFakeDataStore() fakeDataStore {
	return fakeDataStore{
		getDocument: func(ctx context.Context, id string) (DocumentInfo, error) {
			return DocumentInfo{ID: id, Title: "Lease Memo"}, nil
		},
		getDocumentContent: func(ctx context.Context, documentID, version string) (interface{}, error) {
			return map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type":    "paragraph",
						"content": []interface{}{map[string]interface{}{"type": "text", "text": "Body"}},
					},
				},
			}, nil
		},
		listFindings: func(ctx context.Context, documentID string) ([]Finding, error) {
			return []Finding{{ID: "c-0", Kind: "compliance", SearchText: "Body", Placed: true}}, nil
		},
	}
}

func TestServiceExport(t *testing.T) {
	svc := NewService(newFakeDataStore())
	var renderedPDF string
	svc.pdf = func(_ context.Context, html, title string) (*Result, error) {
		renderedPDF = html
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}

	result, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatPDF, IncludeFindings: true})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Lease-Memo.pdf" {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	if !strings.Contains(renderedPDF, "<p>Body</p>") || !strings.Contains(renderedPDF, "compliance") {
		t.Errorf("PDF input missing content or findings: %s", renderedPDF)
	}

	htmlResult, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export(html) error = %v", err)
	}
	if htmlResult.MimeType != "text/html; charset=utf-8" || strings.Contains(string(htmlResult.Data), "Findings") {
		t.Errorf("unexpected html export %q", htmlResult.MimeType)
	}

	if _, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: "odt"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestServiceExportContentUnavailable(t *testing.T) {
	store := newFakeDataStore()
	store.getDocumentContent = func(ctx context.Context, documentID, version string) (interface{}, error) {
		return nil, errors.New("no repository")
	}
	svc := NewService(store)

	if _, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatHTML}); !errors.Is(err, ErrContentUnavailable) {
		t.Errorf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in     string
		want   Format
		wantOK bool
	}{
		{in: "", want: FormatPDF, wantOK: true},
		{in: "docx", want: FormatDOCX, wantOK: true},
		{in: "html", want: FormatHTML, wantOK: true},
		{in: "rtf", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, ok)
		}
	}
}
