package search

import (
	"regexp"
	"strings"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultFinding  ResultType = "finding"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type         ResultType `json:"type"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	DocumentID   string     `json:"documentId"`
	AnnotationID string     `json:"annotationId,omitempty"`
	Kind         string     `json:"kind,omitempty"`
	Placed       bool       `json:"placed,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterKind       string
	FilterDocumentID string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexFindings(findings []FindingRecord) error
	DeleteDocument(id string) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// FindingRecord is the data we index for one analysis finding.
type FindingRecord struct {
	ID           string `json:"id"`
	AnnotationID string `json:"annotationId"`
	DocumentID   string `json:"documentId"`
	Kind         string `json:"kind"`
	SearchText   string `json:"searchText"`
	Placed       bool   `json:"placed"`
	Strategy     string `json:"strategy"`
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FindingKey builds an index primary key. Meilisearch ids allow only
// alphanumerics, hyphens and underscores.
func FindingKey(documentID, kind, annotationID string) string {
	parts := []string{documentID, kind, annotationID}
	for i, part := range parts {
		parts[i] = unsafeIDChars.ReplaceAllString(part, "_")
	}
	return strings.Join(parts, "__")
}
