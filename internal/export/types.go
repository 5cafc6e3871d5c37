// Package export renders annotated documents to HTML, PDF and DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name, defaulting to PDF.
func ParseFormat(value string) (Format, bool) {
	switch Format(value) {
	case "":
		return FormatPDF, true
	case FormatHTML, FormatPDF, FormatDOCX:
		return Format(value), true
	default:
		return "", false
	}
}

// Request contains parameters for an export operation
type Request struct {
	DocumentID      string
	Version         string // "" or "live" for the open session, else a commit hash
	Format          Format
	IncludeFindings bool
}

// Finding is one anchored analysis result listed after the document body.
type Finding struct {
	ID         string
	Kind       string
	SearchText string
	Color      string
	Placed     bool
	Reason     string
	RecordedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	// ErrUnsupportedFormat indicates an unknown export format.
	ErrUnsupportedFormat = errors.New("export format unsupported")
)
