// Package anchor places analysis findings onto a live rich-text document.
//
// A highlight pass flattens the document's text leaves into one searchable
// string, locates each finding's text with a cascade of increasingly
// permissive matching strategies, maps the matched offsets back onto the
// leaves, and applies annotation marks in a single transaction that is kept
// out of the editor's undo history.
package anchor

import (
	"errors"
	"strings"
)

// Kind identifies which analysis produced a finding.
type Kind string

const (
	KindFact       Kind = "fact"
	KindCompliance Kind = "compliance"
	KindArgument   Kind = "argument"
	KindPlagiarism Kind = "plagiarism"
)

// Kinds lists every analysis kind in display order.
var Kinds = []Kind{KindFact, KindCompliance, KindArgument, KindPlagiarism}

// ParseKind normalizes a kind name. The empty string is not a kind.
func ParseKind(value string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Kinds {
		if kind == known {
			return kind, true
		}
	}
	return "", false
}

// MarkType is the engine mark type shared by every analysis highlight.
const MarkType = "analysisHighlight"

var (
	// ErrNoMatch reports that a finding's text could not be located.
	ErrNoMatch = errors.New("anchor: no match")
	// ErrStaleNode reports a node that left the document while a pass ran.
	ErrStaleNode = errors.New("anchor: stale node reference")
	// ErrEngineClosed reports an editor torn down before or during a pass.
	ErrEngineClosed = errors.New("anchor: engine closed")
	// ErrEmptySearchText reports a request with nothing to search for.
	ErrEmptySearchText = errors.New("anchor: empty search text")
)

// Request is one finding to anchor into the document.
type Request struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	SearchText string         `json:"searchText"`
	Color      string         `json:"color"`
	Extra      map[string]any `json:"extraAttrs,omitempty"`
}

// Attrs returns the mark attributes a placed request carries.
func (r Request) Attrs() MarkAttrs {
	return MarkAttrs{ID: r.ID, Kind: r.Kind, Color: r.Color, Extra: r.Extra}
}

// NodeHandle is an engine node reference. Only the engine interprets it.
type NodeHandle any

// Mark is an engine mark: a type name plus attributes.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Leaf is one text-bearing node of a document snapshot.
type Leaf struct {
	Node  NodeHandle
	Text  string
	Marks []Mark
}

// Document is a read-only view of the editor's document.
type Document interface {
	// TextLeaves returns the text-bearing leaves in reading order.
	TextLeaves() []Leaf
	// ResolvePos converts a byte offset inside a leaf's text into an
	// engine position. It fails when the node is no longer attached.
	ResolvePos(node NodeHandle, local int) (int, error)
}

// Transaction batches mark changes against the current document.
type Transaction interface {
	AddMark(from, to int, mark Mark) error
	RemoveMark(from, to int, mark Mark) error
	SetAddToHistory(record bool)
	Commit() error
}

// Engine is the editing engine the highlighter drives. Both methods return
// ErrEngineClosed once the editor has been torn down.
type Engine interface {
	Snapshot() (Document, error)
	Begin() (Transaction, error)
}

// MarkAttrs are the attributes carried by an annotation mark.
type MarkAttrs struct {
	ID    string
	Kind  Kind
	Color string
	Extra map[string]any
}

// Mark converts the attributes into an engine mark.
func (a MarkAttrs) Mark() Mark {
	attrs := map[string]any{
		"id":    a.ID,
		"kind":  string(a.Kind),
		"color": a.Color,
	}
	if len(a.Extra) > 0 {
		attrs["extra"] = a.Extra
	}
	return Mark{Type: MarkType, Attrs: attrs}
}

// AttrsFromMark reads annotation attributes back out of an engine mark.
func AttrsFromMark(mark Mark) (MarkAttrs, bool) {
	if mark.Type != MarkType {
		return MarkAttrs{}, false
	}
	id, _ := mark.Attrs["id"].(string)
	kind, _ := mark.Attrs["kind"].(string)
	color, _ := mark.Attrs["color"].(string)
	extra, _ := mark.Attrs["extra"].(map[string]any)
	return MarkAttrs{ID: id, Kind: Kind(kind), Color: color, Extra: extra}, true
}
