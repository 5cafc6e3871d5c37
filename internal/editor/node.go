// Package editor hosts a ProseMirror-shaped document in memory and exposes
// it to the anchoring engine: text leaves, position lookup, mark
// transactions, and a minimal undo history.
package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"unicode/utf8"

	"lexanchor/internal/anchor"
)

// Node is a node in the document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []anchor.Mark  `json:"marks,omitempty"`
}

// leafTypes are the non-text nodes that occupy a single position.
var leafTypes = map[string]struct{}{
	"hardBreak":      {},
	"horizontalRule": {},
	"image":          {},
	"mention":        {},
}

var ErrInvalidDocument = errors.New("editor: invalid document")

// Parse decodes ProseMirror JSON. The root must be a doc node.
func Parse(raw json.RawMessage) (*Node, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDocument)
	}
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if root.Type != "doc" {
		return nil, fmt.Errorf("%w: root type %q", ErrInvalidDocument, root.Type)
	}
	return &root, nil
}

// Paragraphs builds a doc of plain paragraphs. Handy for tests and seeds.
func Paragraphs(texts ...string) *Node {
	doc := &Node{Type: "doc"}
	for _, text := range texts {
		paragraph := &Node{Type: "paragraph"}
		if text != "" {
			paragraph.Content = []*Node{{Type: "text", Text: text}}
		}
		doc.Content = append(doc.Content, paragraph)
	}
	return doc
}

func (n *Node) isText() bool {
	return n.Type == "text"
}

func (n *Node) isLeaf() bool {
	_, ok := leafTypes[n.Type]
	return ok
}

// size is the number of positions the node occupies in its parent.
func (n *Node) size() int {
	switch {
	case n.isText():
		return utf8.RuneCountInString(n.Text)
	case n.isLeaf():
		return 1
	default:
		return n.contentSize() + 2
	}
}

func (n *Node) contentSize() int {
	total := 0
	for _, child := range n.Content {
		total += child.size()
	}
	return total
}

func (n *Node) clone() *Node {
	if n == nil {
		return nil
	}
	copied := &Node{Type: n.Type, Text: n.Text, Attrs: n.Attrs}
	if len(n.Marks) > 0 {
		copied.Marks = append([]anchor.Mark(nil), n.Marks...)
	}
	if len(n.Content) > 0 {
		copied.Content = make([]*Node, len(n.Content))
		for i, child := range n.Content {
			copied.Content[i] = child.clone()
		}
	}
	return copied
}

// TextContent concatenates the node's text.
func (n *Node) TextContent() string {
	if n.isText() {
		return n.Text
	}
	var out []byte
	for _, child := range n.Content {
		out = append(out, child.TextContent()...)
	}
	return string(out)
}

// WithoutMarks returns a copy of the tree with every mark of markType
// removed and adjacent text rejoined.
func (n *Node) WithoutMarks(markType string) *Node {
	copied := n.clone()
	stripMarks(copied, anchor.Mark{Type: markType})
	return copied
}

func stripMarks(n *Node, pattern anchor.Mark) {
	if n.isText() {
		n.Marks = removeMarks(n.Marks, pattern)
		return
	}
	for _, child := range n.Content {
		stripMarks(child, pattern)
	}
	if len(n.Content) > 0 {
		n.Content = joinText(n.Content)
	}
}

// walkText visits text nodes in reading order with the position of their
// first character. start is the position where n's content begins.
func walkText(n *Node, start int, visit func(text *Node, pos int)) {
	pos := start
	for _, child := range n.Content {
		switch {
		case child.isText():
			visit(child, pos)
		case !child.isLeaf():
			walkText(child, pos+1, visit)
		}
		pos += child.size()
	}
}

func markEqual(a, b anchor.Mark) bool {
	return a.Type == b.Type && reflect.DeepEqual(a.Attrs, b.Attrs)
}

// markMatches reports whether mark is selected by pattern: same type and
// every attribute named in pattern equal.
func markMatches(mark, pattern anchor.Mark) bool {
	if mark.Type != pattern.Type {
		return false
	}
	for key, want := range pattern.Attrs {
		if !reflect.DeepEqual(mark.Attrs[key], want) {
			return false
		}
	}
	return true
}

func marksEqual(a, b []anchor.Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !markEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sortMarks(marks []anchor.Mark) {
	sort.SliceStable(marks, func(i, j int) bool {
		if marks[i].Type != marks[j].Type {
			return marks[i].Type < marks[j].Type
		}
		left, _ := marks[i].Attrs["id"].(string)
		right, _ := marks[j].Attrs["id"].(string)
		return left < right
	})
}

func addMark(marks []anchor.Mark, mark anchor.Mark) []anchor.Mark {
	for _, existing := range marks {
		if markEqual(existing, mark) {
			return marks
		}
	}
	out := append(append([]anchor.Mark(nil), marks...), mark)
	sortMarks(out)
	return out
}

func removeMarks(marks []anchor.Mark, pattern anchor.Mark) []anchor.Mark {
	out := make([]anchor.Mark, 0, len(marks))
	for _, existing := range marks {
		if markMatches(existing, pattern) {
			continue
		}
		out = append(out, existing)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// updateMarks rewrites the marks of every character in [from, to).
// start is the position where node's content begins.
func updateMarks(node *Node, start, from, to int, update func([]anchor.Mark) []anchor.Mark) {
	out := make([]*Node, 0, len(node.Content))
	pos := start
	for _, child := range node.Content {
		size := child.size()
		end := pos + size
		overlaps := end > from && pos < to
		switch {
		case overlaps && child.isText():
			out = append(out, splitText(child, pos, from, to, update)...)
		case overlaps && !child.isLeaf():
			updateMarks(child, pos+1, from, to, update)
			out = append(out, child)
		default:
			out = append(out, child)
		}
		pos = end
	}
	node.Content = joinText(out)
}

func splitText(text *Node, pos, from, to int, update func([]anchor.Mark) []anchor.Mark) []*Node {
	runes := []rune(text.Text)
	lo := max(from-pos, 0)
	hi := min(to-pos, len(runes))

	parts := make([]*Node, 0, 3)
	if lo > 0 {
		parts = append(parts, &Node{Type: "text", Text: string(runes[:lo]), Marks: text.Marks})
	}
	parts = append(parts, &Node{Type: "text", Text: string(runes[lo:hi]), Marks: update(text.Marks)})
	if hi < len(runes) {
		parts = append(parts, &Node{Type: "text", Text: string(runes[hi:]), Marks: text.Marks})
	}
	return parts
}

// joinText merges adjacent text nodes that carry the same marks.
func joinText(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, node := range nodes {
		if node.isText() && node.Text == "" {
			continue
		}
		if n := len(out); n > 0 && node.isText() && out[n-1].isText() && marksEqual(out[n-1].Marks, node.Marks) {
			out[n-1] = &Node{Type: "text", Text: out[n-1].Text + node.Text, Marks: out[n-1].Marks}
			continue
		}
		out = append(out, node)
	}
	return out
}
