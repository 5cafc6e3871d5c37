package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"lexanchor/internal/anchor"
)

var (
	ErrDetached           = errors.New("editor: node is not in the current document")
	ErrOutOfRange         = errors.New("editor: position out of range")
	ErrConflict           = errors.New("editor: document changed since transaction began")
	ErrUnsupportedReplace = errors.New("editor: replacement must stay within one text block")
	ErrNothingToUndo      = errors.New("editor: nothing to undo")
)

// Editor hosts one document. Committed trees are never mutated in place:
// every change builds a new tree, which detaches the nodes of older
// snapshots.
type Editor struct {
	mu          sync.Mutex
	doc         *Node
	index       map[*Node]int
	version     int
	history     []*Node
	closed      bool
	subscribers map[int]chan struct{}
	nextSub     int
}

// New creates an editor over a copy of doc.
func New(doc *Node) *Editor {
	if doc == nil {
		doc = &Node{Type: "doc"}
	}
	e := &Editor{subscribers: map[int]chan struct{}{}}
	e.install(doc.clone())
	return e
}

func (e *Editor) install(doc *Node) {
	e.doc = doc
	e.index = map[*Node]int{}
	walkText(doc, 0, func(text *Node, pos int) {
		e.index[text] = pos
	})
}

// Snapshot returns a read-only view of the current document.
func (e *Editor) Snapshot() (anchor.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, anchor.ErrEngineClosed
	}
	snap := &snapshot{editor: e}
	walkText(e.doc, 0, func(text *Node, _ int) {
		snap.leaves = append(snap.leaves, anchor.Leaf{Node: text, Text: text.Text, Marks: text.Marks})
	})
	return snap, nil
}

// Begin starts a transaction against the current document.
func (e *Editor) Begin() (anchor.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, anchor.ErrEngineClosed
	}
	return &Transaction{
		editor:  e,
		base:    e.version,
		working: e.doc.clone(),
		record:  true,
	}, nil
}

// Doc returns a copy of the current document tree.
func (e *Editor) Doc() *Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.clone()
}

// JSON encodes the current document.
func (e *Editor) JSON() (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return json.Marshal(e.doc)
}

// ContentJSON encodes the current document without annotation marks, the
// form in which it is persisted.
func (e *Editor) ContentJSON() (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return json.Marshal(e.doc.WithoutMarks(anchor.MarkType))
}

// Text returns the document's concatenated text.
func (e *Editor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.TextContent()
}

func (e *Editor) Version() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// UndoDepth is the number of undoable steps.
func (e *Editor) UndoDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// Undo reverts the most recent history-recorded change.
func (e *Editor) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return anchor.ErrEngineClosed
	}
	n := len(e.history)
	if n == 0 {
		return ErrNothingToUndo
	}
	previous := e.history[n-1]
	e.history = e.history[:n-1]
	e.install(previous)
	e.version++
	e.notifyLocked()
	return nil
}

// ReplaceText replaces [from, to) with text. The range must lie inside a
// single text block. Inserted text takes the marks of the character
// before it, except annotation marks.
func (e *Editor) ReplaceText(from, to int, text string) error {
	return e.ReplaceRanges([]Edit{{From: from, To: to, Text: text}})
}

// Edit replaces [From, To) with Text.
type Edit struct {
	From, To int
	Text     string
}

// ReplaceRanges applies non-overlapping edits as one user edit and one undo
// step. Either every edit applies or the document is left untouched.
func (e *Editor) ReplaceRanges(edits []Edit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return anchor.ErrEngineClosed
	}
	if len(edits) == 0 {
		return nil
	}

	ordered := append([]Edit(nil), edits...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].From > ordered[j].From })
	size := e.doc.contentSize()
	for i, edit := range ordered {
		if edit.From < 0 || edit.To < edit.From || edit.To > size {
			return fmt.Errorf("%w: [%d, %d)", ErrOutOfRange, edit.From, edit.To)
		}
		if i > 0 && edit.To > ordered[i-1].From {
			return fmt.Errorf("%w: [%d, %d) overlaps [%d, %d)", ErrOutOfRange, edit.From, edit.To, ordered[i-1].From, ordered[i-1].To)
		}
	}

	// Back to front, so positions of the edits still pending stay valid.
	working := e.doc.clone()
	for _, edit := range ordered {
		block, start := findTextblock(working, 0, edit.From, edit.To)
		if block == nil {
			return fmt.Errorf("%w: [%d, %d)", ErrUnsupportedReplace, edit.From, edit.To)
		}
		block.Content = replaceInline(block.Content, edit.From-start, edit.To-start, edit.Text)
	}

	e.history = append(e.history, e.doc)
	e.install(working)
	e.version++
	e.notifyLocked()
	return nil
}

// Subscribe returns a channel signalled after each user edit. Signals
// coalesce; the channel closes when the editor closes or cancel is called.
func (e *Editor) Subscribe() (<-chan struct{}, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{}, 1)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(sub)
		}
	}
}

// Close tears the editor down. Later calls fail with anchor.ErrEngineClosed.
func (e *Editor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, sub := range e.subscribers {
		delete(e.subscribers, id)
		close(sub)
	}
}

func (e *Editor) notifyLocked() {
	for _, sub := range e.subscribers {
		select {
		case sub <- struct{}{}:
		default:
		}
	}
}

func (e *Editor) commit(tx *Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return anchor.ErrEngineClosed
	}
	if tx.base != e.version {
		return ErrConflict
	}
	if tx.record {
		e.history = append(e.history, e.doc)
	}
	e.install(tx.working)
	e.version++
	if tx.record {
		e.notifyLocked()
	}
	return nil
}

type snapshot struct {
	editor *Editor
	leaves []anchor.Leaf
}

func (s *snapshot) TextLeaves() []anchor.Leaf {
	return s.leaves
}

// ResolvePos looks the node up in the editor's current tree, so a handle
// from before a commit resolves to ErrDetached.
func (s *snapshot) ResolvePos(handle anchor.NodeHandle, local int) (int, error) {
	node, ok := handle.(*Node)
	if !ok {
		return 0, ErrDetached
	}
	s.editor.mu.Lock()
	defer s.editor.mu.Unlock()
	if s.editor.closed {
		return 0, anchor.ErrEngineClosed
	}
	start, ok := s.editor.index[node]
	if !ok {
		return 0, ErrDetached
	}
	if local < 0 || local > len(node.Text) || !utf8.RuneStart(byteAt(node.Text, local)) {
		return 0, fmt.Errorf("%w: offset %d in %q", ErrOutOfRange, local, node.Text)
	}
	return start + utf8.RuneCountInString(node.Text[:local]), nil
}

func byteAt(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}

// Transaction is a batch of mark changes applied on Commit.
type Transaction struct {
	editor  *Editor
	base    int
	working *Node
	record  bool
	steps   int
	done    bool
}

func (tx *Transaction) AddMark(from, to int, mark anchor.Mark) error {
	if err := tx.check(from, to); err != nil {
		return err
	}
	updateMarks(tx.working, 0, from, to, func(marks []anchor.Mark) []anchor.Mark {
		return addMark(marks, mark)
	})
	tx.steps++
	return nil
}

// RemoveMark removes marks of mark's type whose attributes include every
// attribute mark names.
func (tx *Transaction) RemoveMark(from, to int, mark anchor.Mark) error {
	if err := tx.check(from, to); err != nil {
		return err
	}
	updateMarks(tx.working, 0, from, to, func(marks []anchor.Mark) []anchor.Mark {
		return removeMarks(marks, mark)
	})
	tx.steps++
	return nil
}

func (tx *Transaction) SetAddToHistory(record bool) {
	tx.record = record
}

func (tx *Transaction) Steps() int {
	return tx.steps
}

func (tx *Transaction) Commit() error {
	if tx.done {
		return errors.New("editor: transaction already committed")
	}
	tx.done = true
	return tx.editor.commit(tx)
}

func (tx *Transaction) check(from, to int) error {
	if tx.done {
		return errors.New("editor: transaction already committed")
	}
	if from < 0 || to <= from || to > tx.working.contentSize() {
		return fmt.Errorf("%w: [%d, %d)", ErrOutOfRange, from, to)
	}
	return nil
}

// findTextblock returns the innermost block holding only inline content
// that contains [from, to), with the position where its content starts.
func findTextblock(node *Node, start, from, to int) (*Node, int) {
	pos := start
	for _, child := range node.Content {
		size := child.size()
		if !child.isText() && !child.isLeaf() {
			contentStart := pos + 1
			contentEnd := pos + size - 1
			if from >= contentStart && to <= contentEnd {
				if child.isTextblock() {
					return child, contentStart
				}
				return findTextblock(child, contentStart, from, to)
			}
		}
		pos += size
	}
	return nil, 0
}

func (n *Node) isTextblock() bool {
	for _, child := range n.Content {
		if !child.isText() && !child.isLeaf() {
			return false
		}
	}
	return n.Type != "doc"
}

type inlineItem struct {
	r     rune
	node  *Node
	marks []anchor.Mark
}

func replaceInline(content []*Node, from, to int, text string) []*Node {
	items := make([]inlineItem, 0, len(content))
	for _, child := range content {
		if !child.isText() {
			items = append(items, inlineItem{node: child})
			continue
		}
		for _, r := range child.Text {
			items = append(items, inlineItem{r: r, marks: child.Marks})
		}
	}

	var inherited []anchor.Mark
	if from > 0 && items[from-1].node == nil {
		inherited = removeMarks(items[from-1].marks, anchor.Mark{Type: anchor.MarkType})
	}
	inserted := make([]inlineItem, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		inserted = append(inserted, inlineItem{r: r, marks: inherited})
	}

	merged := make([]inlineItem, 0, len(items)-(to-from)+len(inserted))
	merged = append(merged, items[:from]...)
	merged = append(merged, inserted...)
	merged = append(merged, items[to:]...)

	out := make([]*Node, 0, len(content)+1)
	for _, item := range merged {
		if item.node != nil {
			out = append(out, item.node)
			continue
		}
		out = append(out, &Node{Type: "text", Text: string(item.r), Marks: item.marks})
	}
	return joinText(out)
}
