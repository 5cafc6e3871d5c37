package anchor_test

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"lexanchor/internal/anchor"
	"lexanchor/internal/editor"
)

func annotationIDs(t *testing.T, ed *editor.Editor) []string {
	t.Helper()
	snap, err := ed.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	seen := map[string]bool{}
	for _, leaf := range snap.TextLeaves() {
		for _, mark := range leaf.Marks {
			if attrs, ok := anchor.AttrsFromMark(mark); ok {
				seen[attrs.ID] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func TestHighlightClearThenReapply(t *testing.T) {
	ed := editor.New(editor.Paragraphs("The cat sat on the mat.", "Revenue grew 12%, year over year."))
	h := anchor.NewHighlighter(ed, nil)

	first := h.Run(anchor.KindFact, []anchor.Request{
		{ID: "a1", SearchText: "cat sat", Color: "#f00"},
		{ID: "a2", SearchText: "on the mat", Color: "#f00"},
	})
	if first.Placed != 2 || first.Skipped != 0 {
		t.Fatalf("expected 2 placed, got %+v", first)
	}
	if ids := annotationIDs(t, ed); !reflect.DeepEqual(ids, []string{"a1", "a2"}) {
		t.Errorf("expected a1 and a2, got %v", ids)
	}

	second := h.Run(anchor.KindFact, []anchor.Request{
		{ID: "b1", SearchText: "Revenue grew 12 year over year", Color: "#0f0"},
	})
	if second.Placed != 1 {
		t.Fatalf("expected 1 placed, got %+v", second)
	}
	if ids := annotationIDs(t, ed); !reflect.DeepEqual(ids, []string{"b1"}) {
		t.Errorf("expected only b1, got %v", ids)
	}
	if depth := ed.UndoDepth(); depth != 0 {
		t.Errorf("expected undo depth 0, got %d", depth)
	}

	ranges, err := h.Marks().Locate("b1")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	// Second paragraph content starts at 26; the match ends before the period.
	want := []anchor.PosRange{{From: 26, To: 58}}
	if !reflect.DeepEqual(ranges, want) {
		t.Errorf("expected %+v, got %+v", want, ranges)
	}
}

func TestHighlightKeepsOtherKinds(t *testing.T) {
	ed := editor.New(editor.Paragraphs("The lessee shall maintain insurance at all times."))
	h := anchor.NewHighlighter(ed, nil)

	h.Run(anchor.KindCompliance, []anchor.Request{{ID: "c1", SearchText: "maintain insurance"}})
	h.Run(anchor.KindFact, []anchor.Request{{ID: "f1", SearchText: "lessee shall"}})
	h.Run(anchor.KindFact, []anchor.Request{{ID: "f2", SearchText: "all times"}})

	if ids := annotationIDs(t, ed); !reflect.DeepEqual(ids, []string{"c1", "f2"}) {
		t.Errorf("expected c1 and f2, got %v", ids)
	}

	if err := h.Marks().Clear(""); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if ids := annotationIDs(t, ed); len(ids) != 0 {
		t.Errorf("expected no annotations, got %v", ids)
	}
}

func TestHighlightSkipsUnplaceableRequests(t *testing.T) {
	ed := editor.New(editor.Paragraphs("Alpha beta gamma."))
	h := anchor.NewHighlighter(ed, nil)

	report := h.Run(anchor.KindArgument, []anchor.Request{
		{ID: "missing", SearchText: "Completely unrelated phrase"},
		{ID: "blank", SearchText: ` "  " `},
		{ID: "hit", SearchText: "beta gamma"},
	})

	if report.Placed != 1 || report.Skipped != 2 || report.Aborted {
		t.Fatalf("unexpected report %+v", report)
	}
	reasons := map[string]error{}
	for _, outcome := range report.Outcomes {
		reasons[outcome.ID] = outcome.Err
		if outcome.Kind != anchor.KindArgument {
			t.Errorf("expected kind defaulted to argument, got %q", outcome.Kind)
		}
	}
	if !errors.Is(reasons["missing"], anchor.ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", reasons["missing"])
	}
	if !errors.Is(reasons["blank"], anchor.ErrEmptySearchText) {
		t.Errorf("expected ErrEmptySearchText, got %v", reasons["blank"])
	}
}

func TestHighlightAcrossTextNodes(t *testing.T) {
	doc := &editor.Node{Type: "doc", Content: []*editor.Node{{
		Type: "paragraph",
		Content: []*editor.Node{
			{Type: "text", Text: "Hello "},
			{Type: "text", Text: "world", Marks: []anchor.Mark{{Type: "bold"}}},
		},
	}}}
	ed := editor.New(doc)
	h := anchor.NewHighlighter(ed, nil)

	report := h.Run(anchor.KindFact, []anchor.Request{{ID: "x", SearchText: "Hello world"}})
	if report.Placed != 1 {
		t.Fatalf("expected placement, got %+v", report)
	}
	if got := report.Outcomes[0].Ranges; len(got) != 2 {
		t.Errorf("expected one range per text node, got %+v", got)
	}

	ranges, err := h.Marks().Locate("x")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if want := []anchor.PosRange{{From: 1, To: 12}}; !reflect.DeepEqual(ranges, want) {
		t.Errorf("expected merged range %+v, got %+v", want, ranges)
	}
}

func TestClearIDRemovesOneAnnotation(t *testing.T) {
	ed := editor.New(editor.Paragraphs("One two three four."))
	h := anchor.NewHighlighter(ed, nil)
	h.Run(anchor.KindFact, []anchor.Request{
		{ID: "fact-0", SearchText: "One two"},
		{ID: "fact-1", SearchText: "three four"},
	})

	if err := h.Marks().ClearID("fact-0"); err != nil {
		t.Fatalf("ClearID failed: %v", err)
	}
	if ids := annotationIDs(t, ed); !reflect.DeepEqual(ids, []string{"fact-1"}) {
		t.Errorf("expected fact-1 only, got %v", ids)
	}
}

func TestHighlightOnClosedEngine(t *testing.T) {
	ed := editor.New(editor.Paragraphs("Alpha beta gamma."))
	h := anchor.NewHighlighter(ed, nil)
	ed.Close()

	report := h.Run(anchor.KindFact, []anchor.Request{{ID: "a", SearchText: "beta"}})
	if !report.Aborted || report.Placed != 0 {
		t.Errorf("expected aborted pass, got %+v", report)
	}
	if err := h.Marks().Clear(anchor.KindFact); err != nil {
		t.Errorf("expected silent clear, got %v", err)
	}
	if err := h.Marks().ApplyMark([]anchor.PosRange{{From: 1, To: 3}}, anchor.MarkAttrs{ID: "a"}); err != nil {
		t.Errorf("expected silent apply, got %v", err)
	}
}

// racyEngine edits the document right after every snapshot, detaching the
// nodes the snapshot handed out.
type racyEngine struct {
	*editor.Editor
}

func (e racyEngine) Snapshot() (anchor.Document, error) {
	doc, err := e.Editor.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := e.Editor.ReplaceText(1, 1, "x"); err != nil {
		return nil, err
	}
	return doc, nil
}

func TestHighlightStaleNodes(t *testing.T) {
	ed := editor.New(editor.Paragraphs("Alpha beta gamma."))
	h := anchor.NewHighlighter(racyEngine{ed}, nil)

	report := h.Run(anchor.KindFact, []anchor.Request{{ID: "a", SearchText: "beta gamma"}})
	if report.Aborted || report.Skipped != 1 {
		t.Fatalf("expected one skipped request, got %+v", report)
	}
	if err := report.Outcomes[0].Err; !errors.Is(err, anchor.ErrStaleNode) {
		t.Errorf("expected ErrStaleNode, got %v", err)
	}
}
