package anchor

import (
	"errors"
	"fmt"
)

// Placement is one request's resolved ranges and the mark it receives.
type Placement struct {
	Attrs  MarkAttrs
	Ranges []PosRange
}

// MarkController adds and removes annotation marks. Every transaction it
// commits is excluded from undo history, and a torn-down engine turns each
// operation into a silent no-op.
type MarkController struct {
	engine Engine
}

// NewMarkController creates a controller over the given engine.
func NewMarkController(engine Engine) *MarkController {
	return &MarkController{engine: engine}
}

// ApplyMark marks every range with attrs in one transaction.
func (c *MarkController) ApplyMark(ranges []PosRange, attrs MarkAttrs) error {
	return ignoreClosed(c.apply([]Placement{{Attrs: attrs, Ranges: ranges}}))
}

// Apply commits all placements of a pass in one transaction.
func (c *MarkController) Apply(placements []Placement) error {
	return ignoreClosed(c.apply(placements))
}

// Clear removes every annotation of kind, or of any kind when kind is empty.
func (c *MarkController) Clear(kind Kind) error {
	return ignoreClosed(c.clear(func(attrs MarkAttrs) bool {
		return kind == "" || attrs.Kind == kind
	}))
}

// ClearID removes the marks of a single annotation.
func (c *MarkController) ClearID(id string) error {
	return ignoreClosed(c.clear(func(attrs MarkAttrs) bool {
		return attrs.ID == id
	}))
}

// Locate returns the document ranges currently covered by annotation id,
// with touching ranges merged.
func (c *MarkController) Locate(id string) ([]PosRange, error) {
	doc, err := c.engine.Snapshot()
	if err != nil {
		return nil, err
	}

	var ranges []PosRange
	for _, leaf := range doc.TextLeaves() {
		if !hasAnnotation(leaf.Marks, id) {
			continue
		}
		pos, err := resolveFragment(doc, Fragment{Node: leaf.Node, LocalFrom: 0, LocalTo: len(leaf.Text)})
		if err != nil {
			continue
		}
		if n := len(ranges); n > 0 && ranges[n-1].To == pos.From {
			ranges[n-1].To = pos.To
			continue
		}
		ranges = append(ranges, pos)
	}
	return ranges, nil
}

func hasAnnotation(marks []Mark, id string) bool {
	for _, mark := range marks {
		if attrs, ok := AttrsFromMark(mark); ok && attrs.ID == id {
			return true
		}
	}
	return false
}

func (c *MarkController) apply(placements []Placement) error {
	total := 0
	for _, placement := range placements {
		total += len(placement.Ranges)
	}
	if total == 0 {
		return nil
	}

	tx, err := c.engine.Begin()
	if err != nil {
		return err
	}
	tx.SetAddToHistory(false)

	added := 0
	for _, placement := range placements {
		mark := placement.Attrs.Mark()
		for _, r := range placement.Ranges {
			// A range invalidated by a concurrent edit is skipped alone.
			if err := tx.AddMark(r.From, r.To, mark); err != nil {
				continue
			}
			added++
		}
	}
	if added == 0 {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit annotation marks: %w", err)
	}
	return nil
}

func (c *MarkController) clear(match func(MarkAttrs) bool) error {
	doc, err := c.engine.Snapshot()
	if err != nil {
		return err
	}

	var tx Transaction
	removed := 0
	for _, leaf := range doc.TextLeaves() {
		for _, mark := range leaf.Marks {
			attrs, ok := AttrsFromMark(mark)
			if !ok || !match(attrs) {
				continue
			}
			pos, err := resolveFragment(doc, Fragment{Node: leaf.Node, LocalFrom: 0, LocalTo: len(leaf.Text)})
			if err != nil {
				continue
			}
			if tx == nil {
				if tx, err = c.engine.Begin(); err != nil {
					return err
				}
				tx.SetAddToHistory(false)
			}
			if err := tx.RemoveMark(pos.From, pos.To, mark); err != nil {
				continue
			}
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit annotation removal: %w", err)
	}
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, ErrEngineClosed) {
		return nil
	}
	return err
}
