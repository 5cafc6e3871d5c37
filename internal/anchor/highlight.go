package anchor

import (
	"errors"
	"log"
)

// Outcome records what a pass did with one request.
type Outcome struct {
	ID       string     `json:"id"`
	Kind     Kind       `json:"kind"`
	Placed   bool       `json:"placed"`
	Strategy Strategy   `json:"strategy,omitempty"`
	Ranges   []PosRange `json:"ranges,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Err      error      `json:"-"`
}

// Report summarizes one highlight pass.
type Report struct {
	Kind     Kind      `json:"kind"`
	Placed   int       `json:"placed"`
	Skipped  int       `json:"skipped"`
	Aborted  bool      `json:"aborted"`
	Outcomes []Outcome `json:"outcomes"`
}

// Highlighter runs highlight passes for one editor.
type Highlighter struct {
	engine  Engine
	marks   *MarkController
	matcher *Matcher
}

// NewHighlighter creates a highlighter over engine using matcher.
func NewHighlighter(engine Engine, matcher *Matcher) *Highlighter {
	if matcher == nil {
		matcher = NewMatcher(DefaultMatchOptions())
	}
	return &Highlighter{
		engine:  engine,
		marks:   NewMarkController(engine),
		matcher: matcher,
	}
}

// Marks exposes the highlighter's mark controller.
func (h *Highlighter) Marks() *MarkController {
	return h.marks
}

// Run clears the kind's annotations and places requests against the
// document as it is now. It never fails: unplaceable requests are reported
// as skipped, and a torn-down engine ends the pass with Aborted set.
func (h *Highlighter) Run(kind Kind, requests []Request) Report {
	report := Report{Kind: kind, Outcomes: make([]Outcome, 0, len(requests))}

	if err := h.marks.clear(func(attrs MarkAttrs) bool { return attrs.Kind == kind }); err != nil {
		return h.abort(report, err)
	}

	doc, err := h.engine.Snapshot()
	if err != nil {
		return h.abort(report, err)
	}
	index := Flatten(doc)

	placements := make([]Placement, 0, len(requests))
	for _, request := range requests {
		if request.Kind == "" {
			request.Kind = kind
		}
		outcome := h.place(doc, index, request)
		if outcome.Placed {
			placements = append(placements, Placement{Attrs: request.Attrs(), Ranges: outcome.Ranges})
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if err := h.marks.apply(placements); err != nil {
		return h.abort(report, err)
	}

	for _, outcome := range report.Outcomes {
		if outcome.Placed {
			report.Placed++
		} else {
			report.Skipped++
		}
	}
	if report.Skipped > 0 {
		log.Printf("anchor: %s pass placed %d, skipped %d", kind, report.Placed, report.Skipped)
	}
	return report
}

func (h *Highlighter) place(doc Document, index FlatIndex, request Request) Outcome {
	outcome := Outcome{ID: request.ID, Kind: request.Kind}

	targets := SearchTargets(request.SearchText)
	if len(targets) == 0 {
		return outcome.skip(ErrEmptySearchText)
	}

	var stale error
	for _, target := range targets {
		match, ok := h.matcher.Match(index.Text, target)
		if !ok {
			continue
		}
		ranges, err := ResolveFragments(doc, MapRange(index, match))
		if err != nil {
			stale = err
		}
		if len(ranges) == 0 {
			continue
		}
		if outcome.Strategy == "" {
			outcome.Strategy = match.Strategy
		}
		outcome.Ranges = append(outcome.Ranges, ranges...)
	}

	if len(outcome.Ranges) > 0 {
		outcome.Placed = true
		return outcome
	}
	if stale != nil {
		return outcome.skip(stale)
	}
	return outcome.skip(ErrNoMatch)
}

func (o Outcome) skip(err error) Outcome {
	o.Placed = false
	o.Err = err
	o.Reason = err.Error()
	return o
}

func (h *Highlighter) abort(report Report, err error) Report {
	report.Aborted = true
	report.Placed = 0
	report.Skipped = len(report.Outcomes)
	for i := range report.Outcomes {
		if report.Outcomes[i].Placed {
			report.Outcomes[i] = report.Outcomes[i].skip(err)
			report.Outcomes[i].Ranges = nil
		}
	}
	if !errors.Is(err, ErrEngineClosed) {
		log.Printf("anchor: %s pass aborted: %v", report.Kind, err)
	}
	return report
}
