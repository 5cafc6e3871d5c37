package overlay

import (
	"errors"
	"testing"
	"time"

	"lexanchor/internal/anchor"
)

func TestPlace(t *testing.T) {
	viewport := Size{Width: 1000, Height: 800}

	tests := []struct {
		name      string
		target    Rect
		want      Placement
		wantX     float64
		wantY     float64
		cardWidth float64
	}{
		{
			name:      "room below",
			target:    Rect{Left: 100, Top: 100, Right: 200, Bottom: 120},
			want:      PlacementBottom,
			wantX:     100,
			wantY:     128,
			cardWidth: 300,
		},
		{
			name:      "flip to top near bottom edge",
			target:    Rect{Left: 100, Top: 700, Right: 200, Bottom: 780},
			want:      PlacementTop,
			wantX:     100,
			wantY:     692,
			cardWidth: 300,
		},
		{
			name:      "no room above falls back to bottom",
			target:    Rect{Left: 100, Top: 305, Right: 200, Bottom: 780},
			want:      PlacementBottom,
			wantX:     100,
			wantY:     788,
			cardWidth: 300,
		},
		{
			name:      "just enough room above",
			target:    Rect{Left: 100, Top: 311, Right: 200, Bottom: 780},
			want:      PlacementTop,
			wantX:     100,
			wantY:     303,
			cardWidth: 300,
		},
		{
			name:      "clamped from the right edge",
			target:    Rect{Left: 900, Top: 100, Right: 950, Bottom: 120},
			want:      PlacementBottom,
			wantX:     690,
			wantY:     128,
			cardWidth: 300,
		},
		{
			name:      "clamped from the left edge",
			target:    Rect{Left: 2, Top: 100, Right: 50, Bottom: 120},
			want:      PlacementBottom,
			wantX:     10,
			wantY:     128,
			cardWidth: 300,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Place(tt.target, tt.cardWidth, 300, viewport, DefaultMargin)
			if got.Placement != tt.want {
				t.Errorf("expected placement %s, got %s", tt.want, got.Placement)
			}
			if got.X != tt.wantX || got.Y != tt.wantY {
				t.Errorf("expected (%v, %v), got (%v, %v)", tt.wantX, tt.wantY, got.X, got.Y)
			}
		})
	}
}

func TestResolveMarkup(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		want    Target
		wantErr error
	}{
		{
			name:   "annotation span",
			markup: `<span class="annotation" data-annotation-id="fact-2" data-annotation-kind="fact">text</span>`,
			want:   Target{ID: "fact-2", Kind: anchor.KindFact},
		},
		{
			name:   "nested inside annotation",
			markup: `<span data-annotation-id="c-1" data-annotation-kind="Compliance"><strong><em>word</em></strong></span>`,
			want:   Target{ID: "c-1", Kind: anchor.KindCompliance},
		},
		{
			name:    "plain element",
			markup:  `<p><strong>word</strong></p>`,
			wantErr: ErrNoAnnotation,
		},
		{
			name:    "text only",
			markup:  `just text`,
			wantErr: ErrNoAnnotation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveMarkup(tt.markup)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveMarkup failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

// fakeClock collects scheduled callbacks so tests decide when they fire.
type fakeClock struct {
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	timer := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

// fire runs every timer that has not been stopped.
func (c *fakeClock) fire() {
	timers := c.timers
	c.timers = nil
	for _, timer := range timers {
		if !timer.stopped {
			timer.stopped = true
			timer.fn()
		}
	}
}

func newTestRouter(clock *fakeClock, states *[]State) *Router {
	router := NewRouter(anchor.KindFact, RouterConfig{
		HideDelay: 300 * time.Millisecond,
		AfterFunc: clock.AfterFunc,
		OnChange: func(state State) {
			*states = append(*states, state)
		},
	})
	router.SetResults([]anchor.Request{
		{ID: "fact-0", SearchText: "first"},
		{ID: "fact-1", SearchText: "second"},
	})
	return router
}

func TestRouterHoverHandoff(t *testing.T) {
	clock := &fakeClock{}
	var states []State
	router := newTestRouter(clock, &states)

	if _, err := router.EnterMark("fact-0", Rect{Top: 10, Bottom: 30}); err != nil {
		t.Fatalf("EnterMark failed: %v", err)
	}
	router.LeaveMark()
	if !router.Pending() {
		t.Fatal("expected a pending hide after leaving the mark")
	}
	router.EnterCard()
	clock.fire()

	for i, state := range states {
		if !state.Visible {
			t.Fatalf("card hid at transition %d during handoff", i)
		}
	}
	if state := router.State(); !state.Visible || !state.OverCard {
		t.Errorf("expected visible card under pointer, got %+v", state)
	}

	router.LeaveCard()
	if len(clock.timers) != 1 || clock.timers[0].delay != 300*time.Millisecond {
		t.Fatalf("expected hide re-armed with 300ms, got %d timers", len(clock.timers))
	}
	clock.fire()
	if router.State().Visible {
		t.Error("expected card hidden after leaving it")
	}
}

func TestRouterSwitchesMarksWithoutHiding(t *testing.T) {
	clock := &fakeClock{}
	var states []State
	router := newTestRouter(clock, &states)

	_, _ = router.EnterMark("fact-0", Rect{Top: 10, Bottom: 30})
	router.LeaveMark()
	state, err := router.EnterMark("fact-1", Rect{Top: 50, Bottom: 70})
	if err != nil {
		t.Fatalf("EnterMark failed: %v", err)
	}
	if state.Data.ID != "fact-1" {
		t.Errorf("expected fact-1 data, got %q", state.Data.ID)
	}

	clock.fire()
	if !router.State().Visible {
		t.Error("stale hide timer closed the new card")
	}
	for i, s := range states {
		if !s.Visible {
			t.Errorf("card hid at transition %d", i)
		}
	}
}

func TestRouterLookupFallsBackToIndex(t *testing.T) {
	clock := &fakeClock{}
	var states []State
	router := newTestRouter(clock, &states)

	state, err := router.EnterMark("fact-result-1", Rect{})
	if err != nil {
		t.Fatalf("EnterMark failed: %v", err)
	}
	if state.Data.SearchText != "second" {
		t.Errorf("expected positional fallback to second result, got %+v", state.Data)
	}

	if _, err := router.EnterMark("fact-9", Rect{}); !errors.Is(err, ErrUnknownAnnotation) {
		t.Errorf("expected ErrUnknownAnnotation, got %v", err)
	}
	if _, err := router.EnterMark("unknown", Rect{}); !errors.Is(err, ErrUnknownAnnotation) {
		t.Errorf("expected ErrUnknownAnnotation, got %v", err)
	}
}

func TestRouterHidesWhenResultDisappears(t *testing.T) {
	clock := &fakeClock{}
	var states []State
	router := newTestRouter(clock, &states)

	_, _ = router.EnterMark("fact-0", Rect{})
	router.SetResults([]anchor.Request{{ID: "other", SearchText: "x"}})
	if router.State().Visible {
		t.Error("expected card hidden once its finding left the result set")
	}
}

func TestRouterDismissBlocksDirectAndPositionalLookup(t *testing.T) {
	clock := &fakeClock{}
	var states []State
	router := newTestRouter(clock, &states)

	_, _ = router.EnterMark("fact-0", Rect{})
	router.Dismiss("fact-0")
	if router.State().Visible {
		t.Fatal("expected dismissed card hidden")
	}

	for _, id := range []string{"fact-0", "result-0"} {
		if _, err := router.EnterMark(id, Rect{}); !errors.Is(err, ErrUnknownAnnotation) {
			t.Errorf("EnterMark(%q): expected ErrUnknownAnnotation, got %v", id, err)
		}
	}

	router.SetResults([]anchor.Request{
		{ID: "fact-0", SearchText: "first"},
		{ID: "fact-1", SearchText: "second"},
	})
	state, err := router.EnterMark("fact-1", Rect{})
	if err != nil {
		t.Fatalf("EnterMark failed: %v", err)
	}
	if state.Data.SearchText != "second" {
		t.Errorf("expected second result, got %+v", state.Data)
	}
	if _, err := router.EnterMark("fact-0", Rect{}); !errors.Is(err, ErrUnknownAnnotation) {
		t.Errorf("dismissal must survive a result refresh, got %v", err)
	}
}

func TestHubRoutesByKind(t *testing.T) {
	clock := &fakeClock{}
	hub := NewHub(HubConfig{AfterFunc: clock.AfterFunc})
	hub.SetResults(anchor.KindCompliance, []anchor.Request{{ID: "c-0", SearchText: "rule"}})
	hub.SetResults(anchor.KindPlagiarism, []anchor.Request{{ID: "p-0"}})

	kind, state, err := hub.Route(Event{
		Type:   EventEnter,
		Over:   OverMark,
		Markup: `<span data-annotation-id="c-0" data-annotation-kind="compliance">rule</span>`,
		Rect:   Rect{Top: 10, Bottom: 20},
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if kind != anchor.KindCompliance || !state.Visible {
		t.Errorf("expected visible compliance card, got %s %+v", kind, state)
	}

	_, _, _ = hub.Route(Event{Type: EventLeave, Over: OverMark, Kind: anchor.KindCompliance})
	if len(clock.timers) != 1 || clock.timers[0].delay != 500*time.Millisecond {
		t.Errorf("expected a 500ms compliance hide, got %d timers", len(clock.timers))
	}

	if _, _, err := hub.Route(Event{Type: EventEnter, Over: OverMark, Kind: anchor.KindPlagiarism, ID: "p-0"}); !errors.Is(err, ErrNoOverlay) {
		t.Errorf("expected ErrNoOverlay, got %v", err)
	}
	if _, _, err := hub.Route(Event{Type: "click", Over: OverMark, Kind: anchor.KindFact}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}
