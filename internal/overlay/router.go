package overlay

import (
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	"lexanchor/internal/anchor"
)

var ErrUnknownAnnotation = errors.New("overlay: annotation not in current results")

// State is the hover card of one overlay kind.
type State struct {
	Visible    bool            `json:"visible"`
	AnchorRect Rect            `json:"anchorRect"`
	Data       *anchor.Request `json:"data,omitempty"`
	Position   Position        `json:"position"`
	OverCard   bool            `json:"overCard"`
}

// Timer is the part of *time.Timer the router needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type RouterConfig struct {
	HideDelay time.Duration
	CardSize  Size
	Viewport  Size
	Margin    float64
	AfterFunc AfterFunc
	// OnChange observes every state transition. It runs with the router
	// locked and must not call back into it.
	OnChange func(State)
}

// Router is the hover state machine for one overlay kind:
// Hidden -> Showing on mark enter, back to Hidden after a debounced leave
// unless the pointer reached the card first.
type Router struct {
	mu        sync.Mutex
	kind      anchor.Kind
	cfg       RouterConfig
	results   []anchor.Request
	byID      map[string]int
	dismissed map[string]struct{}
	state     State
	hideTimer Timer
	// generation invalidates hide callbacks whose timer was already firing
	// when it was stopped.
	generation uint64
}

func NewRouter(kind anchor.Kind, cfg RouterConfig) *Router {
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	if cfg.HideDelay <= 0 {
		cfg.HideDelay = 300 * time.Millisecond
	}
	if cfg.CardSize == (Size{}) {
		cfg.CardSize = Size{Width: 360, Height: 220}
	}
	if cfg.Viewport == (Size{}) {
		cfg.Viewport = Size{Width: 1280, Height: 800}
	}
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultMargin
	}
	return &Router{kind: kind, cfg: cfg, byID: map[string]int{}, dismissed: map[string]struct{}{}}
}

func (r *Router) Kind() anchor.Kind {
	return r.kind
}

// SetResults swaps the result set cards are looked up in. It takes the full
// set, dismissed findings included, so positional ids keep their meaning. A
// visible card follows its finding into the new set or hides when the
// finding is gone.
func (r *Router) SetResults(results []anchor.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append([]anchor.Request(nil), results...)
	r.byID = make(map[string]int, len(results))
	for i, result := range r.results {
		r.byID[result.ID] = i
	}
	r.refreshLocked()
}

// Dismiss stops id from opening a card for the router's lifetime and hides
// its card if showing.
func (r *Router) Dismiss(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed[id] = struct{}{}
	r.refreshLocked()
}

func (r *Router) refreshLocked() {
	if !r.state.Visible || r.state.Data == nil {
		return
	}
	if data, ok := r.lookupLocked(r.state.Data.ID); ok {
		r.state.Data = &data
		r.changedLocked()
		return
	}
	r.hideLocked()
}

func (r *Router) SetViewport(viewport Size) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if viewport.Width > 0 && viewport.Height > 0 {
		r.cfg.Viewport = viewport
	}
}

// EnterMark shows the card for id anchored at rect, replacing any card
// already showing without hiding it first.
func (r *Router) EnterMark(id string, rect Rect) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.lookupLocked(id)
	if !ok {
		return r.state, ErrUnknownAnnotation
	}
	r.cancelHideLocked()
	r.state = State{
		Visible:    true,
		AnchorRect: rect,
		Data:       &data,
		Position:   Place(rect, r.cfg.CardSize.Width, r.cfg.CardSize.Height, r.cfg.Viewport, r.cfg.Margin),
	}
	r.changedLocked()
	return r.state, nil
}

func (r *Router) LeaveMark() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Visible && !r.state.OverCard {
		r.armHideLocked()
	}
	return r.state
}

func (r *Router) EnterCard() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Visible {
		return r.state
	}
	r.cancelHideLocked()
	r.state.OverCard = true
	r.changedLocked()
	return r.state
}

func (r *Router) LeaveCard() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Visible {
		return r.state
	}
	r.state.OverCard = false
	r.armHideLocked()
	r.changedLocked()
	return r.state
}

// Hide closes the card immediately.
func (r *Router) Hide() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hideLocked()
	return r.state
}

func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending reports whether a hide is scheduled.
func (r *Router) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hideTimer != nil
}

func (r *Router) armHideLocked() {
	r.cancelHideLocked()
	generation := r.generation
	r.hideTimer = r.cfg.AfterFunc(r.cfg.HideDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if generation != r.generation || r.state.OverCard {
			return
		}
		r.hideTimer = nil
		r.hideLocked()
	})
}

func (r *Router) cancelHideLocked() {
	r.generation++
	if r.hideTimer != nil {
		r.hideTimer.Stop()
		r.hideTimer = nil
	}
}

func (r *Router) hideLocked() {
	r.cancelHideLocked()
	if !r.state.Visible {
		return
	}
	r.state = State{}
	r.changedLocked()
}

func (r *Router) changedLocked() {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange(r.state)
	}
}

var trailingIndex = regexp.MustCompile(`(\d+)$`)

// lookupLocked finds a result by id, falling back to the positional index
// at the end of ids like "fact-3". Dismissed findings never resolve.
func (r *Router) lookupLocked(id string) (anchor.Request, bool) {
	if _, ok := r.dismissed[id]; ok {
		return anchor.Request{}, false
	}
	if i, ok := r.byID[id]; ok {
		return r.results[i], true
	}
	groups := trailingIndex.FindStringSubmatch(id)
	if groups == nil {
		return anchor.Request{}, false
	}
	i, err := strconv.Atoi(groups[1])
	if err != nil || i < 0 || i >= len(r.results) {
		return anchor.Request{}, false
	}
	result := r.results[i]
	if _, ok := r.dismissed[result.ID]; ok {
		return anchor.Request{}, false
	}
	return result, true
}
