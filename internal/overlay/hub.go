package overlay

import (
	"errors"
	"fmt"
	"time"

	"lexanchor/internal/anchor"
)

var (
	ErrNoOverlay    = errors.New("overlay: kind has no hover card")
	ErrInvalidEvent = errors.New("overlay: invalid pointer event")
)

// Pointer event types and surfaces.
const (
	EventEnter = "enter"
	EventLeave = "leave"

	OverMark = "mark"
	OverCard = "card"
)

// Event is a pointer transition reported by the client. Mark events name
// their annotation either directly or through the markup of the element
// under the pointer.
type Event struct {
	Type     string      `json:"type"`
	Over     string      `json:"over"`
	Kind     anchor.Kind `json:"kind,omitempty"`
	ID       string      `json:"id,omitempty"`
	Markup   string      `json:"markup,omitempty"`
	Rect     Rect        `json:"rect"`
	Viewport *Size       `json:"viewport,omitempty"`
}

// HubConfig carries the per-kind hide delays shared by a hub's routers.
type HubConfig struct {
	HideDelays map[anchor.Kind]time.Duration
	CardSize   Size
	Viewport   Size
	AfterFunc  AfterFunc
}

// OverlayKinds are the analysis kinds that show hover cards.
var OverlayKinds = []anchor.Kind{anchor.KindFact, anchor.KindCompliance, anchor.KindArgument}

// DefaultHideDelays are the hide debounces per overlay kind.
func DefaultHideDelays() map[anchor.Kind]time.Duration {
	return map[anchor.Kind]time.Duration{
		anchor.KindFact:       300 * time.Millisecond,
		anchor.KindCompliance: 500 * time.Millisecond,
		anchor.KindArgument:   500 * time.Millisecond,
	}
}

// Hub routes pointer events to one independent router per overlay kind.
type Hub struct {
	routers map[anchor.Kind]*Router
}

func NewHub(cfg HubConfig) *Hub {
	delays := DefaultHideDelays()
	for kind, delay := range cfg.HideDelays {
		if delay > 0 {
			delays[kind] = delay
		}
	}
	hub := &Hub{routers: make(map[anchor.Kind]*Router, len(OverlayKinds))}
	for _, kind := range OverlayKinds {
		hub.routers[kind] = NewRouter(kind, RouterConfig{
			HideDelay: delays[kind],
			CardSize:  cfg.CardSize,
			Viewport:  cfg.Viewport,
			AfterFunc: cfg.AfterFunc,
		})
	}
	return hub
}

func (h *Hub) Router(kind anchor.Kind) (*Router, error) {
	router, ok := h.routers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoOverlay, kind)
	}
	return router, nil
}

// SetResults hands a kind's current result set to its router. Kinds
// without hover cards are ignored.
func (h *Hub) SetResults(kind anchor.Kind, results []anchor.Request) {
	if router, ok := h.routers[kind]; ok {
		router.SetResults(results)
	}
}

// Dismiss retires an annotation id in every router.
func (h *Hub) Dismiss(id string) {
	for _, router := range h.routers {
		router.Dismiss(id)
	}
}

// Route applies one pointer event and returns the resulting card state of
// the kind it touched.
func (h *Hub) Route(event Event) (anchor.Kind, State, error) {
	id, kind := event.ID, event.Kind
	if event.Markup != "" {
		target, err := ResolveMarkup(event.Markup)
		if err != nil {
			return kind, State{}, err
		}
		id = target.ID
		if target.Kind != "" {
			kind = target.Kind
		}
	}

	router, err := h.Router(kind)
	if err != nil {
		return kind, State{}, err
	}
	if event.Viewport != nil {
		router.SetViewport(*event.Viewport)
	}

	switch {
	case event.Type == EventEnter && event.Over == OverMark:
		if id == "" {
			return kind, router.State(), fmt.Errorf("%w: mark enter without annotation id", ErrInvalidEvent)
		}
		state, err := router.EnterMark(id, event.Rect)
		return kind, state, err
	case event.Type == EventLeave && event.Over == OverMark:
		return kind, router.LeaveMark(), nil
	case event.Type == EventEnter && event.Over == OverCard:
		return kind, router.EnterCard(), nil
	case event.Type == EventLeave && event.Over == OverCard:
		return kind, router.LeaveCard(), nil
	default:
		return kind, router.State(), fmt.Errorf("%w: %s %s", ErrInvalidEvent, event.Type, event.Over)
	}
}

// HideAll closes every card immediately.
func (h *Hub) HideAll() {
	for _, router := range h.routers {
		router.Hide()
	}
}
