// Package overlay drives the hover cards shown over rendered annotations:
// resolving a pointer target to its finding, debouncing show and hide, and
// positioning the card inside the viewport.
package overlay

// DefaultMargin keeps cards off the viewport edge.
const DefaultMargin = 10

// cardGap separates the card from the annotated text.
const cardGap = 8

type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Placement string

const (
	PlacementBottom Placement = "bottom"
	PlacementTop    Placement = "top"
)

// Position is where a card goes. For PlacementTop, Y is the card's bottom
// edge and the card is rendered bottom-anchored.
type Position struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Placement Placement `json:"placement"`
}

// Place positions a card of the given size next to target. Cards open
// below the target unless there is no room below and room above; when
// neither side fits the card still opens below.
func Place(target Rect, cardWidth, cardHeight float64, viewport Size, margin float64) Position {
	if margin < 0 {
		margin = DefaultMargin
	}

	x := target.Left
	if limit := viewport.Width - cardWidth - margin; x > limit {
		x = limit
	}
	if x < margin {
		x = margin
	}

	spaceBelow := viewport.Height - target.Bottom - margin
	roomAbove := target.Top > cardHeight+margin
	if spaceBelow < cardHeight && roomAbove {
		return Position{X: x, Y: target.Top - cardGap, Placement: PlacementTop}
	}
	return Position{X: x, Y: target.Bottom + cardGap, Placement: PlacementBottom}
}
