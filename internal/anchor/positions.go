package anchor

import (
	"errors"
	"fmt"
	"sort"
)

// Fragment is the part of a match that falls inside one leaf. Offsets are
// byte offsets into that leaf's text.
type Fragment struct {
	Node      NodeHandle
	LocalFrom int
	LocalTo   int
}

// PosRange is a half-open range of engine positions.
type PosRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// MapRange splits a match over the segments it overlaps.
func MapRange(index FlatIndex, match Match) []Fragment {
	if match.End <= match.Start {
		return nil
	}
	segments := index.Segments
	first := sort.Search(len(segments), func(i int) bool {
		return segments[i].End() > match.Start
	})

	fragments := make([]Fragment, 0, 2)
	for i := first; i < len(segments) && segments[i].Start < match.End; i++ {
		segment := segments[i]
		from := max(match.Start, segment.Start) - segment.Start
		to := min(match.End, segment.End()) - segment.Start
		if to <= from {
			continue
		}
		fragments = append(fragments, Fragment{Node: segment.Node, LocalFrom: from, LocalTo: to})
	}
	return fragments
}

// ResolveFragments converts fragments into engine positions. A fragment the
// engine cannot resolve is dropped and counted in the returned error, which
// wraps ErrStaleNode; the remaining fragments are still returned.
func ResolveFragments(doc Document, fragments []Fragment) ([]PosRange, error) {
	ranges := make([]PosRange, 0, len(fragments))
	stale := 0
	for _, fragment := range fragments {
		pos, err := resolveFragment(doc, fragment)
		if err != nil {
			stale++
			continue
		}
		ranges = append(ranges, pos)
	}
	if stale > 0 {
		return ranges, fmt.Errorf("%w: %d of %d fragments", ErrStaleNode, stale, len(fragments))
	}
	return ranges, nil
}

func resolveFragment(doc Document, fragment Fragment) (pos PosRange, err error) {
	// The engine lookup is trusted but may panic on a node detached
	// mid-computation; that only costs this fragment.
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("resolve fragment: %v", recovered)
		}
	}()

	from, err := doc.ResolvePos(fragment.Node, fragment.LocalFrom)
	if err != nil {
		return PosRange{}, err
	}
	to, err := doc.ResolvePos(fragment.Node, fragment.LocalTo)
	if err != nil {
		return PosRange{}, err
	}
	if from < 0 || to <= from {
		return PosRange{}, errors.New("resolve fragment: empty range")
	}
	return PosRange{From: from, To: to}, nil
}
