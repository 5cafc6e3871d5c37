package overlay

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"lexanchor/internal/anchor"
)

// Attributes rendered on every annotation span.
const (
	AttrAnnotationID   = "data-annotation-id"
	AttrAnnotationKind = "data-annotation-kind"
)

var ErrNoAnnotation = errors.New("overlay: target is not inside an annotation")

// Target identifies the annotation under the pointer.
type Target struct {
	ID   string      `json:"id"`
	Kind anchor.Kind `json:"kind"`
}

// ResolveTarget reads the annotation attributes from node or its nearest
// ancestor carrying them.
func ResolveTarget(node *html.Node) (Target, error) {
	for n := node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		id, hasID := attr(n, AttrAnnotationID)
		if !hasID || id == "" {
			continue
		}
		raw, _ := attr(n, AttrAnnotationKind)
		kind, _ := anchor.ParseKind(raw)
		return Target{ID: id, Kind: kind}, nil
	}
	return Target{}, ErrNoAnnotation
}

// ParseTarget parses the markup reported for a pointer event and returns
// the event target: the innermost element along the first-child chain, so
// `<span data-annotation-id="x"><em>word</em></span>` targets the em.
func ParseTarget(markup string) (*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, err
	}

	// Reattach the fragment so Parent links lead back through the chain.
	for _, n := range nodes {
		context.AppendChild(n)
	}

	var target *html.Node
	for n := firstElement(context); n != nil; n = firstElement(n) {
		target = n
	}
	if target == nil {
		return nil, ErrNoAnnotation
	}
	return target, nil
}

// ResolveMarkup combines ParseTarget and ResolveTarget.
func ResolveMarkup(markup string) (Target, error) {
	node, err := ParseTarget(markup)
	if err != nil {
		return Target{}, err
	}
	return ResolveTarget(node)
}

func firstElement(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
