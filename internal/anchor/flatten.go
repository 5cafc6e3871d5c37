package anchor

import "strings"

// Segment records where one leaf's text sits inside FlatIndex.Text.
type Segment struct {
	Start  int
	Length int
	Node   NodeHandle
}

// End is the offset one past the segment's last byte.
func (s Segment) End() int {
	return s.Start + s.Length
}

// FlatIndex is the concatenated text of a document plus the leaf segments
// it was built from. Offsets are byte offsets into Text.
type FlatIndex struct {
	Text     string
	Segments []Segment
}

// Flatten concatenates the document's text leaves in reading order.
// Leaves are joined without separators so that every byte of Text belongs
// to exactly one segment.
func Flatten(doc Document) FlatIndex {
	leaves := doc.TextLeaves()
	segments := make([]Segment, 0, len(leaves))

	var builder strings.Builder
	for _, leaf := range leaves {
		if leaf.Text == "" {
			continue
		}
		segments = append(segments, Segment{
			Start:  builder.Len(),
			Length: len(leaf.Text),
			Node:   leaf.Node,
		})
		builder.WriteString(leaf.Text)
	}

	return FlatIndex{Text: builder.String(), Segments: segments}
}
