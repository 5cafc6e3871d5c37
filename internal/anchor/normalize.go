package anchor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// folded is a search-normalized copy of a string that remembers, for every
// byte it contains, which bytes of the original produced it.
type folded struct {
	text   string
	starts []int
	ends   []int
}

var glyphs = map[rune]string{
	'‘': "'", '’': "'", '‚': "'", '‛': "'", '′': "'", '`': "'", '´': "'",
	'“': `"`, '”': `"`, '„': `"`, '‟': `"`, '″': `"`, '«': `"`, '»': `"`,
	'‐': "-", '‑': "-", '‒': "-", '–': "-", '—': "-", '―': "-", '−': "-",
	'…': "...",
}

// fold composes the text to NFC, unifies quote and dash glyphs, lowercases,
// and collapses whitespace runs to one space. Each NFC segment is processed
// as a unit so offsets can be mapped back onto the original.
func fold(s string) folded {
	out := folded{
		starts: make([]int, 0, len(s)),
		ends:   make([]int, 0, len(s)),
	}
	var builder strings.Builder
	builder.Grow(len(s))

	emit := func(piece string, start, end int) {
		builder.WriteString(piece)
		for range len(piece) {
			out.starts = append(out.starts, start)
			out.ends = append(out.ends, end)
		}
	}

	lastSpace := false
	var iter norm.Iter
	iter.InitString(norm.NFC, s)
	for !iter.Done() {
		segStart := iter.Pos()
		segment := iter.Next()
		segEnd := iter.Pos()
		// Unchanged segments keep exact per-rune offsets; recomposed ones
		// map every output rune onto the whole source segment.
		exact := string(segment) == s[segStart:segEnd]

		offset := segStart
		for len(segment) > 0 {
			r, size := utf8.DecodeRune(segment)
			segment = segment[size:]

			start, end := segStart, segEnd
			if exact {
				start, end = offset, offset+size
			}
			offset += size

			if unicode.IsSpace(r) {
				if !lastSpace {
					emit(" ", start, end)
				}
				lastSpace = true
				continue
			}
			lastSpace = false
			if replacement, ok := glyphs[r]; ok {
				emit(replacement, start, end)
				continue
			}
			emit(string(unicode.ToLower(r)), start, end)
		}
	}

	out.text = builder.String()
	return out
}

// matchNormalizedSubstring does a case-insensitive literal search after
// folding both sides, returning offsets into the original haystack.
func matchNormalizedSubstring(haystack, needle string) (Match, bool) {
	target := strings.TrimSpace(fold(needle).text)
	if target == "" {
		return Match{}, false
	}
	source := fold(haystack)
	idx := strings.Index(source.text, target)
	if idx < 0 {
		return Match{}, false
	}
	start := source.starts[idx]
	end := source.ends[idx+len(target)-1]
	if end <= start {
		return Match{}, false
	}
	return Match{Start: start, End: end}, true
}
