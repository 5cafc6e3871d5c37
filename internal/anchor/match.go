package anchor

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Strategy names the cascade step that produced a match.
type Strategy string

const (
	StrategyExact         Strategy = "exact"
	StrategyTrimmed       Strategy = "boundary-trimmed"
	StrategyContentWords  Strategy = "content-words"
	StrategyEndTrim       Strategy = "end-trim"
	StrategyStartTrim     Strategy = "start-trim"
	StrategyHeadWords     Strategy = "head-words"
	StrategySubstring     Strategy = "substring"
	StrategyFirstSentence Strategy = "first-sentence"
)

// Match is a half-open byte range into the searched text.
type Match struct {
	Start    int
	End      int
	Strategy Strategy
}

// MatchOptions holds the cascade thresholds.
type MatchOptions struct {
	// TrimRatio caps how many tokens the end/start trims may drop.
	TrimRatio float64
	// SubstringMaxChars is the needle length below which the raw
	// substring fallback runs.
	SubstringMaxChars int
	// SentenceMinNeedleChars is the needle length above which the
	// first-sentence fallback runs.
	SentenceMinNeedleChars int
	// SentenceMinChars is the shortest first sentence worth retrying.
	SentenceMinChars int
	// HeadWordsMin is the content-word count above which the head-words
	// strategy runs, using the first HeadWords content words.
	HeadWordsMin int
	HeadWords    int
}

// DefaultMatchOptions returns the tuned defaults.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		TrimRatio:              0.4,
		SubstringMaxChars:      80,
		SentenceMinNeedleChars: 100,
		SentenceMinChars:       20,
		HeadWordsMin:           4,
		HeadWords:              6,
	}
}

// Matcher locates analysis text inside flattened document text.
type Matcher struct {
	opts MatchOptions
}

// NewMatcher creates a matcher. Zero-valued options fall back to defaults.
func NewMatcher(opts MatchOptions) *Matcher {
	defaults := DefaultMatchOptions()
	if opts.TrimRatio <= 0 || opts.TrimRatio >= 1 {
		opts.TrimRatio = defaults.TrimRatio
	}
	if opts.SubstringMaxChars <= 0 {
		opts.SubstringMaxChars = defaults.SubstringMaxChars
	}
	if opts.SentenceMinNeedleChars <= 0 {
		opts.SentenceMinNeedleChars = defaults.SentenceMinNeedleChars
	}
	if opts.SentenceMinChars <= 0 {
		opts.SentenceMinChars = defaults.SentenceMinChars
	}
	if opts.HeadWordsMin <= 0 {
		opts.HeadWordsMin = defaults.HeadWordsMin
	}
	if opts.HeadWords <= 0 {
		opts.HeadWords = defaults.HeadWords
	}
	return &Matcher{opts: opts}
}

// Options returns the thresholds in effect.
func (m *Matcher) Options() MatchOptions {
	return m.opts
}

// Match returns the first span of haystack that needle resolves to.
// Earlier strategies win over later ones; within a strategy the leftmost
// occurrence wins.
func (m *Matcher) Match(haystack, needle string) (Match, bool) {
	return m.match(haystack, needle, true)
}

func (m *Matcher) match(haystack, needle string, allowSentence bool) (Match, bool) {
	needle = strings.TrimSpace(needle)
	if needle == "" || haystack == "" {
		return Match{}, false
	}

	tokens := strings.Fields(needle)
	if span, ok := matchTokens(haystack, tokens); ok {
		return span.as(StrategyExact), true
	}

	if len(tokens) > 1 {
		trimmed := trimNonWordTokens(tokens)
		if len(trimmed) > 0 && len(trimmed) < len(tokens) {
			if span, ok := matchTokens(haystack, trimmed); ok {
				return span.as(StrategyTrimmed), true
			}
			tokens = trimmed
		}
	}

	content := contentWords(tokens)
	if len(content) >= 2 && len(content) < len(tokens) {
		if span, ok := matchTokens(haystack, content); ok {
			return span.as(StrategyContentWords), true
		}
	}

	if n := len(tokens); n > 3 {
		limit := int(math.Ceil(m.opts.TrimRatio * float64(n)))
		for drop := 1; drop <= limit && drop < n; drop++ {
			if span, ok := matchTokens(haystack, tokens[:n-drop]); ok {
				return span.as(StrategyEndTrim), true
			}
		}
		for drop := 1; drop <= limit && drop < n; drop++ {
			if span, ok := matchTokens(haystack, tokens[drop:]); ok {
				return span.as(StrategyStartTrim), true
			}
		}
	}

	if len(content) > m.opts.HeadWordsMin {
		head := content
		if len(head) > m.opts.HeadWords {
			head = head[:m.opts.HeadWords]
		}
		if span, ok := matchTokens(haystack, head); ok {
			return span.as(StrategyHeadWords), true
		}
	}

	needleChars := utf8.RuneCountInString(needle)
	if needleChars < m.opts.SubstringMaxChars {
		if span, ok := matchNormalizedSubstring(haystack, needle); ok {
			return span.as(StrategySubstring), true
		}
	}

	if allowSentence && needleChars > m.opts.SentenceMinNeedleChars {
		first := firstSentence(needle)
		if len(first) < len(needle) && utf8.RuneCountInString(first) > m.opts.SentenceMinChars {
			if span, ok := m.match(haystack, first, false); ok {
				return span.as(StrategyFirstSentence), true
			}
		}
	}

	return Match{}, false
}

func (s Match) as(strategy Strategy) Match {
	s.Strategy = strategy
	return s
}

// tokenSeparator tolerates punctuation and whitespace drift between words.
const tokenSeparator = `[\s\W]*`

func matchTokens(haystack string, tokens []string) (Match, bool) {
	if len(tokens) == 0 {
		return Match{}, false
	}
	quoted := make([]string, len(tokens))
	for i, token := range tokens {
		quoted[i] = regexp.QuoteMeta(token)
	}
	pattern, err := regexp.Compile(`(?i)` + strings.Join(quoted, tokenSeparator))
	if err != nil {
		return Match{}, false
	}
	loc := pattern.FindStringIndex(haystack)
	if loc == nil || loc[1] <= loc[0] {
		return Match{}, false
	}
	return Match{Start: loc[0], End: loc[1]}, true
}

func hasWordChar(token string) bool {
	for _, r := range token {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func trimNonWordTokens(tokens []string) []string {
	start, end := 0, len(tokens)
	for start < end && !hasWordChar(tokens[start]) {
		start++
	}
	for end > start && !hasWordChar(tokens[end-1]) {
		end--
	}
	return tokens[start:end]
}

// stopWords is the closed set dropped by the content-word strategy:
// articles, forms of "to be", and common prepositions and conjunctions.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"be": {}, "am": {}, "is": {}, "are": {}, "was": {}, "were": {}, "been": {}, "being": {},
	"of": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "with": {}, "by": {},
	"from": {}, "as": {}, "into": {}, "onto": {}, "upon": {}, "about": {}, "over": {},
	"and": {}, "or": {}, "but": {}, "nor": {}, "so": {}, "yet": {}, "that": {},
}

func contentWords(tokens []string) []string {
	words := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if !hasWordChar(token) {
			continue
		}
		bare := strings.ToLower(strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if _, stop := stopWords[bare]; stop {
			continue
		}
		words = append(words, token)
	}
	return words
}

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s|$)`)

func firstSentence(text string) string {
	loc := sentenceEnd.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:loc[0]])
}
