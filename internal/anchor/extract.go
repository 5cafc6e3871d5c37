package anchor

import (
	"regexp"
	"strings"
)

const quoteChars = `"'“”‘’«»„‟‚‛` + "`"

// CleanSearchText trims whitespace and the quote characters analysis
// services wrap around quoted passages.
func CleanSearchText(text string) string {
	text = strings.TrimSpace(text)
	for {
		trimmed := strings.TrimSpace(strings.Trim(text, quoteChars))
		if trimmed == text {
			return text
		}
		text = trimmed
	}
}

var quotedPassage = regexp.MustCompile(`["“]([^"“”]+)["”]`)

// SearchTargets returns the passages of a finding worth locating: each
// quoted passage of two or more words when the text quotes the document,
// otherwise the cleaned text itself.
func SearchTargets(text string) []string {
	cleaned := CleanSearchText(text)
	if cleaned == "" {
		return nil
	}

	var targets []string
	for _, groups := range quotedPassage.FindAllStringSubmatch(text, -1) {
		passage := CleanSearchText(groups[1])
		if len(strings.Fields(passage)) < 2 || passage == cleaned {
			continue
		}
		targets = append(targets, passage)
	}
	if len(targets) == 0 {
		return []string{cleaned}
	}
	return targets
}
