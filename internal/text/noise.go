package text

import (
	"regexp"
	"strings"
)

var (
	consentRe = regexp.MustCompile(`(?i)\b(accept (all )?cookies|cookie (policy|settings)|enable javascript|subscribe to (our|the) newsletter|all rights reserved|sign in to continue)\b`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// MinPageWords is the smallest extracted page worth indexing.
const MinPageWords = 50

// CollapseWhitespace folds every whitespace run into a single space.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// IsBoilerplate reports whether extracted page text is too thin to be a
// research source: empty, very short, or mostly consent and subscription banners.
// These are conservative heuristics; a borderline page is let through.
func IsBoilerplate(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return true
	}

	words := strings.Fields(trimmed)
	if len(words) < MinPageWords {
		return true
	}

	// Banner phrases dominating a short page
	hits := len(consentRe.FindAllStringIndex(trimmed, -1))
	if hits > 0 && len(words) < 200 && hits*25 > len(words)/2 {
		return true
	}
	return false
}
