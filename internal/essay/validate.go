package essay

import (
	"strings"

	"scholar/internal/domain"
)

// MinTopicCoverage is the share of requirement words the essay has to mention.
const MinTopicCoverage = 0.5

// LengthFromRequirements picks an essay length from free-form requirements.
func LengthFromRequirements(requirements string) string {
	r := strings.ToLower(requirements)
	switch {
	case strings.Contains(r, "short"):
		return domain.EssayShort
	case strings.Contains(r, "long"):
		return domain.EssayLong
	}
	return domain.EssayMedium
}

// LengthRange returns the accepted word counts for length. hi is 0 when unbounded.
func LengthRange(length string) (lo, hi int) {
	switch length {
	case domain.EssayShort:
		return 0, 1000
	case domain.EssayLong:
		return 2000, 0
	}
	return 1000, 2000
}

// Validate checks the essay against the requested length and how many of the
// requirement words (longer than three letters) its content mentions.
func Validate(e *domain.Essay, requirements, length string) domain.Validation {
	v := domain.Validation{LengthOK: true, Issues: []string{}}

	lo, hi := LengthRange(length)
	switch {
	case e.WordCount < lo:
		v.LengthOK = false
		v.Issues = append(v.Issues, "Essay is shorter than requested for "+length+" format")
	case hi > 0 && e.WordCount > hi:
		v.LengthOK = false
		v.Issues = append(v.Issues, "Essay is longer than requested for "+length+" format")
	}

	var words []string
	for _, w := range strings.Fields(requirements) {
		if len([]rune(w)) > 3 {
			words = append(words, strings.ToLower(w))
		}
	}
	content := strings.ToLower(e.Content)
	covered := 0
	for _, w := range words {
		if strings.Contains(content, w) {
			covered++
		}
	}
	coversTopic := true
	if len(words) > 0 {
		v.TopicCoverage = float64(covered) / float64(len(words))
		if v.TopicCoverage < MinTopicCoverage {
			coversTopic = false
			v.Issues = append(v.Issues, "Essay may not fully cover the research topic")
		}
	} else {
		v.TopicCoverage = 1
	}

	if len(e.Sources) == 0 {
		v.Issues = append(v.Issues, "Essay cites no sources")
	}

	v.Valid = v.LengthOK && coversTopic && len(e.Sources) > 0
	switch {
	case v.Valid:
		v.Recommendation = "Essay meets the requested requirements."
	case !v.LengthOK:
		v.Recommendation = "Adjust the essay length and regenerate."
	default:
		v.Recommendation = "Review the essay against the requirements before use."
	}
	return v
}
