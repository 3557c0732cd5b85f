package analyst

import "scholar/internal/domain"

const (
	CoverageNone          = "none"
	CoverageLimited       = "limited"
	CoverageModerate      = "moderate"
	CoverageComprehensive = "comprehensive"
)

// Summary describes the sources a task ended up with.
type Summary struct {
	Total        int                       `json:"total"`
	Distribution map[domain.SourceKind]int `json:"distribution"`
	Assessed     int                       `json:"assessed"`
	Coverage     string                    `json:"coverage"`
}

func Summarize(candidates []domain.RankedCandidate) Summary {
	s := Summary{
		Total:        len(candidates),
		Distribution: map[domain.SourceKind]int{},
	}
	for _, c := range candidates {
		s.Distribution[c.Kind]++
		if c.Assessment != nil {
			s.Assessed++
		}
	}

	switch {
	case s.Total == 0:
		s.Coverage = CoverageNone
	case s.Total >= 10:
		s.Coverage = CoverageComprehensive
	case s.Total >= 5:
		s.Coverage = CoverageModerate
	default:
		s.Coverage = CoverageLimited
	}
	return s
}
