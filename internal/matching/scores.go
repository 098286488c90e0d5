package matching

import "github.com/mockswitch/mockswitch/pkg/scenario"

// Specificity score constants. Scoring is a pure function of a mock's
// declared criteria; higher scores rank ahead of lower ones.
const (
	// ScoreCriteriaBase is the base score for a mock declaring match
	// criteria; one point per compared field is added on top.
	ScoreCriteriaBase = 100

	// ScoreSequenceFallback is the score for a bare sequence or
	// stateResponse mock with no match criteria.
	ScoreSequenceFallback = 1

	// ScorePlainFallback is the score for a bare response mock with no
	// match criteria.
	ScorePlainFallback = 0
)

// Specificity computes the score for a matching mock. fields is the number
// of compared criteria fields reported by the match verdict.
func Specificity(m *scenario.Mock, fields int) int {
	if !m.IsFallback() {
		return ScoreCriteriaBase + fields
	}
	if m.Sequence != nil || m.StateResponse != nil {
		return ScoreSequenceFallback
	}
	return ScorePlainFallback
}
