package eval

import (
	"fmt"
	"sort"

	"github.com/cascade-run/cascade/pkg/errors"
)

// Grade is the letter grade derived from the composite score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Hard gate names as they appear in the scorecard.
const (
	GateRequiredOutputs = "required_outputs"
	GateRunStatus       = "run_status"
	GateCriticalSteps   = "critical_steps"
	GateScorecardSchema = "scorecard_schema"
	GateDatasetInputs   = "dataset_inputs"
)

// GateResult records one hard-gate check.
type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// CriterionScore is the per-criterion breakdown. Objective and Judge are nil
// when the respective layer did not score the criterion; Score is the blend
// of whichever layers did.
type CriterionScore struct {
	Name          string   `json:"name"`
	Weight        float64  `json:"weight"`
	Objective     *float64 `json:"objective,omitempty"`
	Judge         *float64 `json:"judge,omitempty"`
	Score         float64  `json:"score"`
	Floor         float64  `json:"floor,omitempty"`
	FloorViolated bool     `json:"floor_violated,omitempty"`
	Evidence      string   `json:"evidence,omitempty"`
}

// Scorecard is the structured result of evaluating a run.
type Scorecard struct {
	Workflow  string  `json:"workflow"`
	RunID     string  `json:"run_id"`
	Composite float64 `json:"composite"`
	Grade     Grade   `json:"grade"`

	Objective float64         `json:"objective"`
	Judge     *float64        `json:"judge,omitempty"`
	Advisory  *AdvisoryResult `json:"advisory,omitempty"`

	Criteria []CriterionScore `json:"criteria"`
	Gates    []GateResult     `json:"gates"`

	FloorViolations      []string `json:"floor_violations,omitempty"`
	PairwiseInconsistent []string `json:"pairwise_inconsistent,omitempty"`
}

// GatesPassed reports whether every hard gate passed.
func (s *Scorecard) GatesPassed() bool {
	for _, g := range s.Gates {
		if !g.Passed {
			return false
		}
	}
	return true
}

// FailedGates names the gates that did not pass, in scorecard order.
func (s *Scorecard) FailedGates() []string {
	var names []string
	for _, g := range s.Gates {
		if !g.Passed {
			names = append(names, g.Name)
		}
	}
	return names
}

// Validate checks the scorecard against its fixed schema: identifiers set,
// all scores in [0, 1], a known grade, and positive criterion weights. The
// schema gate runs this on the freshly built card.
func (s *Scorecard) Validate() error {
	if s.Workflow == "" || s.RunID == "" {
		return &errors.ValidationError{Field: "scorecard", Message: "missing workflow or run id"}
	}
	switch s.Grade {
	case GradeA, GradeB, GradeC, GradeD, GradeF:
	default:
		return &errors.ValidationError{Field: "scorecard.grade", Message: fmt.Sprintf("unknown grade %q", s.Grade)}
	}
	if s.Composite < 0 || s.Composite > 1 {
		return &errors.ValidationError{Field: "scorecard.composite", Message: fmt.Sprintf("composite %v outside [0, 1]", s.Composite)}
	}
	for _, c := range s.Criteria {
		if c.Score < 0 || c.Score > 1 {
			return &errors.ValidationError{
				Field:   "scorecard.criteria",
				Message: fmt.Sprintf("criterion %q score %v outside [0, 1]", c.Name, c.Score),
			}
		}
		if c.Weight <= 0 {
			return &errors.ValidationError{
				Field:   "scorecard.criteria",
				Message: fmt.Sprintf("criterion %q has non-positive weight", c.Name),
			}
		}
	}
	return nil
}

// gradeFor maps a composite score onto the letter scale.
func gradeFor(score float64) Grade {
	switch {
	case score >= 0.90:
		return GradeA
	case score >= 0.80:
		return GradeB
	case score >= 0.70:
		return GradeC
	case score >= 0.60:
		return GradeD
	default:
		return GradeF
	}
}

// capAtD lowers grades better than D to D, leaving D and F alone.
func capAtD(g Grade) Grade {
	switch g {
	case GradeA, GradeB, GradeC:
		return GradeD
	}
	return g
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
