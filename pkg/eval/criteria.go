package eval

import (
	"fmt"
	"math"

	"github.com/cascade-run/cascade/pkg/errors"
	"github.com/cascade-run/cascade/pkg/workflow"
)

// Well-known criterion names. Floors and objective scorers key off these.
const (
	CriterionCorrectness       = "correctness"
	CriterionCorrectnessRubric = "correctness_rubric"
	CriterionCodeQuality       = "code_quality"
	CriterionEfficiency        = "efficiency"
	CriterionDocumentation     = "documentation"
	CriterionSafety            = "safety"
	CriterionSafetyValidation  = "safety_validation"
	CriterionValidation        = "validation"
)

// Built-in grade caps. A correctness-family criterion under floorCorrectness,
// or a safety-family criterion under floorSafety, caps the grade at D unless
// the criterion declares its own critical_floor.
const (
	floorCorrectness = 0.70
	floorSafety      = 0.80
)

// Profile is a named default rubric applied when a workflow declares a
// scoring profile instead of explicit criteria.
type Profile struct {
	ID       string
	Criteria []*workflow.Criterion
}

// defaultProfiles are the built-in scoring profiles. Weights in each profile
// sum to 1.0.
var defaultProfiles = map[string]*Profile{
	"default": {
		ID: "default",
		Criteria: []*workflow.Criterion{
			{Name: CriterionCorrectness, Definition: "Outputs match the expected result", Weight: 0.50, Scale: "percent"},
			{Name: CriterionCodeQuality, Definition: "Steps completed without failures or retries", Weight: 0.25, Scale: "percent"},
			{Name: CriterionEfficiency, Definition: "Run finished within the latency objective", Weight: 0.15, Scale: "percent"},
			{Name: CriterionDocumentation, Definition: "Outputs are substantive and well structured", Weight: 0.10, Scale: "percent"},
		},
	},
	"strict": {
		ID: "strict",
		Criteria: []*workflow.Criterion{
			{Name: CriterionCorrectness, Definition: "Outputs match the expected result", Weight: 0.60, Scale: "percent", CriticalFloor: 0.80},
			{Name: CriterionSafetyValidation, Definition: "Validation steps passed", Weight: 0.25, Scale: "percent", CriticalFloor: 0.90},
			{Name: CriterionEfficiency, Definition: "Run finished within the latency objective", Weight: 0.15, Scale: "percent"},
		},
	},
}

// RegisterProfile adds a custom scoring profile, replacing any existing
// profile with the same id.
func RegisterProfile(p *Profile) {
	defaultProfiles[p.ID] = p
}

// ResolveCriteria returns the effective rubric for a workflow: its declared
// criteria when present, otherwise the named profile's defaults (the
// "default" profile when unnamed). Weight overrides from the evaluation
// spec's weights map are applied afterwards, then the rubric is validated.
func ResolveCriteria(spec *workflow.EvaluationSpec) ([]*workflow.Criterion, error) {
	var criteria []*workflow.Criterion
	switch {
	case spec != nil && len(spec.Criteria) > 0:
		criteria = spec.Criteria
	default:
		name := "default"
		if spec != nil && spec.ScoringProfile != "" {
			name = spec.ScoringProfile
		}
		profile, ok := defaultProfiles[name]
		if !ok {
			return nil, &errors.NotFoundError{Resource: "scoring profile", ID: name}
		}
		// Copy so weight overrides never mutate the shared profile.
		criteria = make([]*workflow.Criterion, len(profile.Criteria))
		for i, c := range profile.Criteria {
			dup := *c
			criteria[i] = &dup
		}
	}

	if spec != nil && len(spec.Weights) > 0 {
		byName := make(map[string]*workflow.Criterion, len(criteria))
		for _, c := range criteria {
			byName[c.Name] = c
		}
		for name, w := range spec.Weights {
			c, ok := byName[name]
			if !ok {
				return nil, &errors.ValidationError{
					Field:      "evaluation.weights",
					Message:    fmt.Sprintf("weight for undeclared criterion %q", name),
					Suggestion: "declare the criterion or remove the weight",
				}
			}
			c.Weight = w
		}
	}

	if err := validateRubric(criteria); err != nil {
		return nil, err
	}
	return criteria, nil
}

// validateRubric enforces positive weights summing to 1.0 within 0.01.
func validateRubric(criteria []*workflow.Criterion) error {
	if len(criteria) == 0 {
		return &errors.ValidationError{
			Field:   "evaluation.criteria",
			Message: "rubric has no criteria",
		}
	}
	var sum float64
	for _, c := range criteria {
		if c.Weight <= 0 {
			return &errors.ValidationError{
				Field:   "evaluation.criteria",
				Message: fmt.Sprintf("criterion %q has non-positive weight %v", c.Name, c.Weight),
			}
		}
		sum += c.Weight
	}
	if math.Abs(sum-1.0) > 0.01 {
		return &errors.ValidationError{
			Field:      "evaluation.criteria",
			Message:    fmt.Sprintf("criterion weights sum to %.3f, want 1.0", sum),
			Suggestion: "adjust weights so they sum to 1.0",
		}
	}
	return nil
}

// floorFor returns the effective critical floor for a criterion, or 0 when
// none applies. An explicit critical_floor always wins over the built-ins.
func floorFor(c *workflow.Criterion) float64 {
	if c.CriticalFloor > 0 {
		return c.CriticalFloor
	}
	switch c.Name {
	case CriterionCorrectness, CriterionCorrectnessRubric:
		return floorCorrectness
	case CriterionSafetyValidation, CriterionValidation, CriterionSafety, CriterionCodeQuality:
		return floorSafety
	}
	return 0
}
