// Package workflow implements the declarative workflow engine: the YAML
// config data model, the graph and step compilers, the parallel executor
// with cascading skip and self-loops, run state with commutative reducers,
// the canonical event stream, and the runner façade.
package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cascade-run/cascade/pkg/errors"
	"github.com/cascade-run/cascade/pkg/model"
)

// Workflow is the parsed workflow configuration. Constructed once per load
// and cached by name; treated as immutable afterwards.
type Workflow struct {
	Name         string                 `yaml:"name"`
	Version      string                 `yaml:"version"`
	Description  string                 `yaml:"description"`
	Experimental bool                   `yaml:"experimental"`
	Inputs       map[string]*InputSpec  `yaml:"inputs"`
	Outputs      map[string]*OutputSpec `yaml:"outputs"`
	Steps        []*Step                `yaml:"steps"`
	Evaluation   *EvaluationSpec        `yaml:"evaluation"`
	Capabilities *Capabilities          `yaml:"capabilities"`
}

// InputSpec declares one workflow input. In YAML it is either a mapping
// with the full fields or a bare scalar used as the default value.
type InputSpec struct {
	Type        string        `yaml:"type"`
	Description string        `yaml:"description"`
	Default     interface{}   `yaml:"default"`
	Required    bool          `yaml:"required"`
	Enum        []interface{} `yaml:"enum"`
}

// UnmarshalYAML accepts both the mapping form and the bare-scalar shorthand.
func (s *InputSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		type plain InputSpec
		return node.Decode((*plain)(s))
	}
	var def interface{}
	if err := node.Decode(&def); err != nil {
		return err
	}
	s.Default = def
	return nil
}

// OutputSpec declares one workflow output. In YAML it is either a mapping
// {from, optional} or a bare expression string.
type OutputSpec struct {
	From     string `yaml:"from"`
	Optional bool   `yaml:"optional"`
}

// UnmarshalYAML accepts both the mapping form and the bare-expression
// shorthand.
func (s *OutputSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		type plain OutputSpec
		return node.Decode((*plain)(s))
	}
	var from string
	if err := node.Decode(&from); err != nil {
		return err
	}
	s.From = from
	return nil
}

// Step is one step configuration inside a workflow.
type Step struct {
	Name          string            `yaml:"name"`
	Agent         string            `yaml:"agent"`
	Description   string            `yaml:"description"`
	DependsOn     []string          `yaml:"depends_on"`
	Inputs        map[string]string `yaml:"inputs"`
	Outputs       map[string]string `yaml:"outputs"`
	When          string            `yaml:"when"`
	LoopUntil     string            `yaml:"loop_until"`
	LoopMax       int               `yaml:"loop_max"`
	Tools         []string          `yaml:"tools"`
	PromptFile    string            `yaml:"prompt_file"`
	ModelOverride string            `yaml:"model_override"`

	// TimeoutSeconds is an optional per-step wall-clock deadline.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// EvaluationSpec configures the scoring pipeline for a workflow.
type EvaluationSpec struct {
	RubricID       string             `yaml:"rubric_id"`
	ScoringProfile string             `yaml:"scoring_profile"`
	Weights        map[string]float64 `yaml:"weights"`
	Criteria       []*Criterion       `yaml:"criteria"`
	Capabilities   *Capabilities      `yaml:"capabilities"`
}

// Criterion is one rubric criterion declaration.
type Criterion struct {
	Name             string  `yaml:"name"`
	Definition       string  `yaml:"definition"`
	Weight           float64 `yaml:"weight"`
	CriticalFloor    float64 `yaml:"critical_floor"`
	Scale            string  `yaml:"scale"`
	EvidenceRequired bool    `yaml:"evidence_required"`
	FormulaID        string  `yaml:"formula_id"`
}

// Capabilities names the inputs a dataset sample must supply and the
// outputs the workflow promises, for dataset compatibility checks.
type Capabilities struct {
	Inputs  []string `yaml:"inputs"`
	Outputs []string `yaml:"outputs"`
}

// agentRe matches the tier{N}_{role} agent identifier shape.
var agentRe = regexp.MustCompile(`^tier([0-9])_([a-z0-9_]+)$`)

// ParseAgent splits an agent identifier into its tier and role.
func ParseAgent(agent string) (int, string, error) {
	m := agentRe.FindStringSubmatch(agent)
	if m == nil {
		return 0, "", &errors.ValidationError{
			Field:      "agent",
			Message:    fmt.Sprintf("invalid agent identifier %q", agent),
			Suggestion: "Use the shape tier{N}_{role}, e.g. tier2_writer",
		}
	}
	tier, _ := strconv.Atoi(m[1])
	if tier > model.MaxTier {
		return 0, "", &errors.ValidationError{
			Field:   "agent",
			Message: fmt.Sprintf("agent tier %d exceeds maximum %d", tier, model.MaxTier),
		}
	}
	return tier, m[2], nil
}

// Tier returns the step's agent tier.
func (s *Step) Tier() (int, error) {
	tier, _, err := ParseAgent(s.Agent)
	return tier, err
}

// Parse decodes a workflow definition from YAML and validates it.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, &errors.ValidationError{
			Field:   "workflow",
			Message: fmt.Sprintf("invalid YAML: %v", err),
		}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// validTypeTags are the recognized input type tags.
var validTypeTags = map[string]bool{
	"": true, "string": true, "number": true, "bool": true, "object": true, "array": true,
}

// Validate checks the structural invariants of the configuration: unique
// step names, well-formed agent identifiers, loop bounds, input type tags,
// and evaluation weight rules. Dependency resolution and cycle detection
// happen at compile time.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "workflow name is required"}
	}

	seen := make(map[string]bool, len(w.Steps))
	for _, step := range w.Steps {
		if step.Name == "" {
			return &errors.ValidationError{Field: "steps", Message: "step name is required"}
		}
		if seen[step.Name] {
			return &errors.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("duplicate step name %q", step.Name),
			}
		}
		seen[step.Name] = true

		if _, _, err := ParseAgent(step.Agent); err != nil {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps.%s.agent", step.Name),
				Message: err.Error(),
			}
		}

		if step.LoopUntil != "" && step.LoopMax < 1 {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps.%s.loop_max", step.Name),
				Message:    "loop_until requires loop_max >= 1",
				Suggestion: "Set loop_max to the maximum number of iterations",
			}
		}
		if step.LoopMax != 0 && step.LoopUntil == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps.%s.loop_max", step.Name),
				Message: "loop_max without loop_until has no effect",
			}
		}
	}

	for name, spec := range w.Inputs {
		if spec == nil {
			continue
		}
		if !validTypeTags[spec.Type] {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("inputs.%s.type", name),
				Message: fmt.Sprintf("unknown type tag %q", spec.Type),
			}
		}
	}

	if w.Evaluation != nil {
		if err := w.Evaluation.validate(); err != nil {
			return err
		}
	}
	return nil
}

// validate checks rubric weight rules: all positive, sum to 1.0 within
// tolerance, and names restricted to declared criteria when criteria are
// explicit.
func (e *EvaluationSpec) validate() error {
	if len(e.Weights) == 0 {
		return nil
	}

	var sum float64
	for name, w := range e.Weights {
		if w <= 0 {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("evaluation.weights.%s", name),
				Message: "weights must be positive",
			}
		}
		sum += w
	}
	if sum < 0.99 || sum > 1.01 {
		return &errors.ValidationError{
			Field:      "evaluation.weights",
			Message:    fmt.Sprintf("weights must sum to 1.0, got %.3f", sum),
			Suggestion: "Adjust the criterion weights so they total 1.0",
		}
	}

	if len(e.Criteria) > 0 {
		declared := make(map[string]bool, len(e.Criteria))
		for _, c := range e.Criteria {
			declared[c.Name] = true
		}
		for name := range e.Weights {
			if !declared[name] {
				return &errors.ValidationError{
					Field:   "evaluation.weights",
					Message: fmt.Sprintf("weight for undeclared criterion %q", name),
				}
			}
		}
	}
	return nil
}

// ValidateInputs checks a user input map against the declared input specs
// and returns the effective inputs with defaults filled. Every failing
// field is reported in one error.
func (w *Workflow) ValidateInputs(inputs map[string]interface{}) (map[string]interface{}, error) {
	effective := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		effective[k] = v
	}

	var failures []string
	for name, spec := range w.Inputs {
		if spec == nil {
			spec = &InputSpec{}
		}
		val, present := effective[name]
		if !present {
			if spec.Default != nil {
				effective[name] = spec.Default
				continue
			}
			if spec.Required {
				failures = append(failures, fmt.Sprintf("%s: required input missing", name))
			}
			continue
		}
		if spec.Type != "" && !matchesType(val, spec.Type) {
			failures = append(failures, fmt.Sprintf("%s: expected %s", name, spec.Type))
			continue
		}
		if len(spec.Enum) > 0 && !enumContains(spec.Enum, val) {
			failures = append(failures, fmt.Sprintf("%s: value %v not in enum", name, val))
		}
	}

	if len(failures) > 0 {
		return nil, &errors.ValidationError{
			Field:   "inputs",
			Message: strings.Join(failures, "; "),
		}
	}
	return effective, nil
}

// matchesType checks a value against an input type tag.
func matchesType(val interface{}, tag string) bool {
	switch tag {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := val.(bool)
		return ok
	case "object":
		switch val.(type) {
		case map[string]interface{}, map[interface{}]interface{}:
			return true
		}
		return false
	case "array":
		_, ok := val.([]interface{})
		return ok
	}
	return true
}

// enumContains checks enum membership by rendered value, so YAML-decoded
// ints match user-provided floats of equal value.
func enumContains(enum []interface{}, val interface{}) bool {
	want := fmt.Sprintf("%v", val)
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == want {
			return true
		}
	}
	return false
}

// StepByName returns the named step config, or nil when absent.
func (w *Workflow) StepByName(name string) *Step {
	for _, s := range w.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}
