package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cascade-run/cascade/pkg/workflow"
)

// Default component weights for the composite score, renormalized over
// whichever layers are active.
const (
	DefaultObjectiveWeight = 0.60
	DefaultJudgeWeight     = 0.25
	DefaultAdvisoryWeight  = 0.15
)

// Sample is one dataset entry a run is evaluated against.
type Sample struct {
	ID       string                 `json:"id,omitempty"`
	Inputs   map[string]interface{} `json:"inputs,omitempty"`
	Expected string                 `json:"expected,omitempty"`
}

// ComponentWeights sets the blend across scoring layers.
type ComponentWeights struct {
	Objective float64
	Judge     float64
	Advisory  float64
}

// Options configures an evaluation.
type Options struct {
	// Weights blends the layers. Zero values fall back to the defaults.
	Weights ComponentWeights

	// Enforce turns hard-gate failures into grade F. Disabled, gates are
	// still reported but only advisory.
	Enforce bool

	// Judge enables the judge layer when non-nil.
	Judge *Judge

	// Reliability shrinkage toward a prior for small sample counts. K is
	// the prior's pseudo-count; zero disables shrinkage.
	ReliabilityK     float64
	ReliabilityPrior float64
	SampleCount      int

	// Latency objective for the efficiency scorer, in seconds.
	SLOGoodSeconds float64
	SLOBadSeconds  float64

	Formulas *FormulaRegistry
	Logger   *slog.Logger
}

// DefaultOptions returns the standard evaluation configuration: enforcement
// on, default weights, no judge.
func DefaultOptions() *Options {
	return &Options{Enforce: true}
}

func (o *Options) weights() ComponentWeights {
	w := o.Weights
	if w.Objective == 0 && w.Judge == 0 && w.Advisory == 0 {
		return ComponentWeights{
			Objective: DefaultObjectiveWeight,
			Judge:     DefaultJudgeWeight,
			Advisory:  DefaultAdvisoryWeight,
		}
	}
	return w
}

func (o *Options) formulas() *FormulaRegistry {
	if o.Formulas != nil {
		return o.Formulas
	}
	return NewFormulaRegistry()
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Evaluate scores a completed run against the workflow's rubric and returns
// a scorecard. The error return covers configuration problems (bad rubric,
// unknown formula); a failing run evaluates fine and simply scores badly.
func Evaluate(ctx context.Context, wf *workflow.Workflow, result *workflow.Result, sample *Sample, opts *Options) (*Scorecard, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	criteria, err := ResolveCriteria(wf.Evaluation)
	if err != nil {
		return nil, err
	}
	formulas := opts.formulas()
	logger := opts.logger()

	card := &Scorecard{
		Workflow: wf.Name,
		RunID:    result.RunID,
	}
	card.Gates = runGates(wf, result, sample)

	// Objective layer.
	type layered struct {
		objective *float64
		judge     *float64
	}
	scores := make(map[string]*layered, len(criteria))
	for _, c := range criteria {
		scores[c.Name] = &layered{}
	}
	var objScores, objWeights []float64
	for _, c := range criteria {
		scorer, ok := objectiveScorers[c.Name]
		if !ok {
			continue
		}
		formula, err := formulas.Get(c.FormulaID)
		if err != nil {
			return nil, err
		}
		raw := scorer(result, sample, opts) / 100
		norm := formula.Normalize(raw)
		if opts.ReliabilityK > 0 {
			norm = Shrink(norm, opts.SampleCount, opts.ReliabilityPrior, opts.ReliabilityK)
		}
		scores[c.Name].objective = &norm
		objScores = append(objScores, norm)
		objWeights = append(objWeights, c.Weight)
	}
	card.Objective = weightedMean(objScores, objWeights)

	// Judge layer. A judge failure degrades to objective-plus-advisory
	// scoring rather than failing the evaluation.
	evidence := map[string]string{}
	if opts.Judge != nil {
		reference := ""
		if sample != nil {
			reference = sample.Expected
		}
		jr, err := opts.Judge.Evaluate(ctx, candidateText(result), reference, criteria)
		if err != nil {
			logger.Warn("judge layer failed, scoring without it", slog.Any("error", err))
		} else {
			likert, _ := formulas.Get(FormulaLikert5)
			var jScores, jWeights []float64
			for _, c := range criteria {
				norm := likert.Normalize(jr.Scores[c.Name])
				scores[c.Name].judge = &norm
				jScores = append(jScores, norm)
				jWeights = append(jWeights, c.Weight)
			}
			j := weightedMean(jScores, jWeights)
			card.Judge = &j
			card.PairwiseInconsistent = jr.Inconsistent
			evidence = jr.Evidence
		}
	}

	// Advisory layer.
	card.Advisory = advise(result, sample, opts)

	// Composite over active layers.
	w := opts.weights()
	layerScores := []float64{card.Objective, 0, card.Advisory.Score}
	layerWeights := []float64{w.Objective, 0, w.Advisory}
	if card.Judge != nil {
		layerScores[1] = *card.Judge
		layerWeights[1] = w.Judge
	}
	card.Composite = weightedMean(layerScores, layerWeights)

	// Per-criterion blend, floors, and the grade.
	for _, c := range criteria {
		ls := scores[c.Name]
		cs := CriterionScore{
			Name:     c.Name,
			Weight:   c.Weight,
			Floor:    floorFor(c),
			Evidence: evidence[c.Name],
		}
		var vals, weights []float64
		if ls.objective != nil {
			cs.Objective = ls.objective
			vals = append(vals, *ls.objective)
			weights = append(weights, w.Objective)
		}
		if ls.judge != nil {
			cs.Judge = ls.judge
			vals = append(vals, *ls.judge)
			weights = append(weights, w.Judge)
		}
		if len(vals) > 0 {
			cs.Score = weightedMean(vals, weights)
			if cs.Floor > 0 && cs.Score < cs.Floor {
				cs.FloorViolated = true
				card.FloorViolations = append(card.FloorViolations, c.Name)
			}
		}
		card.Criteria = append(card.Criteria, cs)
	}
	sort.Strings(card.FloorViolations)

	card.Grade = gradeFor(card.Composite)
	if len(card.FloorViolations) > 0 {
		card.Grade = capAtD(card.Grade)
	}

	// Schema gate runs on the finished card so downstream consumers never
	// see a malformed scorecard marked passing.
	schemaGate := GateResult{Name: GateScorecardSchema, Passed: true}
	if err := card.Validate(); err != nil {
		schemaGate.Passed = false
		schemaGate.Detail = err.Error()
	}
	card.Gates = append(card.Gates, schemaGate)

	if opts.Enforce && !card.GatesPassed() {
		card.Grade = GradeF
		logger.Info("hard gate failed",
			slog.String("workflow", wf.Name),
			slog.String("run_id", result.RunID),
			slog.Any("gates", card.FailedGates()))
	}
	return card, nil
}

// runGates evaluates every hard gate except the scorecard schema check,
// which needs the finished card.
func runGates(wf *workflow.Workflow, result *workflow.Result, sample *Sample) []GateResult {
	gates := make([]GateResult, 0, 4)

	// Every required workflow output present and non-null.
	var missing []string
	for name, spec := range wf.Outputs {
		if spec != nil && spec.Optional {
			continue
		}
		if result.Outputs[name] == nil {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	g := GateResult{Name: GateRequiredOutputs, Passed: len(missing) == 0}
	if !g.Passed {
		g.Detail = fmt.Sprintf("missing required outputs: %s", strings.Join(missing, ", "))
	}
	gates = append(gates, g)

	g = GateResult{Name: GateRunStatus, Passed: result.Status == workflow.RunSuccess}
	if !g.Passed {
		g.Detail = fmt.Sprintf("run status is %s", result.Status)
	}
	gates = append(gates, g)

	g = GateResult{Name: GateCriticalSteps, Passed: true}
	if failed := failedCriticalSteps(wf, result); len(failed) > 0 {
		g.Passed = false
		g.Detail = fmt.Sprintf("critical steps failed: %s", strings.Join(failed, ", "))
	}
	gates = append(gates, g)

	// Dataset compatibility: the sample must be able to satisfy every
	// required workflow input. Absent a sample the gate passes.
	g = GateResult{Name: GateDatasetInputs, Passed: true}
	if sample != nil {
		if _, err := wf.ValidateInputs(sample.Inputs); err != nil {
			g.Passed = false
			g.Detail = err.Error()
		}
	}
	gates = append(gates, g)

	return gates
}

// failedCriticalSteps names the failed steps other steps depend on, sorted.
// A failed leaf already surfaces through the run-status gate; a failed
// upstream step additionally poisons everything scheduled after it.
func failedCriticalSteps(wf *workflow.Workflow, result *workflow.Result) []string {
	hasDependents := map[string]bool{}
	for _, s := range wf.Steps {
		for _, dep := range s.DependsOn {
			hasDependents[dep] = true
		}
	}
	var failed []string
	for name, st := range result.Steps {
		if st.Status == workflow.StatusFailed && hasDependents[name] {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}
