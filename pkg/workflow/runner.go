package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cascade-run/cascade/pkg/checkpoint"
	"github.com/cascade-run/cascade/pkg/expression"
	"github.com/cascade-run/cascade/pkg/model"
)

// ConfigSource loads workflow configurations by name. Implementations may
// cache; the runner keys its compiled-graph cache on the returned pointer so
// a reloaded config recompiles.
type ConfigSource interface {
	Load(name string) (*Workflow, error)
}

// Result is the outcome of one workflow invocation.
type Result struct {
	RunID    string                 `json:"run_id"`
	Workflow string                 `json:"workflow"`
	Status   RunStatus              `json:"status"`
	Outputs  map[string]interface{} `json:"outputs"`
	Steps    map[string]*StepState  `json:"steps"`
	Errors   []string               `json:"errors,omitempty"`

	// ElapsedSeconds is the wall-clock duration of the run.
	ElapsedSeconds float64 `json:"elapsed_seconds"`

	// TokensByStep and ModelsByStep summarize per-step model accounting.
	TokensByStep map[string]model.TokenUsage `json:"tokens_by_step,omitempty"`
	ModelsByStep map[string]string           `json:"models_by_step,omitempty"`

	// UnresolvedRequired names required outputs that resolved to null.
	UnresolvedRequired []string `json:"unresolved_required,omitempty"`
}

// RunOptions tune one invocation.
type RunOptions struct {
	// ThreadID keys checkpoint snapshots; defaults to the run id.
	ThreadID string

	// Resume restores the latest snapshot for ThreadID before executing.
	Resume bool

	// MaxConcurrency overrides the runner's concurrency ceiling.
	MaxConcurrency int
}

// Runner is the façade: load, validate, compile (cached), execute, resolve
// outputs, summarize.
type Runner struct {
	Source      ConfigSource
	Compiler    *StepCompiler
	Sink        Sink
	Checkpoints checkpoint.Store
	Expressions *expression.Evaluator

	// MaxConcurrency is the default concurrency ceiling for runs.
	MaxConcurrency int

	Logger *slog.Logger

	mu     sync.Mutex
	graphs map[string]*graphEntry
}

type graphEntry struct {
	wf *Workflow
	g  *Graph
}

// NewRunner creates a runner with the given config source and step
// compiler.
func NewRunner(source ConfigSource, compiler *StepCompiler) *Runner {
	return &Runner{
		Source:      source,
		Compiler:    compiler,
		Expressions: compiler.Expressions,
		graphs:      make(map[string]*graphEntry),
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// graph returns the compiled graph for a workflow, compiling on first use
// or when the config was reloaded. The cache key includes the compiler's
// validate-only mode so switching modes invalidates.
func (r *Runner) graph(wf *Workflow) (*Graph, error) {
	key := fmt.Sprintf("%s|validate=%t", wf.Name, r.Compiler.ValidateOnly)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.graphs[key]; ok && e.wf == wf {
		return e.g, nil
	}
	g, err := Compile(wf, r.Compiler)
	if err != nil {
		return nil, err
	}
	r.graphs[key] = &graphEntry{wf: wf, g: g}
	return g, nil
}

// Run loads the named workflow and executes it with the given inputs.
func (r *Runner) Run(ctx context.Context, name string, inputs map[string]interface{}, opts RunOptions) (*Result, error) {
	wf, err := r.Source.Load(name)
	if err != nil {
		return nil, err
	}
	return r.RunWorkflow(ctx, wf, inputs, opts)
}

// RunWorkflow executes an already-loaded workflow configuration.
func (r *Runner) RunWorkflow(ctx context.Context, wf *Workflow, inputs map[string]interface{}, opts RunOptions) (*Result, error) {
	start := time.Now()

	effective, err := wf.ValidateInputs(inputs)
	if err != nil {
		return nil, err
	}

	g, err := r.graph(wf)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	threadID := opts.ThreadID
	if threadID == "" {
		threadID = runID
	}

	state, err := r.seedState(ctx, effective, runID, threadID, opts.Resume)
	if err != nil {
		return nil, err
	}

	maxConc := opts.MaxConcurrency
	if maxConc == 0 {
		maxConc = r.MaxConcurrency
	}
	exec := &Executor{
		MaxConcurrency: maxConc,
		Sink:           r.Sink,
		Checkpoints:    r.Checkpoints,
		ThreadID:       threadID,
		Expressions:    r.Expressions,
		Logger:         r.logger(),
	}

	status, runErr := exec.Run(ctx, g, state, runID)
	if runErr != nil {
		// Cancellation propagates after workflow_end was emitted.
		return r.buildResult(wf, state, runID, status, start), runErr
	}

	result := r.buildResult(wf, state, runID, status, start)
	return result, nil
}

// seedState creates the initial run state, restoring the latest checkpoint
// snapshot when resuming.
func (r *Runner) seedState(ctx context.Context, inputs map[string]interface{}, runID, threadID string, resume bool) (*RunState, error) {
	if resume && r.Checkpoints != nil {
		snap, err := r.Checkpoints.Get(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if snap != nil {
			var state RunState
			if err := json.Unmarshal(snap.State, &state); err != nil {
				return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
			}
			if state.Context == nil {
				state.Context = make(map[string]interface{})
			}
			if state.Steps == nil {
				state.Steps = make(map[string]*StepState)
			}
			state.Context["workflow_run_id"] = runID
			return &state, nil
		}
	}

	state := NewRunState(inputs)
	state.Context["workflow_run_id"] = runID
	return state, nil
}

// buildResult resolves declared outputs against the final state and
// aggregates per-step summaries. Unresolved optional outputs warn;
// unresolved required outputs downgrade success to partial and are listed
// in the result.
func (r *Runner) buildResult(wf *Workflow, state *RunState, runID string, status RunStatus, start time.Time) *Result {
	view := state.View()
	outputs := make(map[string]interface{}, len(wf.Outputs))
	var unresolved []string

	for name, spec := range wf.Outputs {
		if spec == nil {
			continue
		}
		val := r.Expressions.ResolveValue(spec.From, view)
		outputs[name] = val
		if val != nil {
			continue
		}
		if spec.Optional {
			r.logger().Warn("optional workflow output unresolved",
				slog.String("workflow", wf.Name),
				slog.String("output", name),
			)
			continue
		}
		unresolved = append(unresolved, name)
	}

	if len(unresolved) > 0 && status == RunSuccess {
		status = RunPartial
	}

	tokens := make(map[string]model.TokenUsage)
	models := make(map[string]string)
	for name, st := range state.Steps {
		if st.Metadata == nil {
			continue
		}
		if st.Metadata.ModelUsed != "" {
			models[name] = st.Metadata.ModelUsed
		}
		if st.Metadata.Tokens.TotalTokens > 0 {
			tokens[name] = st.Metadata.Tokens
		}
	}

	return &Result{
		RunID:              runID,
		Workflow:           wf.Name,
		Status:             status,
		Outputs:            outputs,
		Steps:              state.Steps,
		Errors:             state.Errors,
		ElapsedSeconds:     time.Since(start).Seconds(),
		TokensByStep:       tokens,
		ModelsByStep:       models,
		UnresolvedRequired: unresolved,
	}
}
