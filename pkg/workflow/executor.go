package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cascade-run/cascade/pkg/checkpoint"
	"github.com/cascade-run/cascade/pkg/expression"
)

// Skip reasons recorded on skipped step states.
const (
	SkipReasonDependencyFailed = "dependency failed"
	SkipReasonWhenFalse        = "when condition false"
	SkipReasonUnmetDeps        = "unmet dependencies"
)

// DefaultMaxConcurrency bounds simultaneous node invocations when the
// executor is not configured otherwise.
const DefaultMaxConcurrency = 10

// Executor schedules a compiled graph with Kahn-style dynamic readiness
// under a concurrency ceiling. A single Executor value may run many graphs;
// all per-run state is local to Run.
type Executor struct {
	// MaxConcurrency caps simultaneously running nodes. Zero means
	// DefaultMaxConcurrency.
	MaxConcurrency int

	// Sink receives canonical events. Nil means no emission.
	Sink Sink

	// Checkpoints, when set, receives a state snapshot after every node
	// completion under ThreadID.
	Checkpoints checkpoint.Store

	// ThreadID keys checkpoint snapshots. Defaults to the run id.
	ThreadID string

	// Expressions evaluates when and loop_until gates.
	Expressions *expression.Evaluator

	Logger *slog.Logger
}

// completion carries one finished node invocation back to the scheduler.
type completion struct {
	name   string
	update Update
	err    error
}

// Run executes the graph against the state, which it mutates through the
// reducers. It emits exactly one workflow_start and one workflow_end, and
// per executed step one matched step_start/step_complete pair (skips emit
// only step_complete). The returned error is non-nil only for a cancelled
// run; every other failure is recorded in the state and the run status.
func (e *Executor) Run(ctx context.Context, g *Graph, state *RunState, runID string) (RunStatus, error) {
	maxConc := e.MaxConcurrency
	if maxConc <= 0 {
		maxConc = DefaultMaxConcurrency
	}
	sink := e.Sink
	if sink == nil {
		sink = NullSink{}
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	evaluator := e.Expressions
	if evaluator == nil {
		evaluator = expression.New()
	}
	threadID := e.ThreadID
	if threadID == "" {
		threadID = runID
	}

	var mu sync.Mutex

	emit := func(ev Event) {
		ev.Timestamp = time.Now().UTC()
		sink.Emit(ev)
	}

	emit(Event{
		Type: EventWorkflowStart,
		Data: map[string]interface{}{
			"workflow": g.Workflow.Name,
			"run_id":   runID,
		},
	})

	status := RunFailed
	defer func() {
		emit(Event{
			Type: EventWorkflowEnd,
			Data: map[string]interface{}{
				"workflow": g.Workflow.Name,
				"run_id":   runID,
				"status":   string(status),
			},
		})
	}()

	indeg := make(map[string]int, len(g.InDegree))
	for name, d := range g.InDegree {
		indeg[name] = d
	}
	done := make(map[string]bool, len(g.Steps))
	iteration := make(map[string]int, len(g.Steps))

	var ready []string
	completions := make(chan completion, len(g.Steps))
	running := 0
	cancelled := false

	view := func() map[string]interface{} {
		mu.Lock()
		defer mu.Unlock()
		return state.View()
	}

	// markSkipped records a skip and its single step_complete event.
	markSkipped := func(name, reason string) {
		now := time.Now().UTC()
		mu.Lock()
		state.Apply(Update{Steps: map[string]*StepState{
			name: {
				Status:        StatusSkipped,
				SkipReason:    reason,
				LoopIteration: state.LoopIteration(name),
				StartedAt:     now,
				EndedAt:       now,
			},
		}})
		mu.Unlock()
		done[name] = true
		emit(Event{
			Type:     EventStepComplete,
			StepName: name,
			Data: map[string]interface{}{
				"status": string(StatusSkipped),
				"reason": reason,
			},
		})
	}

	// cascadeSkip marks every not-yet-done transitive dependent skipped.
	cascadeSkip := func(from string) {
		queue := append([]string(nil), g.Dependents[from]...)
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			if done[name] {
				continue
			}
			markSkipped(name, SkipReasonDependencyFailed)
			queue = append(queue, g.Dependents[name]...)
		}
	}

	// release decrements dependents' in-degrees and readies the ones that
	// reach zero.
	release := func(from string) {
		for _, dep := range g.Dependents[from] {
			if done[dep] {
				continue
			}
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	// Resume support: steps already terminal in the restored state are not
	// re-run. Successful ones release their dependents; failed ones
	// cascade.
	var resumedFailures []string
	mu.Lock()
	for name, st := range state.Steps {
		if _, known := g.Steps[name]; !known || !st.Status.Terminal() {
			continue
		}
		done[name] = true
		iteration[name] = st.LoopIteration
		if st.Status == StatusFailed {
			resumedFailures = append(resumedFailures, name)
		}
	}
	mu.Unlock()
	for name := range done {
		if st := state.Steps[name]; st.Status != StatusFailed && st.Status != StatusSkipped {
			release(name)
		}
	}
	for _, name := range resumedFailures {
		cascadeSkip(name)
	}
	for _, root := range g.Roots {
		if !done[root] {
			ready = append(ready, root)
		}
	}

	// spawn starts one node invocation, applying the when gate first.
	spawn := func(name string) {
		step := g.Steps[name]
		if step.When != "" && !evaluator.EvaluateBool(step.When, view()) {
			markSkipped(name, SkipReasonWhenFalse)
			return
		}

		iteration[name]++
		iter := iteration[name]
		req := StepRequest{View: view(), Iteration: iter, RunID: runID}

		emit(Event{
			Type:     EventStepStart,
			StepName: name,
			Data:     map[string]interface{}{"iteration": iter},
		})

		running++
		go func() {
			nodeCtx := ctx
			var cancel context.CancelFunc
			if step.TimeoutSeconds > 0 {
				nodeCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
				defer cancel()
			}
			update, err := g.Nodes[name](nodeCtx, req)
			completions <- completion{name: name, update: update, err: err}
		}()
	}

	snapshot := func() {
		if e.Checkpoints == nil {
			return
		}
		mu.Lock()
		data, err := json.Marshal(state)
		mu.Unlock()
		if err != nil {
			logger.Warn("checkpoint marshal failed", "error", err)
			return
		}
		if _, err := e.Checkpoints.Put(ctx, threadID, data); err != nil {
			logger.Warn("checkpoint write failed", "error", err)
		}
	}

	for {
		for len(ready) > 0 && running < maxConc {
			name := ready[0]
			ready = ready[1:]
			if done[name] {
				continue
			}
			spawn(name)
		}
		if running == 0 {
			if len(ready) == 0 {
				break
			}
			continue
		}

		c := <-completions
		running--
		step := g.Steps[c.name]

		if c.err != nil {
			if ctx.Err() != nil {
				// Global cancellation: record the node, cascade, drain.
				cancelled = true
				mu.Lock()
				state.Apply(Update{
					Steps: map[string]*StepState{
						c.name: {Status: StatusFailed, Error: "cancelled", LoopIteration: iteration[c.name]},
					},
					Errors: []string{fmt.Sprintf("step %s: cancelled", c.name)},
				})
				mu.Unlock()
				done[c.name] = true
				emit(Event{
					Type:     EventStepComplete,
					StepName: c.name,
					Data:     map[string]interface{}{"status": string(StatusFailed), "error": "cancelled"},
				})
				cascadeSkip(c.name)
				ready = nil
				continue
			}

			// Step-scoped timeout: failed, not retried, dependents skip.
			msg := fmt.Sprintf("timed out after %ds", step.TimeoutSeconds)
			mu.Lock()
			state.Apply(Update{
				Steps: map[string]*StepState{
					c.name: {Status: StatusFailed, Error: msg, LoopIteration: iteration[c.name]},
				},
				Errors: []string{fmt.Sprintf("step %s: %s", c.name, msg)},
			})
			mu.Unlock()
			done[c.name] = true
			emit(Event{
				Type:     EventStepComplete,
				StepName: c.name,
				Data:     map[string]interface{}{"status": string(StatusFailed), "error": msg},
			})
			snapshot()
			cascadeSkip(c.name)
			continue
		}

		mu.Lock()
		state.Apply(c.update)
		st := state.Steps[c.name]
		mu.Unlock()
		snapshot()

		data := map[string]interface{}{"status": string(st.Status)}
		if st.Error != "" {
			data["error"] = st.Error
		}
		if st.Metadata != nil && st.Metadata.ModelUsed != "" {
			data["model"] = st.Metadata.ModelUsed
		}
		data["duration_ms"] = st.DurationMS
		data["outputs"] = st.Outputs
		emit(Event{Type: EventStepComplete, StepName: c.name, Data: data})

		if st.Status == StatusFailed {
			done[c.name] = true
			cascadeSkip(c.name)
			continue
		}

		// Self-loop: re-enter until loop_until holds or the cap is hit.
		// Hitting the cap is a normal completion.
		if step.LoopUntil != "" {
			if !evaluator.EvaluateBool(step.LoopUntil, view()) && iteration[c.name] < step.LoopMax {
				ready = append(ready, c.name)
				continue
			}
		}

		done[c.name] = true
		release(c.name)
	}

	// Anything never reached is an unreachable region.
	for name := range g.Steps {
		if !done[name] {
			markSkipped(name, SkipReasonUnmetDeps)
		}
	}

	if cancelled {
		status = RunFailed
		return status, ctx.Err()
	}

	status = RunSuccess
	mu.Lock()
	for _, st := range state.Steps {
		if st.Status == StatusFailed || st.Status == StatusSkipped {
			status = RunPartial
			break
		}
	}
	mu.Unlock()
	return status, nil
}
