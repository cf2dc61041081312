package workflow

import (
	"time"

	"github.com/cascade-run/cascade/pkg/model"
)

// Status is a step's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusValidation Status = "validation"
)

// Terminal reports whether the status is final for a step.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped, StatusValidation:
		return true
	}
	return false
}

// RunStatus is the terminal status of a whole run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Attempt records one model candidate try inside a step.
type Attempt struct {
	Model     string `json:"model"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// StepMetadata carries model accounting for an executed step.
type StepMetadata struct {
	// ModelUsed is the candidate that produced the accepted response.
	ModelUsed string `json:"model_used,omitempty"`

	// Attempts lists every candidate tried, in order, including failures.
	Attempts []Attempt `json:"attempts,omitempty"`

	// Tokens is the usage reported by the succeeding candidate.
	Tokens model.TokenUsage `json:"tokens"`
}

// StepState is one step's entry in the run state. Entries are never mutated
// in place; each write produces a fresh value.
type StepState struct {
	Status        Status                 `json:"status"`
	Outputs       map[string]interface{} `json:"outputs,omitempty"`
	Error         string                 `json:"error,omitempty"`
	SkipReason    string                 `json:"skip_reason,omitempty"`
	LoopIteration int                    `json:"loop_iteration"`
	Metadata      *StepMetadata          `json:"metadata,omitempty"`
	StartedAt     time.Time              `json:"started_at,omitempty"`
	EndedAt       time.Time              `json:"ended_at,omitempty"`
	DurationMS    int64                  `json:"duration_ms"`
}

// RunState is the single shared mutable object of a run. All mutation goes
// through Apply under the executor's lock; each field merges with its own
// commutative reducer so parallel completions are order-independent.
type RunState struct {
	// Messages is the append-only chat message log.
	Messages []model.Message `json:"messages,omitempty"`

	// Context is the shared keyed mapping; last writer per key wins.
	Context map[string]interface{} `json:"context"`

	// Inputs is set once at start and never rewritten.
	Inputs map[string]interface{} `json:"inputs"`

	// Outputs holds resolved workflow outputs.
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// Steps maps step name to its latest state entry.
	Steps map[string]*StepState `json:"steps"`

	// CurrentStep is the most recently completed step; last-non-empty wins.
	CurrentStep string `json:"current_step,omitempty"`

	// Errors is the append-only run error list.
	Errors []string `json:"errors,omitempty"`
}

// Update is a partial state produced by one node completion. Zero fields
// merge as no-ops.
type Update struct {
	Messages    []model.Message
	Context     map[string]interface{}
	Outputs     map[string]interface{}
	Steps       map[string]*StepState
	CurrentStep string
	Errors      []string
}

// NewRunState seeds a run state with the validated inputs.
func NewRunState(inputs map[string]interface{}) *RunState {
	ctx := make(map[string]interface{})
	in := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	return &RunState{
		Context: ctx,
		Inputs:  in,
		Steps:   make(map[string]*StepState),
	}
}

// Apply merges an update into the state using the per-field reducers:
// messages and errors concatenate, context and outputs shallow-merge with
// last-writer-per-key, steps replace per key, current_step is
// last-non-empty. Inputs never merge. The caller serializes Apply calls.
func (s *RunState) Apply(u Update) {
	s.Messages = append(s.Messages, u.Messages...)
	for k, v := range u.Context {
		s.Context[k] = v
	}
	if len(u.Outputs) > 0 {
		if s.Outputs == nil {
			s.Outputs = make(map[string]interface{}, len(u.Outputs))
		}
		for k, v := range u.Outputs {
			s.Outputs[k] = v
		}
	}
	for name, st := range u.Steps {
		s.Steps[name] = st
	}
	if u.CurrentStep != "" {
		s.CurrentStep = u.CurrentStep
	}
	s.Errors = append(s.Errors, u.Errors...)
}

// View exposes the state as the root mapping the expression evaluator walks:
// inputs, context, and steps.<name>.{status, outputs}.
func (s *RunState) View() map[string]interface{} {
	steps := make(map[string]interface{}, len(s.Steps))
	for name, st := range s.Steps {
		steps[name] = map[string]interface{}{
			"status":  string(st.Status),
			"outputs": st.Outputs,
		}
	}
	return map[string]interface{}{
		"inputs":  s.Inputs,
		"context": s.Context,
		"steps":   steps,
	}
}

// LoopIteration returns the recorded iteration count for a step, 0 when the
// step has not run.
func (s *RunState) LoopIteration(step string) int {
	if st, ok := s.Steps[step]; ok {
		return st.LoopIteration
	}
	return 0
}
