package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cascade-run/cascade/pkg/expression"
	"github.com/cascade-run/cascade/pkg/model"
	"github.com/cascade-run/cascade/pkg/tool"
)

// StepRequest is the per-invocation input to a node function: a consistent
// snapshot of the run-state view plus loop accounting.
type StepRequest struct {
	// View is the expression root snapshot taken when the node was
	// scheduled.
	View map[string]interface{}

	// Iteration is the 1-based loop iteration of this invocation.
	Iteration int

	// RunID identifies the enclosing run.
	RunID string
}

// NodeFunc executes one step and returns the partial state update to merge.
// Failures are expressed in the returned step state; only cancellation
// escapes as an error.
type NodeFunc func(ctx context.Context, req StepRequest) (Update, error)

// Deterministic is a tier-0 step implementation.
type Deterministic func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)

// DeterministicRegistry maps agent identifiers (tier0_*) to deterministic
// implementations.
type DeterministicRegistry struct {
	impls map[string]Deterministic
}

// NewDeterministicRegistry creates an empty tier-0 registry.
func NewDeterministicRegistry() *DeterministicRegistry {
	return &DeterministicRegistry{impls: make(map[string]Deterministic)}
}

// Register binds an agent identifier to an implementation.
func (r *DeterministicRegistry) Register(agent string, impl Deterministic) {
	r.impls[agent] = impl
}

// Get returns the implementation for an agent identifier, or nil.
func (r *DeterministicRegistry) Get(agent string) Deterministic {
	return r.impls[agent]
}

// PromptLoader supplies system prompt text by role or prompt-file name.
// Prompt storage is external to the engine.
type PromptLoader interface {
	Load(name string) (string, error)
}

// StepCompiler turns step configs into node functions.
type StepCompiler struct {
	Models        *model.Registry
	Tools         *tool.Registry
	Deterministic *DeterministicRegistry
	Prompts       PromptLoader
	Expressions   *expression.Evaluator
	Logger        *slog.Logger

	// ValidateOnly compiles every step into an unconditional success node,
	// for checking graph shape without provider credentials.
	ValidateOnly bool
}

func (c *StepCompiler) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Compile builds the node function for one step.
func (c *StepCompiler) Compile(step *Step, wf *Workflow) (NodeFunc, error) {
	tier, role, err := ParseAgent(step.Agent)
	if err != nil {
		return nil, err
	}

	if c.ValidateOnly {
		return c.compileValidation(step), nil
	}
	if tier == 0 {
		return c.compileDeterministic(step), nil
	}
	return c.compileLLM(step, tier, role), nil
}

// compileValidation builds a node that unconditionally records success with
// empty outputs.
func (c *StepCompiler) compileValidation(step *Step) NodeFunc {
	return func(ctx context.Context, req StepRequest) (Update, error) {
		now := time.Now().UTC()
		return Update{
			Steps: map[string]*StepState{
				step.Name: {
					Status:        StatusValidation,
					Outputs:       map[string]interface{}{},
					LoopIteration: req.Iteration,
					StartedAt:     now,
					EndedAt:       now,
				},
			},
			CurrentStep: step.Name,
		}, nil
	}
}

// compileDeterministic builds a tier-0 node. A missing implementation is a
// no-op success with empty outputs.
func (c *StepCompiler) compileDeterministic(step *Step) NodeFunc {
	return func(ctx context.Context, req StepRequest) (Update, error) {
		start := time.Now().UTC()
		inputs := c.resolveInputs(step, req.View)

		impl := c.Deterministic.Get(step.Agent)
		if impl == nil {
			return c.successUpdate(step, req, start, nil, map[string]interface{}{}, nil), nil
		}

		outputs, err := impl(ctx, inputs)
		if err != nil {
			if ctx.Err() != nil {
				return Update{}, ctx.Err()
			}
			return c.failedUpdate(step, req, start, err.Error()), nil
		}
		return c.successUpdate(step, req, start, nil, outputs, nil), nil
	}
}

// compileLLM builds a tier>=1 node with the model-failover loop.
func (c *StepCompiler) compileLLM(step *Step, tier int, role string) NodeFunc {
	override := model.ParseOverride(step.ModelOverride)

	return func(ctx context.Context, req StepRequest) (Update, error) {
		start := time.Now().UTC()
		log := c.logger().With(slog.String("step", step.Name), slog.String("run_id", req.RunID))

		inputs := c.resolveInputs(step, req.View)

		candidates, err := c.Models.Candidates(tier, override, false)
		if err != nil {
			// Unresolvable overrides and empty tiers surface when the
			// step starts.
			return c.failedUpdate(step, req, start, err.Error()), nil
		}

		selected, err := c.Tools.Select(tier, step.Tools)
		if err != nil {
			return c.failedUpdate(step, req, start, err.Error()), nil
		}
		defs := tool.Defs(selected)

		system := c.loadSystemPrompt(step, role, log)
		prompt := buildPrompt(step, inputs)

		var attempts []Attempt
		for _, candidate := range candidates {
			backend, err := c.Models.Backend(candidate)
			if err != nil {
				attempts = append(attempts, Attempt{
					Model:     candidate,
					Error:     err.Error(),
					Retryable: model.Retryable(err),
				})
				continue
			}

			messages := make([]model.Message, 0, 2)
			if system != "" {
				messages = append(messages, model.Message{Role: model.MessageRoleSystem, Content: system})
			}
			messages = append(messages, model.Message{Role: model.MessageRoleUser, Content: prompt})

			resp, err := backend.Complete(ctx, model.CompletionRequest{
				Messages: messages,
				Model:    modelName(candidate),
				Tools:    defs,
				Metadata: map[string]string{"run_id": req.RunID, "step": step.Name},
			})
			if err != nil {
				if ctx.Err() != nil {
					return Update{}, ctx.Err()
				}
				retryable := model.Retryable(err)
				attempts = append(attempts, Attempt{Model: candidate, Error: err.Error(), Retryable: retryable})
				log.Warn("model attempt failed",
					slog.String("model", candidate),
					slog.Bool("retryable", retryable),
					"error", err,
				)
				continue
			}

			outputs := parseResponse(resp.Content)
			meta := &StepMetadata{
				ModelUsed: candidate,
				Attempts:  append(attempts, Attempt{Model: candidate}),
				Tokens:    resp.Usage,
			}
			update := c.successUpdate(step, req, start, inputs, outputs, meta)
			update.Messages = append(messages, model.Message{
				Role:    model.MessageRoleAssistant,
				Content: resp.Content,
			})
			return update, nil
		}

		last := "none"
		lastErr := "no candidates attempted"
		if len(attempts) > 0 {
			last = attempts[len(attempts)-1].Model
			lastErr = attempts[len(attempts)-1].Error
		}
		msg := fmt.Sprintf("All model attempts failed (last model=%s: %s)", last, lastErr)

		update := c.failedUpdate(step, req, start, msg)
		update.Steps[step.Name].Metadata = &StepMetadata{Attempts: attempts}
		return update, nil
	}
}

// resolveInputs resolves the step's declared input expressions against the
// view snapshot.
func (c *StepCompiler) resolveInputs(step *Step, view map[string]interface{}) map[string]interface{} {
	inputs := make(map[string]interface{}, len(step.Inputs))
	for name, src := range step.Inputs {
		inputs[name] = c.Expressions.ResolveValue(src, view)
	}
	return inputs
}

// successUpdate records a successful step: outputs into step state, resolved
// inputs mirrored into context for downstream steps, declared outputs mapped
// to context keys. Outputs win when an output context key collides with an
// input name.
func (c *StepCompiler) successUpdate(step *Step, req StepRequest, start time.Time, inputs, outputs map[string]interface{}, meta *StepMetadata) Update {
	end := time.Now().UTC()
	ctxUpdate := make(map[string]interface{}, len(inputs)+len(step.Outputs))
	for name, v := range inputs {
		ctxUpdate[name] = v
	}
	for local, ctxKey := range step.Outputs {
		if existing, ok := indexView(req.View, "context", ctxKey); ok && existing != nil {
			c.logger().Warn("step output shadows existing context key",
				slog.String("step", step.Name),
				slog.String("key", ctxKey),
			)
		}
		if v, ok := outputs[local]; ok {
			ctxUpdate[ctxKey] = v
		}
	}

	return Update{
		Context: ctxUpdate,
		Steps: map[string]*StepState{
			step.Name: {
				Status:        StatusSuccess,
				Outputs:       outputs,
				LoopIteration: req.Iteration,
				Metadata:      meta,
				StartedAt:     start,
				EndedAt:       end,
				DurationMS:    end.Sub(start).Milliseconds(),
			},
		},
		CurrentStep: step.Name,
	}
}

// failedUpdate records a failed step and appends a run-level error.
func (c *StepCompiler) failedUpdate(step *Step, req StepRequest, start time.Time, errMsg string) Update {
	end := time.Now().UTC()
	return Update{
		Steps: map[string]*StepState{
			step.Name: {
				Status:        StatusFailed,
				Error:         errMsg,
				LoopIteration: req.Iteration,
				StartedAt:     start,
				EndedAt:       end,
				DurationMS:    end.Sub(start).Milliseconds(),
			},
		},
		CurrentStep: step.Name,
		Errors:      []string{fmt.Sprintf("step %s: %s", step.Name, errMsg)},
	}
}

// loadSystemPrompt loads the role or prompt-file system prompt. A load
// failure downgrades to an empty prompt with a warning.
func (c *StepCompiler) loadSystemPrompt(step *Step, role string, log *slog.Logger) string {
	if c.Prompts == nil {
		return ""
	}
	name := step.PromptFile
	if name == "" {
		name = role
	}
	text, err := c.Prompts.Load(name)
	if err != nil {
		log.Warn("prompt load failed, using empty system prompt",
			slog.String("prompt", name),
			"error", err,
		)
		return ""
	}
	return text
}

// buildPrompt renders the task-description prompt: step name, description,
// pretty-printed resolved inputs, and the output keys the model must return
// as a JSON object.
func buildPrompt(step *Step, inputs map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", step.Name)
	if step.Description != "" {
		fmt.Fprintf(&b, "%s\n", step.Description)
	}
	if len(inputs) > 0 {
		pretty, err := json.MarshalIndent(inputs, "", "  ")
		if err != nil {
			pretty = []byte(fmt.Sprintf("%v", inputs))
		}
		fmt.Fprintf(&b, "\nInputs:\n%s\n", pretty)
	}
	if len(step.Outputs) > 0 {
		keys := make([]string, 0, len(step.Outputs))
		for local := range step.Outputs {
			keys = append(keys, local)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "\nRespond with a JSON object containing the keys: %s\n", strings.Join(keys, ", "))
	}
	return b.String()
}

// parseResponse parses model output as JSON with fallbacks: raw parse,
// first ```json fenced block, first balanced brace substring. The unparsed
// text is always preserved under raw_response.
func parseResponse(text string) map[string]interface{} {
	outputs := map[string]interface{}{"raw_response": text}

	for _, candidate := range jsonCandidates(text) {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			for k, v := range parsed {
				outputs[k] = v
			}
			return outputs
		}
	}
	return outputs
}

// jsonCandidates yields the substrings to try as JSON, in preference order.
func jsonCandidates(text string) []string {
	candidates := []string{strings.TrimSpace(text)}

	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidates = append(candidates, strings.TrimSpace(rest[:end]))
		}
	}

	if start := strings.Index(text, "{"); start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			ch := text[i]
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				if inString {
					escaped = true
				}
			case '"':
				inString = !inString
			case '{':
				if !inString {
					depth++
				}
			case '}':
				if !inString {
					depth--
					if depth == 0 {
						candidates = append(candidates, text[start:i+1])
						i = len(text)
					}
				}
			}
		}
	}
	return candidates
}

// modelName strips the provider tag from a candidate id.
func modelName(candidate string) string {
	if _, name, ok := strings.Cut(candidate, ":"); ok {
		return name
	}
	return candidate
}

// indexView walks two levels into the view snapshot.
func indexView(view map[string]interface{}, key, sub string) (interface{}, bool) {
	m, ok := view[key].(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := m[sub]
	return v, ok
}
