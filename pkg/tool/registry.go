// Package tool provides the tool registry consumed by LLM-backed steps.
//
// Tools are named operations with a JSON-schema-shaped parameter spec and a
// typed result. The registry supports lookup by exact name, filtering to the
// subset a tier may use (higher tiers see a superset), and schema export in
// the shape the chat backends expect for tool calling. Tool implementations
// themselves live outside the engine.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cascade-run/cascade/pkg/errors"
	"github.com/cascade-run/cascade/pkg/model"
)

// Tool represents an executable tool dispatchable from a workflow step.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what the tool does
	Description() string

	// Schema returns the JSON schema defining the tool's parameters
	Schema() *Schema

	// Execute runs the tool with the given arguments
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is a tool invocation outcome. A tool error is data, not an engine
// failure: the step surfaces it through its declared output channel.
type Result struct {
	// Output is the tool's produced data
	Output map[string]interface{} `json:"output,omitempty"`

	// Success indicates whether the tool accomplished its operation
	Success bool `json:"success"`

	// Error describes the failure when Success is false
	Error string `json:"error,omitempty"`
}

// Schema defines a tool's parameters using JSON Schema conventions.
type Schema struct {
	// Type is the JSON type, "object" for every parameter set
	Type string `json:"type"`

	// Properties defines the named parameters
	Properties map[string]*Property `json:"properties,omitempty"`

	// Required lists the required parameter names
	Required []string `json:"required,omitempty"`

	// Description provides human-readable context
	Description string `json:"description,omitempty"`
}

// Property defines a single parameter in a tool schema.
type Property struct {
	// Type is the JSON type of this parameter
	Type string `json:"type"`

	// Description explains what this parameter represents
	Description string `json:"description,omitempty"`

	// Enum lists allowed values
	Enum []interface{} `json:"enum,omitempty"`

	// Default provides a value when the parameter is omitted
	Default interface{} `json:"default,omitempty"`
}

// Registry maintains the registered tools and the minimum tier each one
// requires. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	minTiers map[string]int
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		minTiers: make(map[string]int),
	}
}

// Register adds a tool available from tier 1 upward.
// Returns an error if a tool with the same name is already registered.
func (r *Registry) Register(t Tool) error {
	return r.RegisterForTier(t, 1)
}

// RegisterForTier adds a tool visible only to agents of minTier or above.
func (r *Registry) RegisterForTier(t Tool, minTier int) error {
	if t == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if t.Schema() == nil {
		return fmt.Errorf("tool schema cannot be nil: %s", name)
	}
	if minTier < 1 || minTier > model.MaxTier {
		return &errors.ValidationError{
			Field:   "min_tier",
			Message: fmt.Sprintf("tier must be in 1..%d, got %d", model.MaxTier, minTier),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = t
	r.minTiers[name] = minTier
	return nil
}

// Unregister removes a tool from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return &errors.NotFoundError{Resource: "tool", ID: name}
	}
	delete(r.tools, name)
	delete(r.minTiers, name)
	return nil
}

// Get retrieves a tool by exact name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tools[name]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "tool", ID: name}
	}
	return t, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// List returns all registered tool names, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForTier returns the tools an agent of the given tier may use, sorted by
// name. A higher tier always sees a superset of a lower tier's tools.
func (r *Registry) ForTier(tier int) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name, min := range r.minTiers {
		if tier >= min {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Select resolves a step's explicit tool-name list against the tier subset.
// An empty list means the full tier subset; a name outside the tier's reach
// or unknown to the registry is an error.
func (r *Registry) Select(tier int, names []string) ([]Tool, error) {
	if len(names) == 0 {
		return r.ForTier(tier), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		t, exists := r.tools[name]
		if !exists {
			return nil, &errors.NotFoundError{Resource: "tool", ID: name}
		}
		if tier < r.minTiers[name] {
			return nil, &errors.ValidationError{
				Field:   "tools",
				Message: fmt.Sprintf("tool %s requires tier %d, step runs at tier %d", name, r.minTiers[name], tier),
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// Defs converts a tool subset into the schema shape the chat backends bind
// for tool calling.
func Defs(tools []Tool) []model.ToolDef {
	defs := make([]model.ToolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema().AsMap(),
		})
	}
	return defs
}

// AsMap renders the schema as the generic JSON-object form tool-calling
// APIs take.
func (s *Schema) AsMap() map[string]interface{} {
	if s == nil {
		return nil
	}
	m := map[string]interface{}{"type": s.Type}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		for name, p := range s.Properties {
			prop := map[string]interface{}{"type": p.Type}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			if p.Default != nil {
				prop["default"] = p.Default
			}
			props[name] = prop
		}
		m["properties"] = props
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}
