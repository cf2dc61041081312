package workflow

import (
	"fmt"

	"github.com/cascade-run/cascade/pkg/errors"
)

// Graph is the compiled, executable form of a workflow. Immutable during a
// run; the executor keeps its own mutable scheduling state.
type Graph struct {
	Workflow *Workflow

	// Nodes maps step name to its compiled node function.
	Nodes map[string]NodeFunc

	// Steps maps step name to its config for scheduling decisions
	// (when gates, loop bounds, timeouts).
	Steps map[string]*Step

	// Dependents maps a step to the steps that depend on it.
	Dependents map[string][]string

	// InDegree is the initial dependency count per step.
	InDegree map[string]int

	// Roots are the steps with no dependencies, wired from the synthetic
	// start.
	Roots []string
}

// Compile builds the executable graph: one node per step, dependency edges,
// dependency validation, and a cycle check that sanctions only loop_until
// self-loops.
func Compile(wf *Workflow, compiler *StepCompiler) (*Graph, error) {
	if len(wf.Steps) == 0 {
		return nil, &errors.CompileError{
			Workflow: wf.Name,
			Message:  "workflow has no steps",
		}
	}

	g := &Graph{
		Workflow:   wf,
		Nodes:      make(map[string]NodeFunc, len(wf.Steps)),
		Steps:      make(map[string]*Step, len(wf.Steps)),
		Dependents: make(map[string][]string),
		InDegree:   make(map[string]int, len(wf.Steps)),
	}

	for _, step := range wf.Steps {
		node, err := compiler.Compile(step, wf)
		if err != nil {
			return nil, &errors.CompileError{
				Workflow: wf.Name,
				Step:     step.Name,
				Message:  err.Error(),
			}
		}
		g.Nodes[step.Name] = node
		g.Steps[step.Name] = step
	}

	for _, step := range wf.Steps {
		g.InDegree[step.Name] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			if dep == step.Name {
				return nil, &errors.CompileError{
					Workflow: wf.Name,
					Step:     step.Name,
					Message:  "step depends on itself; use loop_until for self-loops",
				}
			}
			if _, ok := g.Steps[dep]; !ok {
				return nil, &errors.CompileError{
					Workflow: wf.Name,
					Step:     step.Name,
					Message:  fmt.Sprintf("unknown dependency %q", dep),
				}
			}
			g.Dependents[dep] = append(g.Dependents[dep], step.Name)
		}
		if len(step.DependsOn) == 0 {
			g.Roots = append(g.Roots, step.Name)
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs Kahn's algorithm over the dependency edges. Self-loops
// are excluded by construction, so any unreachable remainder is a cycle.
func (g *Graph) checkAcyclic() error {
	indeg := make(map[string]int, len(g.InDegree))
	for name, d := range g.InDegree {
		indeg[name] = d
	}

	queue := append([]string(nil), g.Roots...)
	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range g.Dependents[name] {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(g.Steps) {
		var cyclic []string
		for name, d := range indeg {
			if d > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return &errors.CompileError{
			Workflow: g.Workflow.Name,
			Message:  fmt.Sprintf("dependency cycle involving steps %v", cyclic),
		}
	}
	return nil
}

// Terminals returns the steps no other step depends on.
func (g *Graph) Terminals() []string {
	var out []string
	for name := range g.Steps {
		if len(g.Dependents[name]) == 0 {
			out = append(out, name)
		}
	}
	return out
}
