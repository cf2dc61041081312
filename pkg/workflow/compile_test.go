package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/cascade-run/cascade/pkg/errors"
)

func compileSteps(t *testing.T, steps ...*Step) (*Graph, error) {
	t.Helper()
	wf := &Workflow{Name: "w", Steps: steps}
	return Compile(wf, newTestCompiler(nil))
}

func TestCompileEmptyWorkflow(t *testing.T) {
	_, err := compileSteps(t)
	require.Error(t, err)
	var cErr *cerrors.CompileError
	require.ErrorAs(t, err, &cErr)
	assert.Contains(t, cErr.Message, "no steps")
}

func TestCompileDAG(t *testing.T) {
	g, err := compileSteps(t,
		&Step{Name: "a", Agent: "tier0_x"},
		&Step{Name: "b", Agent: "tier0_x", DependsOn: []string{"a"}},
		&Step{Name: "c", Agent: "tier0_x", DependsOn: []string{"a"}},
		&Step{Name: "d", Agent: "tier0_x", DependsOn: []string{"b", "c"}},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, g.Roots)
	assert.Equal(t, 0, g.InDegree["a"])
	assert.Equal(t, 1, g.InDegree["b"])
	assert.Equal(t, 2, g.InDegree["d"])
	assert.ElementsMatch(t, []string{"b", "c"}, g.Dependents["a"])
	assert.ElementsMatch(t, []string{"d"}, g.Terminals())
}

func TestCompileMissingDependency(t *testing.T) {
	_, err := compileSteps(t,
		&Step{Name: "a", Agent: "tier0_x", DependsOn: []string{"ghost"}},
	)
	require.Error(t, err)
	var cErr *cerrors.CompileError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "a", cErr.Step)
	assert.Contains(t, cErr.Message, "ghost")
}

func TestCompileCycleRejected(t *testing.T) {
	_, err := compileSteps(t,
		&Step{Name: "a", Agent: "tier0_x", DependsOn: []string{"c"}},
		&Step{Name: "b", Agent: "tier0_x", DependsOn: []string{"a"}},
		&Step{Name: "c", Agent: "tier0_x", DependsOn: []string{"b"}},
	)
	require.Error(t, err)
	var cErr *cerrors.CompileError
	require.ErrorAs(t, err, &cErr)
	assert.Contains(t, cErr.Message, "cycle")
}

func TestCompileRejectsSelfDependency(t *testing.T) {
	_, err := compileSteps(t,
		&Step{Name: "a", Agent: "tier0_x", DependsOn: []string{"a"}},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop_until")
}

func TestCompileSelfLoopViaLoopUntilAllowed(t *testing.T) {
	g, err := compileSteps(t,
		&Step{Name: "refine", Agent: "tier0_x", LoopUntil: "${steps.refine.outputs.done} == true", LoopMax: 3},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"refine"}, g.Roots)
	// A looping step with no dependents still reaches the terminal.
	assert.ElementsMatch(t, []string{"refine"}, g.Terminals())
}

func TestCompileInvalidAgentSurfacesStep(t *testing.T) {
	_, err := compileSteps(t, &Step{Name: "a", Agent: "wizard"})
	require.Error(t, err)
	var cErr *cerrors.CompileError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "a", cErr.Step)
}
