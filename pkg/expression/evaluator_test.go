package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateBoolEmptyIsTrue(t *testing.T) {
	assert.True(t, New().EvaluateBool("", testRoot()))
}

func TestEvaluateBoolComparisons(t *testing.T) {
	e := New()
	root := testRoot()

	tests := []struct {
		expr string
		want bool
	}{
		{"${steps.review.outputs.approved} == true", true},
		{"${steps.review.outputs.approved}", true},
		{"${steps.review.outputs.score} >= 8.0", true},
		{"${steps.review.outputs.score} > 9", false},
		{"${inputs.count} in [1, 2, 3]", true},
		{"${steps.review.status} == 'success'", true},
		{"${steps.draft.status} != 'skipped'", false},
		{"${inputs.topic} == 'caching' && ${inputs.count} < 5", true},
		{"${inputs.topic} == 'caching' || false", true},
		{"!(${steps.review.outputs.approved})", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.EvaluateBool(tt.expr, root), "expr %q", tt.expr)
	}
}

func TestEvaluateBoolMissingReferenceIsFalse(t *testing.T) {
	e := New()
	root := testRoot()

	// A missing path binds nil; comparisons against nil do not hold.
	assert.False(t, e.EvaluateBool("${steps.nope.outputs.x} == true", root))
	assert.False(t, e.EvaluateBool("${steps.nope.outputs.x} > 3", root))
	assert.False(t, e.EvaluateBool("${steps.nope.outputs.x}", root))
}

func TestEvaluateBoolFailsClosed(t *testing.T) {
	e := New()
	root := testRoot()

	// Syntax errors, non-boolean results, and disallowed constructs all
	// evaluate to false without raising.
	tests := []string{
		"${inputs.count} ==",
		"${inputs.count}",
		"'just a string'",
		"unknownFunc(1, 2)",
		"${inputs.topic}.Method()",
		"import os",
		"while true {}",
		"${inputs.count} / 0 == 1",
	}
	for _, src := range tests {
		assert.NotPanics(t, func() {
			assert.False(t, e.EvaluateBool(src, root), "expr %q", src)
		})
	}
}

func TestEvaluateBoolCoalesceInGate(t *testing.T) {
	e := New()
	root := testRoot()

	assert.True(t, e.EvaluateBool("${coalesce(steps.missing.outputs.ok, steps.review.outputs.approved)} == true", root))
}

func TestCompileCacheReuse(t *testing.T) {
	e := New()
	root := testRoot()

	assert.Equal(t, 0, e.CacheSize())
	e.EvaluateBool("${steps.review.outputs.score} >= 8.0", root)
	assert.Equal(t, 1, e.CacheSize())

	// Same gate shape compiles once even with a different resolved value.
	root["steps"].(map[string]any)["review"].(map[string]any)["outputs"].(map[string]any)["score"] = 2
	assert.False(t, e.EvaluateBool("${steps.review.outputs.score} >= 8.0", root))
	assert.Equal(t, 1, e.CacheSize())

	// A cached program tolerates the binding changing type across runs.
	root["steps"].(map[string]any)["review"].(map[string]any)["outputs"].(map[string]any)["score"] = "not a number"
	assert.False(t, e.EvaluateBool("${steps.review.outputs.score} >= 8.0", root))

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}

func TestEvaluateBoolConcurrent(t *testing.T) {
	e := New()
	root := testRoot()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				e.EvaluateBool("${inputs.count} in [1, 2, 3]", root)
				e.EvaluateBool("${steps.review.status} == 'success'", root)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
