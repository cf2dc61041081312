package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/cascade-run/cascade/pkg/errors"
	"github.com/cascade-run/cascade/pkg/model"
	"github.com/cascade-run/cascade/pkg/workflow"
)

// queuedBackend pops canned responses in call order and records prompts.
type queuedBackend struct {
	responses []string
	prompts   []string
}

func (q *queuedBackend) Name() string { return "stub" }

func (q *queuedBackend) Complete(ctx context.Context, req model.CompletionRequest) (*model.CompletionResponse, error) {
	q.prompts = append(q.prompts, req.Messages[len(req.Messages)-1].Content)
	if len(q.responses) == 0 {
		return &model.CompletionResponse{Content: "[]"}, nil
	}
	content := q.responses[0]
	q.responses = q.responses[1:]
	return &model.CompletionResponse{Content: content}, nil
}

func judgeCriteria() []*workflow.Criterion {
	return []*workflow.Criterion{
		{Name: "correctness", Definition: "matches the reference", Weight: 0.6},
		{Name: "clarity", Definition: "well organized", Weight: 0.4},
	}
}

func TestJudgeEvaluateForwardAndSwapped(t *testing.T) {
	backend := &queuedBackend{responses: []string{
		`[{"name":"correctness","score":4,"evidence":"close match"},{"name":"clarity","score":5,"evidence":"clean"}]`,
		`[{"name":"correctness","score":2,"evidence":""},{"name":"clarity","score":5,"evidence":""}]`,
	}}
	j := &Judge{Backend: backend, Model: "judge-1"}

	result, err := j.Evaluate(context.Background(), "candidate text", "reference text", judgeCriteria())
	require.NoError(t, err)
	require.Len(t, backend.prompts, 2)

	// Forward scores win; the swapped call only detects inconsistency.
	assert.InDelta(t, 4, result.Scores["correctness"], 1e-9)
	assert.InDelta(t, 5, result.Scores["clarity"], 1e-9)
	assert.Equal(t, "close match", result.Evidence["correctness"])
	assert.Equal(t, []string{"correctness"}, result.Inconsistent)

	// The swapped call presents the outputs in reverse order.
	assert.Contains(t, backend.prompts[0], "Output under evaluation:\ncandidate text")
	assert.Contains(t, backend.prompts[1], "Output under evaluation:\nreference text")
}

func TestJudgePromptShuffleIsStable(t *testing.T) {
	j := &Judge{}
	p1 := j.buildPrompt("out", "ref", judgeCriteria(), "forward")
	p2 := j.buildPrompt("out", "ref", judgeCriteria(), "forward")
	assert.Equal(t, p1, p2, "same inputs produce the same criterion order")
}

func TestParseJudgeResponseStrictSchema(t *testing.T) {
	criteria := judgeCriteria()

	// Prose-wrapped arrays still parse.
	wrapped := `Here you go: [{"name":"correctness","score":3,"evidence":"e"},{"name":"clarity","score":4,"evidence":"e"}] hope that helps`
	entries, err := parseJudgeResponse(wrapped, criteria)
	require.NoError(t, err)
	assert.InDelta(t, 3, entries["correctness"].Score, 1e-9)

	cases := []struct {
		name    string
		content string
	}{
		{"not json", "I would rate this highly"},
		{"score out of range", `[{"name":"correctness","score":6,"evidence":"e"},{"name":"clarity","score":4,"evidence":"e"}]`},
		{"missing criterion", `[{"name":"correctness","score":3,"evidence":"e"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseJudgeResponse(tc.content, criteria)
			var vErr *cerrors.ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}
}

func TestParseJudgeResponseEvidenceRequired(t *testing.T) {
	criteria := []*workflow.Criterion{
		{Name: "correctness", Weight: 1.0, EvidenceRequired: true},
	}
	_, err := parseJudgeResponse(`[{"name":"correctness","score":4,"evidence":"  "}]`, criteria)
	var vErr *cerrors.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "evidence")
}

func TestJudgeWithoutBackend(t *testing.T) {
	j := &Judge{}
	_, err := j.Evaluate(context.Background(), "a", "b", judgeCriteria())
	var cfgErr *cerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
