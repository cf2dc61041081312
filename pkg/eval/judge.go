package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/cascade-run/cascade/pkg/errors"
	"github.com/cascade-run/cascade/pkg/model"
	"github.com/cascade-run/cascade/pkg/workflow"
)

// pairwiseDeltaThreshold is the forward/swapped score gap, on the 1..5
// scale, beyond which a criterion is flagged as pairwise-inconsistent.
const pairwiseDeltaThreshold = 1.0

// Judge grades a candidate output against an anchored rubric using a chat
// model. Two calls are made per evaluation, with the candidate and reference
// outputs swapped on the second, to surface position bias.
type Judge struct {
	Backend model.Backend
	Model   string
	Logger  *slog.Logger
}

// JudgeResult is the parsed outcome of a judge evaluation. Scores are on the
// raw 1..5 scale; normalization happens in the pipeline.
type JudgeResult struct {
	Scores       map[string]float64
	Evidence     map[string]string
	Inconsistent []string
}

// judgeEntry is one criterion line in the judge's response.
type judgeEntry struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Evidence string  `json:"evidence"`
}

// Evaluate runs the forward and swapped judge calls and merges them. The
// forward call's scores are authoritative; the swapped call only detects
// inconsistency.
func (j *Judge) Evaluate(ctx context.Context, candidate, reference string, criteria []*workflow.Criterion) (*JudgeResult, error) {
	if j.Backend == nil {
		return nil, &errors.ConfigError{Key: "judge.backend", Reason: "no judge backend configured"}
	}

	forward, err := j.call(ctx, candidate, reference, criteria, "forward")
	if err != nil {
		return nil, err
	}
	swapped, err := j.call(ctx, reference, candidate, criteria, "swapped")
	if err != nil {
		return nil, err
	}

	result := &JudgeResult{
		Scores:   map[string]float64{},
		Evidence: map[string]string{},
	}
	for _, c := range criteria {
		f := forward[c.Name]
		result.Scores[c.Name] = f.Score
		result.Evidence[c.Name] = f.Evidence
		if math.Abs(f.Score-swapped[c.Name].Score) > pairwiseDeltaThreshold {
			result.Inconsistent = append(result.Inconsistent, c.Name)
		}
	}
	sort.Strings(result.Inconsistent)

	if j.Logger != nil && len(result.Inconsistent) > 0 {
		j.Logger.Warn("judge pairwise inconsistency",
			slog.Any("criteria", result.Inconsistent))
	}
	return result, nil
}

// call issues one judge completion and parses it against the strict schema.
func (j *Judge) call(ctx context.Context, output, reference string, criteria []*workflow.Criterion, tag string) (map[string]judgeEntry, error) {
	prompt := j.buildPrompt(output, reference, criteria, tag)
	resp, err := j.Backend.Complete(ctx, model.CompletionRequest{
		Model: j.Model,
		Messages: []model.Message{
			{Role: model.MessageRoleSystem, Content: judgeSystemPrompt},
			{Role: model.MessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("judge call (%s): %w", tag, err)
	}
	return parseJudgeResponse(resp.Content, criteria)
}

const judgeSystemPrompt = `You are an impartial evaluator. Grade the output under evaluation against the reference on each rubric criterion using the 1-5 anchored scale. Respond with ONLY a JSON array of {"name", "score", "evidence"} objects, one per criterion.`

// buildPrompt renders the anchored rubric. Criterion order is shuffled with
// a seed derived from the call inputs so the order is stable for a given
// evaluation but differs between forward and swapped calls.
func (j *Judge) buildPrompt(output, reference string, criteria []*workflow.Criterion, tag string) string {
	names := make([]string, len(criteria))
	defs := make(map[string]string, len(criteria))
	for i, c := range criteria {
		names[i] = c.Name
		defs[c.Name] = c.Definition
	}
	rng := rand.New(rand.NewSource(stableSeed(output, reference, tag)))
	rng.Shuffle(len(names), func(a, b int) { names[a], names[b] = names[b], names[a] })

	var b strings.Builder
	b.WriteString("Rubric criteria (score each 1-5):\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, defs[name])
	}
	b.WriteString(`
Scale anchors:
1 = unacceptable, fails the criterion entirely
2 = poor, major gaps
3 = adequate, meets the criterion with notable issues
4 = good, minor issues only
5 = excellent, fully satisfies the criterion

`)
	fmt.Fprintf(&b, "Output under evaluation:\n%s\n\nReference output:\n%s\n", output, reference)
	b.WriteString("\nReturn a JSON array with exactly one entry per criterion.")
	return b.String()
}

// stableSeed hashes the call inputs into a deterministic shuffle seed.
func stableSeed(parts ...string) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return int64(h.Sum64())
}

// parseJudgeResponse enforces the strict response schema: a JSON array of
// {name, score, evidence} entries covering every expected criterion, with
// each score in [1, 5].
func parseJudgeResponse(content string, criteria []*workflow.Criterion) (map[string]judgeEntry, error) {
	var entries []judgeEntry
	if err := json.Unmarshal([]byte(content), &entries); err != nil {
		// The array may be wrapped in prose; retry on the outermost
		// bracketed slice.
		start := strings.Index(content, "[")
		end := strings.LastIndex(content, "]")
		if start < 0 || end <= start {
			return nil, &errors.ValidationError{
				Field:   "judge.response",
				Message: "response is not a JSON array",
			}
		}
		if err := json.Unmarshal([]byte(content[start:end+1]), &entries); err != nil {
			return nil, &errors.ValidationError{
				Field:   "judge.response",
				Message: fmt.Sprintf("response does not parse: %v", err),
			}
		}
	}

	byName := make(map[string]judgeEntry, len(entries))
	for _, e := range entries {
		if e.Score < 1 || e.Score > 5 {
			return nil, &errors.ValidationError{
				Field:   "judge.response",
				Message: fmt.Sprintf("criterion %q score %v outside [1, 5]", e.Name, e.Score),
			}
		}
		byName[e.Name] = e
	}
	for _, c := range criteria {
		e, ok := byName[c.Name]
		if !ok {
			return nil, &errors.ValidationError{
				Field:   "judge.response",
				Message: fmt.Sprintf("criterion %q missing from response", c.Name),
			}
		}
		if c.EvidenceRequired && strings.TrimSpace(e.Evidence) == "" {
			return nil, &errors.ValidationError{
				Field:   "judge.response",
				Message: fmt.Sprintf("criterion %q requires evidence", c.Name),
			}
		}
	}
	return byName, nil
}
