package eval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cascade-run/cascade/pkg/workflow"
)

// Default latency objective for the efficiency scorer, in seconds. A run at
// or under the good bound scores full marks; at or over the bad bound it
// scores zero.
const (
	defaultSLOGoodSeconds = 30.0
	defaultSLOBadSeconds  = 300.0
)

// objectiveScorer computes a raw criterion score in [0, 100] from the run
// result and the optional dataset sample.
type objectiveScorer func(result *workflow.Result, sample *Sample, opts *Options) float64

// objectiveScorers maps criterion names to built-in scorers. Criteria without
// a scorer are left to the judge and advisory layers.
var objectiveScorers = map[string]objectiveScorer{
	CriterionCorrectness:       scoreCorrectness,
	CriterionCorrectnessRubric: scoreCorrectness,
	CriterionCodeQuality:       scoreCodeQuality,
	CriterionSafetyValidation:  scoreCodeQuality,
	CriterionValidation:        scoreCodeQuality,
	CriterionEfficiency:        scoreEfficiency,
	CriterionDocumentation:     scoreDocumentation,
}

// scoreCorrectness blends the step success rate with token overlap against
// the expected text, 70/30. Without an expected text the success rate stands
// alone.
func scoreCorrectness(result *workflow.Result, sample *Sample, _ *Options) float64 {
	rate := successRate(result)
	if sample == nil || sample.Expected == "" {
		return rate * 100
	}
	overlap := TokenOverlap(candidateText(result), sample.Expected)
	return (0.7*rate + 0.3*overlap) * 100
}

// scoreCodeQuality starts from the non-failed step ratio and charges five
// points per model retry.
func scoreCodeQuality(result *workflow.Result, _ *Sample, _ *Options) float64 {
	executed, failed := stepCounts(result)
	if executed == 0 {
		return 0
	}
	raw := 100 * (1 - float64(failed)/float64(executed))
	raw -= 5 * float64(retryCount(result))
	if raw < 0 {
		return 0
	}
	return raw
}

// scoreEfficiency maps wall-clock seconds onto the latency objective and
// charges three points per retry.
func scoreEfficiency(result *workflow.Result, _ *Sample, opts *Options) float64 {
	good, bad := defaultSLOGoodSeconds, defaultSLOBadSeconds
	if opts != nil && opts.SLOBadSeconds > opts.SLOGoodSeconds && opts.SLOBadSeconds > 0 {
		good, bad = opts.SLOGoodSeconds, opts.SLOBadSeconds
	}
	raw := 100 * LowerIsBetter{Good: good, Bad: bad}.Normalize(result.ElapsedSeconds)
	raw -= 3 * float64(retryCount(result))
	if raw < 0 {
		return 0
	}
	return raw
}

// scoreDocumentation rewards substantive output: score saturates as the
// combined output text grows, with a bonus for structured (multi-key)
// results.
func scoreDocumentation(result *workflow.Result, _ *Sample, _ *Options) float64 {
	text := candidateText(result)
	words := len(strings.Fields(text))
	raw := float64(words) / 2
	if raw > 80 {
		raw = 80
	}
	if len(result.Outputs) > 1 {
		raw += 20
	}
	if raw > 100 {
		return 100
	}
	return raw
}

// successRate is the fraction of scheduled (non-skipped) steps that
// succeeded. Validation-mode steps count as successes.
func successRate(result *workflow.Result) float64 {
	executed, failed := stepCounts(result)
	if executed == 0 {
		return 0
	}
	return float64(executed-failed) / float64(executed)
}

func stepCounts(result *workflow.Result) (executed, failed int) {
	for _, st := range result.Steps {
		switch st.Status {
		case workflow.StatusSuccess, workflow.StatusValidation:
			executed++
		case workflow.StatusFailed:
			executed++
			failed++
		}
	}
	return executed, failed
}

// retryCount totals the failed model attempts across all steps.
func retryCount(result *workflow.Result) int {
	var n int
	for _, st := range result.Steps {
		if st.Metadata == nil {
			continue
		}
		for _, a := range st.Metadata.Attempts {
			if a.Error != "" {
				n++
			}
		}
	}
	return n
}

// candidateText flattens the workflow outputs into a single text blob for
// overlap scoring. Scalar values print bare; structured values print as
// JSON.
func candidateText(result *workflow.Result) string {
	var parts []string
	for _, key := range sortedKeys(result.Outputs) {
		v := result.Outputs[key]
		if v == nil {
			continue
		}
		switch v := v.(type) {
		case string:
			parts = append(parts, v)
		default:
			if b, err := json.Marshal(v); err == nil {
				parts = append(parts, string(b))
			} else {
				parts = append(parts, fmt.Sprintf("%v", v))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// TokenOverlap returns the fraction of expected tokens that appear in the
// candidate, in [0, 1]. Tokens compare case-insensitively.
func TokenOverlap(candidate, expected string) float64 {
	want := strings.Fields(strings.ToLower(expected))
	if len(want) == 0 {
		return 0
	}
	have := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(candidate)) {
		have[tok] = true
	}
	var hits int
	for _, tok := range want {
		if have[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}
