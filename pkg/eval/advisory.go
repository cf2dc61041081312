package eval

import (
	"github.com/cascade-run/cascade/pkg/workflow"
)

// Advisory blend weights: overlap similarity dominates, efficiency softens
// it.
const (
	advisoryOverlapWeight    = 0.67
	advisoryEfficiencyWeight = 0.33
)

// AdvisoryResult carries the soft signals that feed the advisory layer.
type AdvisoryResult struct {
	Overlap    float64 `json:"overlap"`
	Efficiency float64 `json:"efficiency"`
	Score      float64 `json:"score"`
}

// advise computes the advisory layer: text overlap against the expected
// output blended with run efficiency. Without a sample only efficiency
// contributes.
func advise(result *workflow.Result, sample *Sample, opts *Options) *AdvisoryResult {
	a := &AdvisoryResult{
		Efficiency: scoreEfficiency(result, sample, opts) / 100,
	}
	if sample != nil && sample.Expected != "" {
		a.Overlap = TokenOverlap(candidateText(result), sample.Expected)
		a.Score = advisoryOverlapWeight*a.Overlap + advisoryEfficiencyWeight*a.Efficiency
	} else {
		a.Score = a.Efficiency
	}
	return a
}
