// Package eval scores a completed workflow run against a rubric.
//
// Scoring is layered: an objective layer computes deterministic scores from
// the run result, an optional judge layer asks a model to grade the output
// against an anchored rubric, and an advisory layer contributes soft signals
// from text overlap and efficiency. The layers blend into a composite score,
// which hard gates and per-criterion floors can cap or zero out before it is
// mapped to a letter grade.
package eval
