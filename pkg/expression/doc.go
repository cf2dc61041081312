// Package expression implements the ${path} reference sublanguage used for
// workflow data flow and gating.
//
// A reference like ${steps.review.outputs.approved} resolves against a root
// view exposing inputs, steps.<name>.outputs.<key>, steps.<name>.status, and
// context.<key>. Gate expressions combine substituted references with a
// restricted boolean grammar evaluated by expr-lang.
//
// The evaluator fails closed: a syntax error, a disallowed construct, or a
// runtime error yields false for gates and nil for data resolution. A path
// that walks through a missing key short-circuits to nil rather than raising.
package expression
