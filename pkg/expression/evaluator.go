package expression

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates gate expressions and resolves data references against
// a run-state view. Compiled programs are cached by rewritten source, so a
// gate that is re-evaluated on every scheduling decision compiles once.
// Safe for concurrent use.
type Evaluator struct {
	cache  map[string]*vm.Program
	mu     sync.RWMutex
	logger *slog.Logger
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache:  make(map[string]*vm.Program),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for downgraded expression errors.
func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger
	return e
}

// EvaluateBool evaluates a gate expression against the root view.
//
// Each ${...} reference is resolved first and bound as a variable; the
// remainder must parse under expr-lang's restricted grammar and produce a
// boolean. Every failure mode evaluates to false: syntax errors, unknown
// identifiers, calls to anything but the coalesce handled inside ${...},
// non-boolean results, and runtime panics inside the VM. An empty
// expression is true (no gate).
func (e *Evaluator) EvaluateBool(src string, root map[string]any) bool {
	if src == "" {
		return true
	}

	rewritten, bindings := e.rewrite(src, root)

	program, err := e.compile(rewritten)
	if err != nil {
		e.logger.Warn("gate expression failed to compile, evaluating to false",
			"expression", src,
			"error", err,
		)
		return false
	}

	result, err := runSafely(program, bindings)
	if err != nil {
		e.logger.Warn("gate expression failed at runtime, evaluating to false",
			"expression", src,
			"error", err,
		)
		return false
	}

	verdict, ok := result.(bool)
	if !ok {
		e.logger.Warn("gate expression did not produce a boolean, evaluating to false",
			"expression", src,
			"result_type", fmt.Sprintf("%T", result),
		)
		return false
	}
	return verdict
}

// rewrite replaces every ${...} reference with a synthetic variable bound to
// its resolved value. The rewritten source is position-independent, so it is
// a stable cache key for a given gate.
func (e *Evaluator) rewrite(src string, root map[string]any) (string, map[string]any) {
	bindings := make(map[string]any)
	n := 0
	rewritten := placeholderRe.ReplaceAllStringFunc(src, func(m string) string {
		name := fmt.Sprintf("_ref%d", n)
		n++
		inner := m[2 : len(m)-1]
		bindings[name] = e.resolveRef(strings.TrimSpace(inner), root)
		return name
	})
	return rewritten, bindings
}

// compile compiles a rewritten expression, caching by source. Binding names
// are stable per source, so a cached program is reusable with fresh binding
// values. Variables stay untyped so the same program serves resolutions of
// differing types across evaluations.
func (e *Evaluator) compile(rewritten string) (*vm.Program, error) {
	e.mu.RLock()
	prog, ok := e.cache[rewritten]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(rewritten,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[rewritten] = prog
	e.mu.Unlock()
	return prog, nil
}

// runSafely executes a compiled program, converting VM panics into errors.
func runSafely(program *vm.Program, env map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("expression panicked: %v", r)
		}
	}()
	return expr.Run(program, env)
}

// ClearCache drops all cached programs. Mainly useful for testing.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
