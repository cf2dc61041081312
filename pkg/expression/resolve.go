package expression

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// placeholderRe matches ${...} references embedded in strings.
var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveValue resolves a source string against the root view.
//
// Three cases:
//   - no ${...} present: the string is returned verbatim (a literal)
//   - the whole string is a single ${...}: the resolved value is returned
//     with its original type (map, slice, number, bool, nil)
//   - mixed text and references: each reference is stringified in place;
//     nil resolutions render as the empty string
func (e *Evaluator) ResolveValue(src string, root map[string]any) any {
	matches := placeholderRe.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src
	}

	// Whole-string reference keeps the value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(src) {
		return e.resolveRef(strings.TrimSpace(src[matches[0][2]:matches[0][3]]), root)
	}

	return placeholderRe.ReplaceAllStringFunc(src, func(m string) string {
		inner := strings.TrimSpace(m[2 : len(m)-1])
		val := e.resolveRef(inner, root)
		if val == nil {
			return ""
		}
		return fmt.Sprintf("%v", val)
	})
}

// resolveRef resolves the inside of a ${...} reference: either a dotted path
// or a coalesce(path, path, ...) call returning the first non-nil resolution.
func (e *Evaluator) resolveRef(ref string, root map[string]any) any {
	if inner, ok := coalesceArgs(ref); ok {
		for _, arg := range inner {
			if v := resolvePath(arg, root); v != nil {
				return v
			}
		}
		return nil
	}
	return resolvePath(ref, root)
}

// coalesceArgs extracts the arguments of a coalesce(...) reference.
// Returns ok=false when the reference is a plain path.
func coalesceArgs(ref string) ([]string, bool) {
	if !strings.HasPrefix(ref, "coalesce(") || !strings.HasSuffix(ref, ")") {
		return nil, false
	}
	body := ref[len("coalesce(") : len(ref)-1]
	parts := strings.Split(body, ",")
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, p)
		}
	}
	return args, true
}

// resolvePath walks a dotted path through nested mappings. A nil anywhere
// along the way short-circuits to nil. Struct fields are reachable by name
// for callers that expose typed records in the view.
func resolvePath(path string, root map[string]any) any {
	var current any = root
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil
		}
		current = index(current, part)
		if current == nil {
			return nil
		}
	}
	return current
}

// index looks up one path segment on the current node.
func index(node any, key string) any {
	switch v := node.(type) {
	case map[string]any:
		return v[key]
	case map[string]string:
		if s, ok := v[key]; ok {
			return s
		}
		return nil
	}

	// Structured records: exported field access by name, maps with
	// non-any value types via reflection.
	rv := reflect.ValueOf(node)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return index(rv.Elem().Interface(), key)
	case reflect.Map:
		mv := rv.MapIndex(reflect.ValueOf(key))
		if !mv.IsValid() {
			return nil
		}
		return mv.Interface()
	case reflect.Struct:
		fv := rv.FieldByName(key)
		if !fv.IsValid() || !fv.CanInterface() {
			return nil
		}
		return fv.Interface()
	default:
		return nil
	}
}
