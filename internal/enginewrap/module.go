package enginewrap

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"
)

// moduleBaseURL is the synthetic origin every module specifier is
// qualified against before it is sent as a resource-request payload (spec
// §4.3: "prepending a synthetic base URL so all specifiers become fully
// qualified"). It is never dereferenced over the network here — module
// source is fetched entirely through the resource-request bridge, the same
// as any other host-mediated I/O; this is a reserved prefix (see
// DESIGN.md), not a real endpoint. Matches the original implementation's
// own base (_examples/original_source/src/modules.rs).
const moduleBaseURL = "https://isolator/"

var (
	importDefaultRe = regexp.MustCompile(`(?m)^\s*import\s+(\w+)\s+from\s+['"]([^'"]+)['"]\s*;?\s*$`)
	exportDefaultRe = regexp.MustCompile(`(?m)^\s*export\s+default\s+`)
)

// moduleEvaluator implements the minimal ESM-subset-to-CommonJS transform
// described in DESIGN.md ("Minimal ESM-subset module evaluator"): it supports exactly the two forms spec.md's
// own end-to-end scenario exercises (`import NAME from 'SPECIFIER';` and
// `export default EXPR;`), evaluated against a goja.Runtime that otherwise
// only understands plain scripts. It is not a conformant module linker; see
// DESIGN.md for why that tradeoff was made.
type moduleEvaluator struct {
	rt      *goja.Runtime
	fetch   func(specifier string) (string, error)
	cache   map[string]goja.Value
	loading map[string]bool
}

func newModuleEvaluator(rt *goja.Runtime, fetch func(specifier string) (string, error)) *moduleEvaluator {
	return &moduleEvaluator{
		rt:      rt,
		fetch:   fetch,
		cache:   make(map[string]goja.Value),
		loading: make(map[string]bool),
	}
}

// EvaluateEntry runs the top-level script source, transforming any
// recognized import/export-default statements, and returns its default
// export (or undefined, if the script doesn't export one).
func (m *moduleEvaluator) EvaluateEntry(source string) (goja.Value, error) {
	return m.evaluate("<entry>", source)
}

func (m *moduleEvaluator) evaluate(specifier, source string) (goja.Value, error) {
	if v, ok := m.cache[specifier]; ok {
		return v, nil
	}
	if m.loading[specifier] {
		return nil, &ErrModuleLoad{Specifier: specifier, Err: fmt.Errorf("circular import")}
	}
	m.loading[specifier] = true
	defer delete(m.loading, specifier)

	transformed, err := m.transform(source)
	if err != nil {
		return nil, &ErrModuleLoad{Specifier: specifier, Err: err}
	}

	wrapped := "(function(module, exports, __require) {\n" + transformed + "\nreturn module.exports;\n})"
	prog, err := goja.Compile(specifier, wrapped, false)
	if err != nil {
		return nil, &ErrModuleLoad{Specifier: specifier, Err: err}
	}
	fnVal, err := m.rt.RunProgram(prog)
	if err != nil {
		return nil, &ErrModuleLoad{Specifier: specifier, Err: err}
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, &ErrModuleLoad{Specifier: specifier, Err: fmt.Errorf("internal: module wrapper did not compile to a function")}
	}

	moduleObj := m.rt.NewObject()
	_ = moduleObj.Set("exports", m.rt.NewObject())
	requireFn := func(call goja.FunctionCall) goja.Value {
		dep := call.Argument(0).String()
		resolved, err := m.resolveAndLoad(dep)
		if err != nil {
			panic(m.rt.NewGoError(err))
		}
		return resolved
	}

	result, err := fn(goja.Undefined(), moduleObj, moduleObj.Get("exports"), m.rt.ToValue(requireFn))
	if err != nil {
		return nil, &ErrModuleLoad{Specifier: specifier, Err: err}
	}
	m.cache[specifier] = result
	return result, nil
}

func (m *moduleEvaluator) resolveAndLoad(specifier string) (goja.Value, error) {
	source, err := m.fetch(specifier)
	if err != nil {
		return nil, &ErrModuleLoad{Specifier: specifier, Err: err}
	}
	return m.evaluate(specifier, source)
}

// transform rewrites the two supported ESM-subset forms into CommonJS. Any
// other import/export syntax is left as-is and will surface as a goja
// SyntaxError, which evaluate wraps in an ErrModuleLoad (classifyGojaError
// passes that through unchanged) — this
// evaluator deliberately does not attempt to support the full module
// grammar.
func (m *moduleEvaluator) transform(source string) (string, error) {
	out := importDefaultRe.ReplaceAllString(source, `var $1 = __require("$2");`)
	out = exportDefaultRe.ReplaceAllStringFunc(out, func(string) string {
		return "module.exports = "
	})
	if strings.Contains(out, "export ") && !strings.Contains(out, "module.exports") {
		return "", fmt.Errorf("unsupported export form (only 'export default EXPR;' is supported)")
	}
	return out, nil
}
