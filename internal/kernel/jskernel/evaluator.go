// Package jskernel provides the built-in ECMAScript kernel evaluator,
// backed by goja. One evaluator owns one persistent global environment;
// the adapter task loop drives it strictly sequentially.
package jskernel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/kernos-ai/kernos/internal/schema"
	"github.com/kernos-ai/kernos/internal/version"
)

// Evaluator is a goja-backed implementation of kernel.Evaluator.
type Evaluator struct {
	vm         *goja.Runtime
	baseline   map[string]struct{} // globals present before any user code
	restricted atomic.Bool
	pending    []schema.ExecutionMessage // console output gathered during one evaluation
}

// New builds a fresh evaluator with the host API and console installed.
func New() (*Evaluator, error) {
	e := &Evaluator{vm: goja.New()}

	if err := e.installConsole(); err != nil {
		return nil, fmt.Errorf("jskernel: install console: %w", err)
	}
	if err := e.installHostAPI(); err != nil {
		return nil, fmt.Errorf("jskernel: install host API: %w", err)
	}

	e.baseline = make(map[string]struct{})
	for _, key := range e.vm.GlobalObject().Keys() {
		e.baseline[key] = struct{}{}
	}
	return e, nil
}

// Info implements kernel.Evaluator.
func (e *Evaluator) Info() schema.RuntimeInfo {
	return schema.NewRuntimeInfo("js", version.String(), runtime.GOOS)
}

// Packages reports the compiled-in host modules; the embedded engine has
// no external library installation mechanism.
func (e *Evaluator) Packages(ctx context.Context) ([]schema.PackageInfo, error) {
	return []schema.PackageInfo{
		schema.NewPackageInfo("console", version.String()),
		schema.NewPackageInfo("fs", version.String()),
		schema.NewPackageInfo("net", version.String()),
		schema.NewPackageInfo("proc", version.String()),
	}, nil
}

// Execute implements kernel.Evaluator. The value of the final statement
// is only reported when the trailing line is visible per REPL rules.
func (e *Evaluator) Execute(ctx context.Context, lines []string) (schema.Node, []schema.ExecutionMessage) {
	e.pending = nil
	src := strings.Join(lines, "\n")

	prog, err := goja.Compile("exec", src, false)
	if err != nil {
		return nil, append(e.takePending(), syntaxMessage(err))
	}

	value, err := e.vm.RunProgram(prog)
	if err != nil {
		return nil, append(e.takePending(), e.runtimeMessage(err))
	}

	if !lastLineVisible(lines) || isUnreportable(value) {
		return nil, e.takePending()
	}
	return e.export(value), e.takePending()
}

// Evaluate implements kernel.Evaluator: a single expression whose value
// is always reported.
func (e *Evaluator) Evaluate(ctx context.Context, expression string) (schema.Node, []schema.ExecutionMessage) {
	e.pending = nil

	// Parenthesised so object literals parse as expressions, not blocks.
	value, err := e.vm.RunString("(" + expression + "\n)")
	if err != nil {
		var syntax *goja.CompilerSyntaxError
		if errors.As(err, &syntax) {
			return nil, append(e.takePending(), syntaxMessage(err))
		}
		return nil, append(e.takePending(), e.runtimeMessage(err))
	}
	return e.export(value), e.takePending()
}

// Variables implements kernel.Evaluator, excluding the protocol-internal
// baseline bindings (console, host modules, engine built-ins).
func (e *Evaluator) Variables(ctx context.Context) ([]schema.Variable, error) {
	global := e.vm.GlobalObject()
	var names []string
	for _, key := range global.Keys() {
		if _, builtin := e.baseline[key]; builtin {
			continue
		}
		names = append(names, key)
	}
	sort.Strings(names)

	vars := make([]schema.Variable, 0, len(names))
	for _, name := range names {
		value := global.Get(name)
		node := e.export(value)
		vars = append(vars, schema.NewVariable(name, nativeTypeOf(value), nodeTypeOf(node), schema.HintFor(node)))
	}
	return vars, nil
}

// Lookup implements kernel.Evaluator. Unbound names are not an error.
func (e *Evaluator) Lookup(ctx context.Context, name string) (schema.Node, bool, error) {
	global := e.vm.GlobalObject()
	value := global.Get(name)
	if value == nil || goja.IsUndefined(value) {
		return nil, false, nil
	}
	return e.export(value), true, nil
}

// Assign implements kernel.Evaluator.
func (e *Evaluator) Assign(ctx context.Context, name string, value schema.Node) error {
	if err := e.vm.GlobalObject().Set(name, schema.ToGoValue(value)); err != nil {
		return fmt.Errorf("jskernel: assign %s: %w", name, err)
	}
	return nil
}

// Delete implements kernel.Evaluator.
func (e *Evaluator) Delete(ctx context.Context, name string) error {
	if err := e.vm.GlobalObject().Delete(name); err != nil {
		return fmt.Errorf("jskernel: delete %s: %w", name, err)
	}
	return nil
}

// Interrupt aborts the evaluation currently running in the VM.
func (e *Evaluator) Interrupt() {
	e.vm.Interrupt(errInterrupted)
}

// Restrict implements kernel.Evaluator. The flag lives on the Go side of
// every capability function, so guest code cannot revoke it.
func (e *Evaluator) Restrict() error {
	e.restricted.Store(true)
	return nil
}

var errInterrupted = errors.New("execution interrupted")

// takePending drains console output collected during the last evaluation.
func (e *Evaluator) takePending() []schema.ExecutionMessage {
	msgs := e.pending
	e.pending = nil
	return msgs
}

func (e *Evaluator) export(value goja.Value) schema.Node {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return schema.Null{}
	}
	node, err := schema.FromGoValue(value.Export())
	if err != nil {
		// Functions and exotic objects fall back to their display string.
		return schema.String(value.String())
	}
	return node
}

func (e *Evaluator) runtimeMessage(err error) schema.ExecutionMessage {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		e.vm.ClearInterrupt()
		return schema.ErrorMessage(schema.ErrorKindInterrupt, "execution was interrupted")
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		message := exception.Error()
		kind := schema.ErrorKindRuntime
		if strings.Contains(message, permissionDeniedPrefix) {
			kind = schema.ErrorKindPermissionDenied
		}
		return schema.ErrorMessageWithTrace(kind, message, exception.String())
	}
	return schema.ErrorMessage(schema.ErrorKindRuntime, err.Error())
}

func syntaxMessage(err error) schema.ExecutionMessage {
	return schema.ErrorMessage(schema.ErrorKindSyntax, err.Error())
}

// isUnreportable filters values that a REPL would not print.
func isUnreportable(value goja.Value) bool {
	return value == nil || goja.IsUndefined(value)
}

func nativeTypeOf(value goja.Value) string {
	if value == nil || goja.IsUndefined(value) {
		return "undefined"
	}
	if goja.IsNull(value) {
		return "null"
	}
	switch value.Export().(type) {
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "Array"
	case map[string]any:
		return "Object"
	default:
		return "object"
	}
}

func nodeTypeOf(node schema.Node) schema.NodeType {
	if node == nil {
		return schema.NodeTypeNull
	}
	return node.NodeType()
}
