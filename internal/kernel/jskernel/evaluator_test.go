package jskernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kernos-ai/kernos/internal/schema"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := New()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	return e
}

func marshalNode(t *testing.T, n schema.Node) string {
	t.Helper()
	b, err := schema.MarshalNode(n)
	if err != nil {
		t.Fatalf("marshal node: %v", err)
	}
	return string(b)
}

func TestEvaluateExpression(t *testing.T) {
	e := newEvaluator(t)
	node, msgs := e.Evaluate(context.Background(), "6 * 7")
	if len(msgs) != 0 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if node != schema.Integer(42) {
		t.Fatalf("expected 42, got %#v", node)
	}
}

func TestEvaluateObjectLiteral(t *testing.T) {
	e := newEvaluator(t)
	// Bare object literals parse as blocks in statement position. Evaluate
	// must still yield the object.
	node, msgs := e.Evaluate(context.Background(), `{a: 1, b: "two"}`)
	if len(msgs) != 0 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	obj, ok := node.(schema.Object)
	if !ok {
		t.Fatalf("expected Object, got %#v", node)
	}
	if v, _ := obj.Get("a"); v != schema.Integer(1) {
		t.Fatalf("unexpected a: %#v", v)
	}
}

func TestExecutePersistsState(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	node, msgs := e.Execute(ctx, []string{"let total = 0"})
	if node != nil || len(msgs) != 0 {
		t.Fatalf("declaration should be silent, got %#v %+v", node, msgs)
	}

	node, msgs = e.Execute(ctx, []string{"total += 40", "total + 2"})
	if len(msgs) != 0 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if node != schema.Integer(42) {
		t.Fatalf("expected 42, got %#v", node)
	}
}

func TestExecuteSuppressesAssignmentResults(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	cases := [][]string{
		{"var x = 1"},
		{"let y = 2", "y = 3"},
		{"y++"},
		{"// just a comment"},
		{""},
	}
	for _, lines := range cases {
		if node, _ := e.Execute(ctx, lines); node != nil {
			t.Errorf("Execute(%q) reported %#v, want suppressed", lines, node)
		}
	}

	if node, _ := e.Execute(ctx, []string{"x == 1"}); node != schema.Boolean(true) {
		t.Errorf("comparison should be visible, got %#v", node)
	}
}

func TestConsoleOutputBecomesMessages(t *testing.T) {
	e := newEvaluator(t)
	node, msgs := e.Execute(context.Background(), []string{`console.log("hello", 42)`, `console.warn("careful")`})
	if node != nil {
		t.Fatalf("console calls should not produce a value, got %#v", node)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %+v", msgs)
	}
	if msgs[0].Level != schema.LevelInfo || msgs[0].Message != "hello 42" {
		t.Fatalf("unexpected log message: %+v", msgs[0])
	}
	if msgs[1].Level != schema.LevelWarning || msgs[1].Message != "careful" {
		t.Fatalf("unexpected warn message: %+v", msgs[1])
	}
}

func TestSyntaxErrorsAreRecoverable(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	node, msgs := e.Execute(ctx, []string{"let let let"})
	if node != nil || len(msgs) != 1 || msgs[0].ErrorType != schema.ErrorKindSyntax {
		t.Fatalf("expected a SyntaxError message, got %#v %+v", node, msgs)
	}

	// The environment survives the failed task.
	if node, _ := e.Evaluate(ctx, "1 + 1"); node != schema.Integer(2) {
		t.Fatalf("evaluator did not survive the syntax error: %#v", node)
	}
}

func TestRuntimeErrorsCarryStackTraces(t *testing.T) {
	e := newEvaluator(t)
	_, msgs := e.Evaluate(context.Background(), `(function boom() { throw new Error("kaput") })()`)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %+v", msgs)
	}
	if msgs[0].ErrorType != schema.ErrorKindRuntime {
		t.Fatalf("expected RuntimeError, got %+v", msgs[0])
	}
	if msgs[0].StackTrace == "" {
		t.Fatal("expected a stack trace")
	}
}

func TestInterruptAbortsInfiniteLoop(t *testing.T) {
	e := newEvaluator(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		e.Interrupt()
	}()

	done := make(chan []schema.ExecutionMessage, 1)
	go func() {
		_, msgs := e.Execute(context.Background(), []string{"while (true) {}"})
		done <- msgs
	}()

	select {
	case msgs := <-done:
		if len(msgs) != 1 || msgs[0].ErrorType != schema.ErrorKindInterrupt {
			t.Fatalf("expected an Interrupt message, got %+v", msgs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not abort the loop")
	}

	// The VM is usable again after the interrupt is cleared.
	if node, _ := e.Evaluate(context.Background(), "2 + 2"); node != schema.Integer(4) {
		t.Fatalf("evaluator did not recover after interrupt: %#v", node)
	}
}

func TestVariablesExcludeBuiltins(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	vars, err := e.Variables(ctx)
	if err != nil {
		t.Fatalf("variables: %v", err)
	}
	if len(vars) != 0 {
		t.Fatalf("fresh evaluator should report no variables, got %+v", vars)
	}

	e.Execute(ctx, []string{"var nums = [3, 1, 2]", "var label = 'hi'"})
	vars, err = e.Variables(ctx)
	if err != nil {
		t.Fatalf("variables: %v", err)
	}
	if len(vars) != 2 {
		t.Fatalf("expected 2 variables, got %+v", vars)
	}
	if vars[0].Name != "label" || vars[0].NodeType != schema.NodeTypeString {
		t.Fatalf("unexpected first variable: %+v", vars[0])
	}
	if vars[1].Name != "nums" || vars[1].NodeType != schema.NodeTypeArray {
		t.Fatalf("unexpected second variable: %+v", vars[1])
	}
	hint, ok := vars[1].Hint.(*schema.ArrayHint)
	if !ok {
		t.Fatalf("expected an ArrayHint for nums, got %#v", vars[1].Hint)
	}
	if hint.Length != 3 || hint.Minimum == nil || *hint.Minimum != 1 {
		t.Fatalf("unexpected hint: %+v", hint)
	}
}

func TestLookupAssignDelete(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	if _, ok, err := e.Lookup(ctx, "ghost"); err != nil || ok {
		t.Fatalf("lookup of unbound name: ok=%v err=%v", ok, err)
	}

	if err := e.Assign(ctx, "config", schema.Object{Entries: []schema.ObjectEntry{
		{Key: "retries", Value: schema.Integer(3)},
	}}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// The assigned value is visible to guest code.
	if node, _ := e.Evaluate(ctx, "config.retries"); node != schema.Integer(3) {
		t.Fatalf("guest cannot see assigned value: %#v", node)
	}

	node, ok, err := e.Lookup(ctx, "config")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if got := marshalNode(t, node); got != `{"retries":3}` {
		t.Fatalf("unexpected lookup value: %s", got)
	}

	if err := e.Delete(ctx, "config"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := e.Lookup(ctx, "config"); ok {
		t.Fatal("variable survived deletion")
	}
	// Deleting an unbound name is not an error.
	if err := e.Delete(ctx, "config"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestRestrictDisablesCapabilities(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	dir := t.TempDir()
	readable := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(readable, []byte("contents"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if err := e.Restrict(); err != nil {
		t.Fatalf("restrict: %v", err)
	}

	// Reads stay allowed.
	node, msgs := e.Evaluate(ctx, `fs.readTextFile(`+jsString(readable)+`)`)
	if len(msgs) != 0 || node != schema.String("contents") {
		t.Fatalf("read after restrict failed: %#v %+v", node, msgs)
	}

	// Writes, spawns and network access are denied.
	denied := []string{
		`fs.writeTextFile(` + jsString(filepath.Join(dir, "out.txt")) + `, "x")`,
		`proc.run("true")`,
		`net.fetchText("http://127.0.0.1:1/nope")`,
	}
	for _, expr := range denied {
		_, msgs := e.Evaluate(ctx, expr)
		if len(msgs) != 1 || msgs[0].ErrorType != schema.ErrorKindPermissionDenied {
			t.Errorf("Evaluate(%s): expected PermissionDenied, got %+v", expr, msgs)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "out.txt")); !os.IsNotExist(err) {
		t.Fatal("restricted kernel wrote a file")
	}
}

func jsString(s string) string {
	return `"` + s + `"`
}
