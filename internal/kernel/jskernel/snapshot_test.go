package jskernel

import (
	"context"
	"testing"

	"github.com/kernos-ai/kernos/internal/schema"
)

func TestSnapshotRestoreTransfersBindings(t *testing.T) {
	ctx := context.Background()
	parent := newEvaluator(t)

	parent.Execute(ctx, []string{
		"var counter = 41",
		`var profile = {name: "ada", tags: ["math", "engines"]}`,
	})

	snapshot, err := parent.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	child := newEvaluator(t)
	if err := child.Restore(snapshot); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if node, _ := child.Evaluate(ctx, "counter + 1"); node != schema.Integer(42) {
		t.Fatalf("counter did not transfer: %#v", node)
	}
	if node, _ := child.Evaluate(ctx, "profile.tags[1]"); node != schema.String("engines") {
		t.Fatalf("nested value did not transfer: %#v", node)
	}

	// The clone's environment is a value copy: mutations do not propagate
	// back to the parent.
	child.Execute(ctx, []string{"counter = 0"})
	if node, _ := parent.Evaluate(ctx, "counter"); node != schema.Integer(41) {
		t.Fatalf("child mutation leaked into the parent: %#v", node)
	}
}

func TestSnapshotOmitsBuiltins(t *testing.T) {
	e := newEvaluator(t)
	snapshot, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if string(snapshot) != "[]" {
		t.Fatalf("fresh environment should snapshot empty, got %s", snapshot)
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	e := newEvaluator(t)
	if err := e.Restore([]byte("not json")); err == nil {
		t.Fatal("expected an error")
	}
}
