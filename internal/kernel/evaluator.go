// Package kernel implements the adapter side of the kernel execution
// protocol: a single-threaded task loop that reads framed tasks from an
// input stream, drives a guest-language evaluator, and writes framed
// results and messages back, finishing every task with a readiness pair.
package kernel

import (
	"context"

	"github.com/kernos-ai/kernos/internal/schema"
)

// Evaluator is the contract a guest-language runtime implements to be
// driven by the adapter task loop. Implementations own a single mutable
// evaluation environment; the loop never runs two operations concurrently.
type Evaluator interface {
	// Info returns the fixed-shape runtime descriptor.
	Info() schema.RuntimeInfo

	// Packages enumerates installed guest libraries.
	Packages(ctx context.Context) ([]schema.PackageInfo, error)

	// Execute runs source lines against the persistent environment. The
	// returned node is nil when the trailing statement is not visible
	// (blank, comment-only or assignment-like), mirroring REPL
	// auto-print suppression.
	Execute(ctx context.Context, lines []string) (schema.Node, []schema.ExecutionMessage)

	// Evaluate evaluates a single expression and always yields its value.
	Evaluate(ctx context.Context, expression string) (schema.Node, []schema.ExecutionMessage)

	// Variables lists all user bindings, excluding protocol-internal ones.
	Variables(ctx context.Context) ([]schema.Variable, error)

	// Lookup reads one binding. A missing name reports false, not an error.
	Lookup(ctx context.Context, name string) (schema.Node, bool, error)

	// Assign upserts one binding from a protocol value.
	Assign(ctx context.Context, name string, value schema.Node) error

	// Delete removes one binding. Deleting an unbound name is not an error.
	Delete(ctx context.Context, name string) error

	// Interrupt aborts the evaluation currently running in Execute or
	// Evaluate. Safe to call from another goroutine.
	Interrupt()

	// Restrict irreversibly disables filesystem-write, process-spawn and
	// network-connect capabilities inside the guest environment.
	Restrict() error

	// Snapshot serialises the environment's bindings for transfer into a
	// cloned session.
	Snapshot() ([]byte, error)

	// Restore rehydrates bindings from a snapshot and re-seeds any
	// pseudo-random state so siblings diverge.
	Restore(snapshot []byte) error
}

// CloneRequest names the filesystem paths a cloned session rebinds its
// standard streams to. An empty path keeps the inherited stream.
type CloneRequest struct {
	Stdin  string
	Stdout string
	Stderr string
}

// Cloner produces a new isolated kernel session whose environment is a
// value-copy of the current one. The returned pid belongs to the host:
// the host, not the parent kernel, terminates and reaps clones.
type Cloner interface {
	Clone(ctx context.Context, req CloneRequest) (pid int, err error)
}
