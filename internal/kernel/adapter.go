package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/kernos-ai/kernos/internal/protocol"
	"github.com/kernos-ai/kernos/internal/schema"
)

// maxTaskLine bounds one framed task line (64 MB of code fields).
const maxTaskLine = 64 << 20

// Adapter runs the kernel-side task loop: a two-state machine that
// alternates between awaiting a task on its input stream and executing
// it. Every task, whatever its outcome, ends with a readiness token on
// both output streams.
type Adapter struct {
	eval       Evaluator
	cloner     Cloner
	in         io.Reader
	results    *protocol.StreamWriter
	messages   *protocol.StreamWriter
	interrupts *InterruptSupervisor
	boxed      bool
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithStreams overrides the adapter's input and output streams. The
// defaults are the process's stdin, stdout and stderr.
func WithStreams(in io.Reader, out, errOut io.Writer) Option {
	return func(a *Adapter) {
		a.in = in
		a.results = protocol.NewStreamWriter(out)
		a.messages = protocol.NewStreamWriter(errOut)
	}
}

// WithCloner enables FORK tasks using the given cloner.
func WithCloner(c Cloner) Option {
	return func(a *Adapter) {
		a.cloner = c
	}
}

// WithInterruptSupervisor overrides the interrupt supervisor, primarily
// for tests that inject signals directly.
func WithInterruptSupervisor(s *InterruptSupervisor) Option {
	return func(a *Adapter) {
		a.interrupts = s
	}
}

// New builds an adapter around the given evaluator.
func New(eval Evaluator, opts ...Option) *Adapter {
	a := &Adapter{
		eval:     eval,
		in:       os.Stdin,
		results:  protocol.NewStreamWriter(os.Stdout),
		messages: protocol.NewStreamWriter(os.Stderr),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run serves tasks until the input stream closes or ctx is cancelled.
// It writes the initial readiness pair before reading the first task.
func (a *Adapter) Run(ctx context.Context) error {
	if a.interrupts == nil {
		a.interrupts = NewInterruptSupervisor()
	}
	defer a.interrupts.Close()

	if err := a.ready(); err != nil {
		return fmt.Errorf("kernel: initial readiness: %w", err)
	}

	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 64*1024), maxTaskLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()

		// A signal observed between tasks belongs to a task that already
		// completed; discard it so the just-read task runs untouched.
		a.interrupts.DrainPending()

		task, err := protocol.DecodeTask(line)
		if err != nil {
			if decodeErr := a.reportDecodeError(err); decodeErr != nil {
				return decodeErr
			}
			continue
		}

		a.execute(ctx, task)

		if err := a.ready(); err != nil {
			return fmt.Errorf("kernel: readiness after %s: %w", task.Tag, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("kernel: read task line: %w", err)
	}
	return nil
}

// reportDecodeError surfaces a recoverable framing problem and completes
// the readiness handshake so the host does not stall.
func (a *Adapter) reportDecodeError(err error) error {
	var unknownTag *protocol.UnknownTagError
	switch {
	case errors.Is(err, protocol.ErrEmptyLine):
		// Blank line, nothing owed.
		return nil
	case errors.As(err, &unknownTag):
		a.emitMessage(schema.ErrorMessage(schema.ErrorKindMicrokernel, err.Error()))
	default:
		a.emitMessage(schema.ErrorMessage(schema.ErrorKindFrame, err.Error()))
	}
	return a.ready()
}

// execute dispatches one decoded task. All guest failures are converted
// to ExecutionMessages here; nothing escapes to crash the loop.
func (a *Adapter) execute(ctx context.Context, task protocol.Task) {
	switch task.Tag {
	case protocol.TagExec:
		node, msgs := a.withInterrupt(ctx, func(execCtx context.Context) (schema.Node, []schema.ExecutionMessage) {
			return a.eval.Execute(execCtx, task.Code)
		})
		a.emitMessages(msgs)
		if node != nil {
			a.emitResult(node)
		}

	case protocol.TagEval:
		node, msgs := a.withInterrupt(ctx, func(execCtx context.Context) (schema.Node, []schema.ExecutionMessage) {
			return a.eval.Evaluate(execCtx, task.Expression)
		})
		a.emitMessages(msgs)
		if node != nil {
			a.emitResult(node)
		}

	case protocol.TagInfo:
		a.emitJSON(a.eval.Info())

	case protocol.TagPkgs:
		pkgs, err := a.eval.Packages(ctx)
		if err != nil {
			a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, err.Error()))
			return
		}
		for _, pkg := range pkgs {
			a.emitJSON(pkg)
		}

	case protocol.TagList:
		vars, err := a.eval.Variables(ctx)
		if err != nil {
			a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, err.Error()))
			return
		}
		for _, v := range vars {
			a.emitJSON(v)
		}

	case protocol.TagGet:
		node, ok, err := a.eval.Lookup(ctx, task.Name)
		if err != nil {
			a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, err.Error()))
			return
		}
		// Unbound names yield a silent empty result by contract.
		if ok {
			a.emitResult(node)
		}

	case protocol.TagSet:
		node, err := schema.DecodeNode([]byte(task.Value))
		if err != nil {
			a.emitMessage(schema.ErrorMessage(schema.ErrorKindSyntax, err.Error()))
			return
		}
		if err := a.eval.Assign(ctx, task.Name, node); err != nil {
			a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, err.Error()))
		}

	case protocol.TagRemove:
		if err := a.eval.Delete(ctx, task.Name); err != nil {
			a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, err.Error()))
		}

	case protocol.TagFork:
		a.executeFork(ctx, task)

	case protocol.TagBox:
		a.executeBox()
	}
}

// withInterrupt runs fn with the interrupt supervisor armed: a signal
// during execution aborts the evaluation via the evaluator's own
// interrupt mechanism and cancels the execution context.
func (a *Adapter) withInterrupt(ctx context.Context, fn func(context.Context) (schema.Node, []schema.ExecutionMessage)) (schema.Node, []schema.ExecutionMessage) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := a.interrupts.Watch(func() {
		a.eval.Interrupt()
		cancel()
	})
	defer stop()

	return fn(execCtx)
}

func (a *Adapter) executeFork(ctx context.Context, task protocol.Task) {
	if a.boxed {
		a.emitMessage(schema.ErrorMessage(schema.ErrorKindPermissionDenied, "forking is not permitted in a boxed kernel"))
		return
	}
	if a.cloner == nil {
		a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, "this kernel does not support forking"))
		return
	}
	pid, err := a.cloner.Clone(ctx, CloneRequest{Stdin: task.Stdin, Stdout: task.Stdout, Stderr: task.Stderr})
	if err != nil {
		a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, fmt.Sprintf("fork failed: %v", err)))
		return
	}
	a.emitResult(schema.Integer(pid))
}

// executeBox irreversibly restricts the process: secret-looking
// environment variables are stripped and the evaluator's write, spawn
// and connect capabilities are disabled. Idempotent.
func (a *Adapter) executeBox() {
	if a.boxed {
		return
	}
	if removed := ScrubSecretEnv(); len(removed) > 0 {
		log.Printf("[Kernel] Boxed: removed %d secret-looking environment variables (%s)", len(removed), strings.Join(removed, ", "))
	}
	if err := a.eval.Restrict(); err != nil {
		a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, fmt.Sprintf("restrict capabilities: %v", err)))
		return
	}
	a.boxed = true
}

func (a *Adapter) emitResult(node schema.Node) {
	payload, err := schema.MarshalNode(node)
	if err != nil {
		a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, fmt.Sprintf("marshal result: %v", err)))
		return
	}
	if err := a.results.WriteRecord(payload); err != nil {
		log.Printf("[Kernel] Failed to write result record: %v", err)
	}
}

func (a *Adapter) emitJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		a.emitMessage(schema.ErrorMessage(schema.ErrorKindRuntime, fmt.Sprintf("marshal result: %v", err)))
		return
	}
	if err := a.results.WriteRecord(payload); err != nil {
		log.Printf("[Kernel] Failed to write result record: %v", err)
	}
}

func (a *Adapter) emitMessages(msgs []schema.ExecutionMessage) {
	for _, msg := range msgs {
		a.emitMessage(msg)
	}
}

func (a *Adapter) emitMessage(msg schema.ExecutionMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Kernel] Failed to marshal execution message: %v", err)
		return
	}
	if err := a.messages.WriteRecord(payload); err != nil {
		log.Printf("[Kernel] Failed to write message record: %v", err)
	}
}

// ready completes the handshake for one task: the readiness token is
// written and flushed on both streams, results first.
func (a *Adapter) ready() error {
	if err := a.results.WriteReady(); err != nil {
		return err
	}
	return a.messages.WriteReady()
}
