//go:build !windows

package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kernos-ai/kernos/internal/eventbus"
	"github.com/kernos-ai/kernos/internal/protocol"
	"github.com/kernos-ai/kernos/internal/schema"
)

// Fork clones a running session. The parent kernel snapshots its warmed
// state and launches a child process bound to three fresh FIFOs; the
// host adopts the other ends and waits for the child's handshake.
func (m *Manager) Fork(ctx context.Context, id string) (*Session, error) {
	parent, err := m.Session(id)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(m.runDir, "kernos-fork-*")
	if err != nil {
		return nil, fmt.Errorf("host: fork %s: %w", id, err)
	}

	stdinPath := filepath.Join(dir, "stdin")
	stdoutPath := filepath.Join(dir, "stdout")
	stderrPath := filepath.Join(dir, "stderr")
	for _, p := range []string{stdinPath, stdoutPath, stderrPath} {
		if err := syscall.Mkfifo(p, 0o600); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("host: fork %s: mkfifo: %w", id, err)
		}
	}

	// O_RDWR never blocks on a FIFO, so the host ends can be opened
	// before the child exists and regardless of which side opens first.
	stdin, err := os.OpenFile(stdinPath, os.O_RDWR, 0)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("host: fork %s: open stdin fifo: %w", id, err)
	}
	stdout, err := os.OpenFile(stdoutPath, os.O_RDWR, 0)
	if err != nil {
		stdin.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("host: fork %s: open stdout fifo: %w", id, err)
	}
	stderr, err := os.OpenFile(stderrPath, os.O_RDWR, 0)
	if err != nil {
		stdin.Close()
		stdout.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("host: fork %s: open stderr fifo: %w", id, err)
	}

	cleanup := func() {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		os.RemoveAll(dir)
	}

	task := protocol.Task{Tag: protocol.TagFork, Stdin: stdinPath, Stdout: stdoutPath, Stderr: stderrPath}
	result, err := m.Submit(ctx, id, task, 0)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("host: fork %s: %w", id, err)
	}
	if len(result.Values) == 0 {
		cleanup()
		return nil, fmt.Errorf("host: fork %s: %w", id, forkRefusal(result.Messages))
	}

	var pid int
	if err := json.Unmarshal(result.Values[0], &pid); err != nil {
		cleanup()
		return nil, fmt.Errorf("host: fork %s: parse child pid %q: %w", id, result.Values[0], err)
	}

	child := &Session{
		ID:      uuid.NewString(),
		Kernel:  parent.Kernel,
		PID:     pid,
		Started: time.Now().UTC(),
		stdin:   stdin,
		status:  StatusRunning,
		closers: []io.Closer{stdin, stdout, stderr, removeAllCloser(dir)},
	}
	child.startDrains(stdout, stderr)

	if err := child.awaitReady(ctx, m.startupTimeout); err != nil {
		log.Printf("[KernelManager] fork of %s: child pid %d never became ready: %v", id, pid, err)
		m.waitOrKill(child)
		cleanup()
		return nil, fmt.Errorf("host: fork %s: %w", id, ErrKernelCrashed)
	}

	m.register(child)
	parent.addChild(child)
	go m.reapFork(child)
	log.Printf("[KernelManager] session %s forked from %s (pid=%d)", child.ID, parent.ID, pid)

	eventbus.Publish(ctx, m.bus, eventbus.Kernels.Forked, eventbus.SourceSessionManager, eventbus.KernelForkedEvent{
		ParentID: parent.ID,
		ChildID:  child.ID,
		ChildPID: pid,
	})
	m.publishLifecycle(ctx, child, eventbus.KernelStateRunning, nil, "")
	m.recordStarted(ctx, child, "", parent.ID)
	return child, nil
}

// forkRefusal distils the kernel's error messages into one error, most
// commonly a PermissionDenied from a boxed kernel.
func forkRefusal(msgs []schema.ExecutionMessage) error {
	for _, msg := range msgs {
		if msg.Level == schema.LevelError {
			return errors.New(msg.Message)
		}
	}
	return errors.New("kernel reported no child pid")
}

// removeAllCloser removes a directory tree when closed.
type removeAllCloser string

func (d removeAllCloser) Close() error { return os.RemoveAll(string(d)) }
