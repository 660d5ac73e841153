package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// SnapshotEnv names the environment variable through which a respawned
// clone receives the path of its parent's environment snapshot.
const SnapshotEnv = "KERNOS_SNAPSHOT"

// ErrCloneUnsupported is returned on platforms without a working cloner.
var ErrCloneUnsupported = errors.New("kernel: session cloning is not supported on this platform")

// SnapshotSource is the subset of Evaluator a cloner needs: the ability
// to serialise the current environment at the instant of the clone.
type SnapshotSource interface {
	Snapshot() ([]byte, error)
}

// RespawnCloner implements Cloner by re-executing the kernel command with
// a snapshot of the current environment. The child restores the snapshot
// before serving its first task, so callers observe the same contract as
// an OS-level fork: an independent session that starts from the parent's
// bindings and diverges freely afterwards.
type RespawnCloner struct {
	Command   string
	Args      []string
	Snapshots SnapshotSource
}

// NewRespawnCloner builds a cloner that relaunches command with args.
func NewRespawnCloner(command string, args []string, src SnapshotSource) *RespawnCloner {
	return &RespawnCloner{Command: command, Args: args, Snapshots: src}
}

// Clone snapshots the environment, spawns the child with its streams
// bound to the requested paths, and returns the child's pid. The child is
// started in its own session (estranged) so the host owns reaping it.
func (c *RespawnCloner) Clone(ctx context.Context, req CloneRequest) (int, error) {
	snapshot, err := c.Snapshots.Snapshot()
	if err != nil {
		return 0, fmt.Errorf("kernel: snapshot environment: %w", err)
	}

	tmp, err := os.CreateTemp("", "kernos-snapshot-*.json")
	if err != nil {
		return 0, fmt.Errorf("kernel: create snapshot file: %w", err)
	}
	if _, err := tmp.Write(snapshot); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("kernel: write snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("kernel: close snapshot file: %w", err)
	}

	cmd := exec.Command(c.Command, c.Args...)
	cmd.Env = append(os.Environ(), SnapshotEnv+"="+tmp.Name())
	estrange(cmd)

	var opened []*os.File
	closeOpened := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	bind := func(path string, flag int, fallback *os.File) (*os.File, error) {
		if path == "" {
			return fallback, nil
		}
		f, err := os.OpenFile(path, flag, 0)
		if err != nil {
			return nil, err
		}
		opened = append(opened, f)
		return f, nil
	}

	stdin, err := bind(req.Stdin, os.O_RDONLY, os.Stdin)
	if err == nil {
		cmd.Stdin = stdin
		var stdout *os.File
		stdout, err = bind(req.Stdout, os.O_WRONLY, os.Stdout)
		if err == nil {
			cmd.Stdout = stdout
			var stderr *os.File
			stderr, err = bind(req.Stderr, os.O_WRONLY, os.Stderr)
			if err == nil {
				cmd.Stderr = stderr
			}
		}
	}
	if err != nil {
		closeOpened()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("kernel: bind clone streams: %w", err)
	}

	if err := cmd.Start(); err != nil {
		closeOpened()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("kernel: start clone: %w", err)
	}

	pid := cmd.Process.Pid

	// The parent's copies of the stream files must be closed, and the
	// child must not be waited on here: the host reaps clones.
	closeOpened()
	_ = cmd.Process.Release()

	return pid, nil
}

// RestoreFromSnapshotEnv rehydrates eval when this process is a respawned
// clone. The snapshot file is deleted after a successful restore. It is a
// no-op for ordinary (non-clone) kernel processes.
func RestoreFromSnapshotEnv(eval Evaluator) error {
	path := os.Getenv(SnapshotEnv)
	if path == "" {
		return nil
	}
	os.Unsetenv(SnapshotEnv)

	snapshot, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("kernel: read snapshot: %w", err)
	}
	if err := eval.Restore(snapshot); err != nil {
		return fmt.Errorf("kernel: restore snapshot: %w", err)
	}
	os.Remove(path)
	return nil
}
