//go:build windows

package kernel

import "os/exec"

// estrange is a no-op on Windows: child processes are not tied to the
// parent's process group in a way that affects host-side reaping.
func estrange(cmd *exec.Cmd) {}
