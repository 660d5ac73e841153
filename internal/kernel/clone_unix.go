//go:build !windows

package kernel

import (
	"os/exec"
	"syscall"
)

// estrange detaches the clone from the parent's session and process
// group, so the host rather than the parent kernel is responsible for
// terminating and reaping it.
func estrange(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
