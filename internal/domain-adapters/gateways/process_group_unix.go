//go:build unix

package gateways

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// processWaitDelay bounds how long Wait keeps pipes open after a kill
const processWaitDelay = 5 * time.Second

// configureProcessGroup places the command in its own process group so
// cancellation kills every descendant, not only the direct child
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = processWaitDelay
}
