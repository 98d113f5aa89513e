//go:build !unix

package gateways

import (
	"os/exec"
	"time"
)

const processWaitDelay = 5 * time.Second

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = processWaitDelay
}
