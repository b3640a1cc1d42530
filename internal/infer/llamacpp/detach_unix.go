// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

//go:build unix

package llamacpp

import (
	"os/exec"
	"syscall"
)

// detach puts the server in its own process group so a terminal Ctrl-C
// reaches only the CLI; servers are stopped through Engine.Close.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
