//go:build !linux
// +build !linux

package process

import (
	"os/exec"
	"syscall"
)

// ExecCommand builds the *exec.Cmd for a recipe invocation. Namespacing sandboxes aren't
// available outside Linux, so a sandbox request here is a no-op.
func (e *Executor) ExecCommand(sandbox SandboxConfig, foreground bool, command string, args ...string) *exec.Cmd {
	cmd := exec.Command(command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: !foreground,
	}
	return cmd
}

// MustSandboxCommand modifies the given command to run in the sandbox.
// On non-Linux platforms this is a no-op since namespaces aren't available.
func (e *Executor) MustSandboxCommand(cmd []string) []string {
	return cmd
}
