//go:build linux
// +build linux

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// ExecCommand builds the *exec.Cmd for a recipe invocation. It does not start it; the
// caller (ExecWithTimeout) owns starting, registering and waiting on the process so that
// timeout/kill handling stays in one place.
// We set Pdeathsig so a recipe's children don't outlive us if we're killed ourselves, and
// Setpgid so KillProcess can signal the whole process group rather than just the leader.
func (e *Executor) ExecCommand(sandbox SandboxConfig, foreground bool, command string, args ...string) *exec.Cmd {
	if e.usePleaseSandbox && (sandbox.Network || sandbox.Mount) {
		args = append([]string{command}, args...)
		command = e.sandboxTool
	}
	cmd := exec.Command(command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGHUP,
		Setpgid:   !foreground,
	}
	return cmd
}

// MustSandboxCommand modifies the given command to run in the sandbox, failing loudly if no
// sandbox tool was configured.
func (e *Executor) MustSandboxCommand(cmd []string) []string {
	if e.sandboxTool == "" {
		log.Fatalf("Sandbox tool not found on PATH")
	}
	return append([]string{e.sandboxTool}, cmd...)
}

// Kill sends sig to the process with the given pid.
func Kill(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// ForkExec starts cmd detached from this process, bypassing exec.Cmd entirely. It's used
// for the rare case of spawning a long-running daemon that must survive the engine exiting.
func ForkExec(cmd string, args []string) error {
	_, err := syscall.ForkExec(cmd, args, &syscall.ProcAttr{
		Env: os.Environ(),
	})
	return err
}
