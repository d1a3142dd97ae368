//go:build !windows

package llm

import (
	"os/exec"
	"syscall"
)

// configureProcAttr runs the command in its own process group and makes
// cancellation kill the whole group, so helper processes spawned by the CLI
// do not outlive it.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}
}
