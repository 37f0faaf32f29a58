//go:build unix

package shell

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the process in a new group, so cancellation kills the
// process with all its children.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
