//go:build unix

package download

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureCmd puts the downloader in its own process group so Shutdown can
// signal it together with anything it spawns.
func configureCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	if err == unix.ESRCH {
		return nil
	}
	return err
}
