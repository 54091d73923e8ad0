//go:build !unix && !windows

package download

import "os/exec"

func configureCmd(*exec.Cmd) {}

func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
