//go:build windows

package taskrun

import "os/exec"

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd.exe", "/c", command)
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
