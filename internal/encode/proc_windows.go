//go:build windows

package encode

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// configureProcess hides the console window ffmpeg would otherwise open.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}

// terminateProcess kills the child; Windows has no SIGTERM equivalent.
func terminateProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
