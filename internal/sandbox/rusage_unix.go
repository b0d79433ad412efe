//go:build unix

package sandbox

import (
	"os"
	"os/exec"
	"runtime"
	"syscall"
)

// isolateProcessGroup puts the child in its own process group so a kill
// reaches any helper processes it forked.
func isolateProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree signals the child's whole process group, falling back
// to the direct child if the group signal fails.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// peakMemoryMB reads the child's peak RSS from its rusage. Linux reports
// Maxrss in kilobytes, macOS in bytes.
func peakMemoryMB(state *os.ProcessState) int64 {
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return 0
	}
	if runtime.GOOS == "darwin" {
		return int64(ru.Maxrss) / (1024 * 1024)
	}
	return int64(ru.Maxrss) / 1024
}
