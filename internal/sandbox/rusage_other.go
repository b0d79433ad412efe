//go:build !unix

package sandbox

import (
	"os"
	"os/exec"
)

// isolateProcessGroup is a no-op where process groups are unavailable.
func isolateProcessGroup(_ *exec.Cmd) {}

// killProcessTree can only reach the direct child on this platform.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// peakMemoryMB is unavailable on this platform; absence of memory data is
// not an error, the post-hoc ceiling check simply never trips.
func peakMemoryMB(_ *os.ProcessState) int64 {
	return 0
}
