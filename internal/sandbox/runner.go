// Package sandbox spawns untrusted scripts as short-lived child OS
// processes with a wall-clock timeout, a post-hoc memory ceiling and an
// output-size ceiling. Each execution gets its own temporary script file
// and its own process; nothing is shared between concurrent runs.
package sandbox

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"script-sandbox/internal/runtime"
)

// RawResult is what came back from the child process, before image
// extraction and record keeping.
type RawResult struct {
	ExecID       string
	ExitCode     int
	Stdout       string
	Stderr       string
	Duration     time.Duration
	MemoryPeakMB int64
	CPUTimeMS    int64
	TimedOut     bool
}

// Runner executes assembled scripts in child processes.
type Runner struct {
	pythonBin string
	tempDir   string
	sem       chan struct{} // Concurrency limiter
	active    atomic.Int64
	spawns    atomic.Int64
}

// NewRunner creates a process runner. tempDir empty means the system
// temp directory; maxConcurrent < 1 defaults to 100.
func NewRunner(pythonBin, tempDir string, maxConcurrent int) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Runner{
		pythonBin: pythonBin,
		tempDir:   tempDir,
		sem:       make(chan struct{}, maxConcurrent),
	}
}

// ActiveCount returns the number of currently running executions.
func (r *Runner) ActiveCount() int64 {
	return r.active.Load()
}

// SpawnCount returns how many child processes have been started.
func (r *Runner) SpawnCount() int64 {
	return r.spawns.Load()
}

// Run writes the script to a fresh temp file, spawns the interpreter and
// supervises it until exit or timeout. The temp file is removed on every
// exit path. Run never panics and never returns a nil result alongside a
// nil error: failures surface as a typed error, usually with a partial
// result attached.
func (r *Runner) Run(ctx context.Context, script string, limits Limits) (*RawResult, error) {
	execID := uuid.New().String()
	limits = limits.withDefaults()

	logger := log.With().
		Str("exec_id", execID).
		Str("code_hash", fmt.Sprintf("%x", sha256.Sum256([]byte(script)))[:16]).
		Logger()

	if err := limits.Validate(); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate_limits", Err: err}
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	r.active.Add(1)
	defer r.active.Add(-1)

	scriptPath := filepath.Join(r.tempDir, "sbx-"+execID+".py")
	if err := os.WriteFile(scriptPath, []byte(script), 0600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_script", Err: fmt.Errorf("%w: %v", ErrSpawn, err)}
	}
	defer func() {
		if err := os.Remove(scriptPath); err != nil && !os.IsNotExist(err) {
			logger.Error().Err(err).Str("path", scriptPath).Msg("temp script cleanup failed")
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	args := runtime.PythonCommand(r.pythonBin, scriptPath)
	cmd := exec.Command(args[0], args[1:]...) // #nosec G204 -- fixed interpreter, generated path
	isolateProcessGroup(cmd)

	stdout := newLimitedBuffer(limits.MaxOutputBytes)
	stderr := newLimitedBuffer(limits.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Generated output must never fail the run over undecodable bytes.
	cmd.Env = []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/tmp",
		"LANG=C.UTF-8",
		"PYTHONIOENCODING=utf-8:replace",
		"MPLBACKEND=Agg",
		"SANDBOX=true",
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "start_process", Err: fmt.Errorf("%w: %v", ErrSpawn, err)}
	}
	r.spawns.Add(1)
	logger.Info().Msg("sandbox process started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	timedOut := false

	select {
	case waitErr = <-waitCh:
	case <-execCtx.Done():
		timedOut = true
		logger.Warn().Dur("timeout", limits.Timeout).Msg("execution timed out, killing process group")
		if err := killProcessTree(cmd); err != nil {
			logger.Error().Err(err).Msg("failed to kill timed out process")
		}
		// Drain the wait so no zombie is left behind; partial output is
		// already in the buffers and is preserved, not discarded.
		waitErr = <-waitCh
	}

	result := &RawResult{
		ExecID:   execID,
		Duration: time.Since(start),
		Stdout:   sanitize(stdout.String()),
		Stderr:   sanitize(stderr.String()),
		TimedOut: timedOut,
	}

	if state := cmd.ProcessState; state != nil {
		result.ExitCode = state.ExitCode()
		result.MemoryPeakMB = peakMemoryMB(state)
		result.CPUTimeMS = (state.UserTime() + state.SystemTime()).Milliseconds()
	}

	if timedOut {
		return result, &ExecutionError{
			ExecID: execID,
			Op:     "wait",
			Err:    fmt.Errorf("%w after %s", ErrTimeout, limits.Timeout),
		}
	}

	if stdout.Truncated() || stderr.Truncated() ||
		int64(len(result.Stdout))+int64(len(result.Stderr)) > limits.MaxOutputBytes {
		return result, &ExecutionError{
			ExecID: execID,
			Op:     "collect_output",
			Err:    fmt.Errorf("%w: combined output exceeds %d bytes", ErrOutputSize, limits.MaxOutputBytes),
		}
	}

	// Post-hoc ceiling: the process may have exited cleanly and still
	// fail the run. Deliberately not a mid-run kill.
	if result.MemoryPeakMB > limits.MemoryLimitMB {
		return result, &ExecutionError{
			ExecID: execID,
			Op:     "check_memory",
			Err:    fmt.Errorf("%w: peak %dMB > limit %dMB", ErrMemoryLimit, result.MemoryPeakMB, limits.MemoryLimitMB),
		}
	}

	if waitErr != nil && result.ExitCode == 0 {
		// Wait failed for a reason other than a non-zero exit.
		return result, &ExecutionError{ExecID: execID, Op: "wait", Err: waitErr}
	}

	logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Int64("memory_peak_mb", result.MemoryPeakMB).
		Msg("execution completed")

	return result, nil
}

// sanitize forces valid UTF-8 with replacement so downstream storage and
// JSON encoding never choke on raw child output.
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "�")
}
