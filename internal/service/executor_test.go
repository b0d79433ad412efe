package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"script-sandbox/internal/capture"
	"script-sandbox/internal/monitor"
	"script-sandbox/internal/runtime"
	"script-sandbox/internal/sandbox"
	"script-sandbox/internal/storage"
	"script-sandbox/internal/validate"
)

type fakeRunner struct {
	spawns atomic.Int64
	result *sandbox.RawResult
	err    error
	script string
	limits sandbox.Limits
}

func (f *fakeRunner) Run(_ context.Context, script string, limits sandbox.Limits) (*sandbox.RawResult, error) {
	f.spawns.Add(1)
	f.script = script
	f.limits = limits
	if f.err != nil {
		return f.result, f.err
	}
	return f.result, nil
}

type fakeAuditor struct {
	begun    []*storage.ExecutionRecord
	finished []*storage.ExecutionRecord
}

func (f *fakeAuditor) Begin(_ context.Context, rec *storage.ExecutionRecord) {
	cp := *rec
	f.begun = append(f.begun, &cp)
}

func (f *fakeAuditor) Finish(rec *storage.ExecutionRecord) {
	cp := *rec
	f.finished = append(f.finished, &cp)
}

type fakeDatasets struct {
	ds *storage.Dataset
}

func (f *fakeDatasets) LoadDatasetForSession(_ context.Context, _ string) (*storage.Dataset, error) {
	return f.ds, nil
}

type fakeImageStore struct {
	stored []capture.Image
}

func (f *fakeImageStore) Store(_ context.Context, img capture.Image) (string, error) {
	f.stored = append(f.stored, img)
	return img.Name, nil
}

func newTestExecutor(runner ScriptRunner, audit Auditor, datasets DatasetLoader, images ImageStore) *Executor {
	return NewExecutor(DefaultConfig(), validate.DefaultPolicy(), runner, datasets, audit, images, monitor.NewMetrics())
}

func okResult(stdout string) *sandbox.RawResult {
	return &sandbox.RawResult{
		ExitCode:     0,
		Stdout:       stdout,
		Duration:     50 * time.Millisecond,
		MemoryPeakMB: 12,
	}
}

func TestExecuteSuccess(t *testing.T) {
	runner := &fakeRunner{result: okResult("4\n")}
	audit := &fakeAuditor{}
	exec := newTestExecutor(runner, audit, nil, nil)

	out := exec.Execute(context.Background(), Request{
		Code:     "print(2 + 2)",
		Language: runtime.LanguagePython,
		CallerID: "agent-1",
	})

	if !out.Success {
		t.Fatalf("Success = false, error = %q", out.Error)
	}
	if out.Status != storage.StatusCompleted {
		t.Errorf("Status = %q, want %q", out.Status, storage.StatusCompleted)
	}
	if out.Output != "4\n" {
		t.Errorf("Output = %q, want %q", out.Output, "4\n")
	}
	if out.ExecutionID == "" {
		t.Error("ExecutionID is empty")
	}
	if runner.spawns.Load() != 1 {
		t.Errorf("spawns = %d, want 1", runner.spawns.Load())
	}
	if !strings.Contains(runner.script, "print(2 + 2)") {
		t.Error("user code missing from assembled script")
	}
	if !strings.Contains(runner.script, "matplotlib") {
		t.Error("preamble missing from assembled script")
	}
}

func TestExecuteRejectedNeverSpawns(t *testing.T) {
	runner := &fakeRunner{result: okResult("")}
	audit := &fakeAuditor{}
	exec := newTestExecutor(runner, audit, nil, nil)

	out := exec.Execute(context.Background(), Request{
		Code:     "import os\nos.listdir('/')",
		Language: runtime.LanguagePython,
	})

	if out.Success {
		t.Fatal("forbidden import accepted")
	}
	if out.Status != storage.StatusFailed {
		t.Errorf("Status = %q, want failed", out.Status)
	}
	if !strings.Contains(out.Error, "os") {
		t.Errorf("error %q does not name the module", out.Error)
	}
	if runner.spawns.Load() != 0 {
		t.Fatalf("spawns = %d, want 0: rejected code must never reach a process", runner.spawns.Load())
	}

	// The rejection is still recorded, terminally.
	if len(audit.begun) != 1 {
		t.Fatalf("begun records = %d, want 1", len(audit.begun))
	}
	rec := audit.begun[0]
	if rec.Status != storage.StatusFailed {
		t.Errorf("record status = %q, want failed", rec.Status)
	}
	if rec.CompletedAt == nil {
		t.Error("rejected record has no CompletedAt")
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	runner := &fakeRunner{}
	exec := newTestExecutor(runner, nil, nil, nil)

	out := exec.Execute(context.Background(), Request{
		Code:     "console.log(1)",
		Language: runtime.LanguageNode,
	})

	if out.Success {
		t.Fatal("unsupported language accepted")
	}
	if !strings.Contains(out.Error, "not implemented") {
		t.Errorf("error = %q", out.Error)
	}
	if runner.spawns.Load() != 0 {
		t.Error("unsupported language spawned a process")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	runner := &fakeRunner{result: &sandbox.RawResult{
		ExitCode: 1,
		Stderr:   "Traceback (most recent call last):\nZeroDivisionError: division by zero",
		Duration: 30 * time.Millisecond,
	}}
	audit := &fakeAuditor{}
	exec := newTestExecutor(runner, audit, nil, nil)

	out := exec.Execute(context.Background(), Request{
		Code:     "x = 1 / 0",
		Language: runtime.LanguagePython,
	})

	if out.Success {
		t.Fatal("non-zero exit reported as success")
	}
	if !strings.Contains(out.Error, "ZeroDivisionError") {
		t.Errorf("error %q missing traceback tail", out.Error)
	}

	if len(audit.finished) != 1 {
		t.Fatalf("finished records = %d, want 1", len(audit.finished))
	}
	if audit.finished[0].Status != storage.StatusFailed {
		t.Errorf("record status = %q, want failed", audit.finished[0].Status)
	}
}

func TestExecuteTimeoutPreservesPartialOutput(t *testing.T) {
	runner := &fakeRunner{
		result: &sandbox.RawResult{
			ExitCode: -1,
			Stdout:   "tick 1\ntick 2\n",
			TimedOut: true,
			Duration: 2 * time.Second,
		},
		err: &sandbox.ExecutionError{Op: "wait", Err: sandbox.ErrTimeout},
	}
	exec := newTestExecutor(runner, nil, nil, nil)

	out := exec.Execute(context.Background(), Request{
		Code:     "while True: pass",
		Language: runtime.LanguagePython,
		Timeout:  2 * time.Second,
	})

	if out.Success {
		t.Fatal("timeout reported as success")
	}
	if !strings.Contains(out.Error, "timed out") {
		t.Errorf("error = %q, want timeout message", out.Error)
	}
	if out.Output != "tick 1\ntick 2\n" {
		t.Errorf("partial output lost: %q", out.Output)
	}
}

func TestExecuteClampsTimeout(t *testing.T) {
	runner := &fakeRunner{result: okResult("")}
	exec := newTestExecutor(runner, nil, nil, nil)

	exec.Execute(context.Background(), Request{
		Code:     "pass",
		Language: runtime.LanguagePython,
		Timeout:  10 * time.Minute,
	})
	if runner.limits.Timeout != sandbox.MaxTimeout {
		t.Errorf("timeout = %v, want clamped to %v", runner.limits.Timeout, sandbox.MaxTimeout)
	}

	exec.Execute(context.Background(), Request{
		Code:     "pass",
		Language: runtime.LanguagePython,
	})
	if runner.limits.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want default 30s", runner.limits.Timeout)
	}
}

func TestExecuteExtractsAndStoresImages(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	stdout := fmt.Sprintf("before\n%s%s\nafter\n", capture.MarkerPrefix, payload)

	runner := &fakeRunner{result: okResult(stdout)}
	store := &fakeImageStore{}
	audit := &fakeAuditor{}
	exec := newTestExecutor(runner, audit, nil, store)

	out := exec.Execute(context.Background(), Request{
		Code:     "import matplotlib.pyplot as plt\nplt.plot([1, 2])\nplt.show()",
		Language: runtime.LanguagePython,
	})

	if !out.Success {
		t.Fatalf("Execute failed: %s", out.Error)
	}
	if len(out.Images) != 1 {
		t.Fatalf("images = %d, want 1", len(out.Images))
	}
	if out.Images[0].Width != 3 || out.Images[0].Height != 2 {
		t.Errorf("dimensions = %dx%d, want 3x2", out.Images[0].Width, out.Images[0].Height)
	}
	if strings.Contains(out.Output, capture.MarkerPrefix) {
		t.Error("marker line leaked into cleaned output")
	}
	if out.Output != "before\nafter\n" {
		t.Errorf("cleaned output = %q", out.Output)
	}
	if len(store.stored) != 1 {
		t.Errorf("stored images = %d, want 1", len(store.stored))
	}
	if audit.finished[0].ImageCount != 1 {
		t.Errorf("record ImageCount = %d, want 1", audit.finished[0].ImageCount)
	}
}

func TestExecuteInjectsDataset(t *testing.T) {
	runner := &fakeRunner{result: okResult("")}
	datasets := &fakeDatasets{ds: &storage.Dataset{
		Name:    "sales.csv",
		CSV:     "a,b\n1,2\n3,4\n",
		Rows:    2,
		Columns: 2,
	}}
	exec := newTestExecutor(runner, nil, datasets, nil)

	exec.Execute(context.Background(), Request{
		Code:      "print(df.shape)",
		Language:  runtime.LanguagePython,
		SessionID: "sess-1",
	})

	if !strings.Contains(runner.script, "read_csv") {
		t.Error("dataset preamble missing")
	}
	if !strings.Contains(runner.script, "a,b\n1,2\n3,4") {
		t.Error("dataset CSV not embedded")
	}
}

func TestExecuteSkipsDatasetWithoutSession(t *testing.T) {
	runner := &fakeRunner{result: okResult("")}
	datasets := &fakeDatasets{ds: &storage.Dataset{CSV: "a\n1\n", Rows: 1, Columns: 1}}
	exec := newTestExecutor(runner, nil, datasets, nil)

	exec.Execute(context.Background(), Request{
		Code:     "print(1)",
		Language: runtime.LanguagePython,
	})

	if strings.Contains(runner.script, "read_csv") {
		t.Error("dataset injected without a session")
	}
}

func TestExecuteRepairedCodeRuns(t *testing.T) {
	runner := &fakeRunner{result: okResult("yes\n")}
	exec := newTestExecutor(runner, nil, nil, nil)

	// Flat block body, repairable by indentation.
	out := exec.Execute(context.Background(), Request{
		Code:     "if True:\nprint('yes')",
		Language: runtime.LanguagePython,
	})

	if !out.Success {
		t.Fatalf("repairable code rejected: %s", out.Error)
	}
	if !strings.Contains(runner.script, "    print('yes')") {
		t.Error("repaired indentation missing from executed script")
	}
	if runner.spawns.Load() != 1 {
		t.Errorf("spawns = %d, want 1", runner.spawns.Load())
	}
}

func TestExecuteLifecycleTransitions(t *testing.T) {
	runner := &fakeRunner{result: okResult("ok\n")}
	audit := &fakeAuditor{}
	exec := newTestExecutor(runner, audit, nil, nil)

	exec.Execute(context.Background(), Request{
		Code:     "print('ok')",
		Language: runtime.LanguagePython,
	})

	if len(audit.begun) != 1 || len(audit.finished) != 1 {
		t.Fatalf("begun = %d, finished = %d, want 1 each", len(audit.begun), len(audit.finished))
	}
	if audit.begun[0].Status != storage.StatusPending {
		t.Errorf("initial status = %q, want pending", audit.begun[0].Status)
	}
	final := audit.finished[0]
	if final.Status != storage.StatusCompleted {
		t.Errorf("final status = %q, want completed", final.Status)
	}
	if !final.Terminal() {
		t.Error("final record not terminal")
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if final.ID != audit.begun[0].ID {
		t.Error("record identity changed between begin and finish")
	}
}
