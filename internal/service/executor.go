// Package service wires the execution pipeline: validation, syntax
// repair, context assembly, the process sandbox, image capture and the
// audit record lifecycle. Callers get exactly one outcome shape
// regardless of where in the pipeline a failure occurred.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"script-sandbox/internal/capture"
	"script-sandbox/internal/monitor"
	"script-sandbox/internal/pycode"
	"script-sandbox/internal/runtime"
	"script-sandbox/internal/sandbox"
	"script-sandbox/internal/storage"
	"script-sandbox/internal/validate"
)

// Request is one execution request. Immutable once constructed.
type Request struct {
	Code          string
	Language      runtime.Language
	Timeout       time.Duration
	MemoryLimitMB int64
	CallerID      string
	SessionID     string
}

// Outcome is the structured result returned to the caller. Built fresh
// per execution, never shared across requests.
type Outcome struct {
	ExecutionID     string          `json:"execution_id"`
	Success         bool            `json:"success"`
	Status          string          `json:"status"`
	Output          string          `json:"output"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	MemoryPeakMB    int64           `json:"memory_peak_mb"`
	CPUTimeMS       int64           `json:"cpu_time_ms"`
	Images          []capture.Image `json:"images,omitempty"`
}

// ScriptRunner is the process sandbox dependency.
type ScriptRunner interface {
	Run(ctx context.Context, script string, limits sandbox.Limits) (*sandbox.RawResult, error)
}

// DatasetLoader supplies the tabular dataset to preload for a session.
// Absence (nil, nil) is not an error.
type DatasetLoader interface {
	LoadDatasetForSession(ctx context.Context, sessionID string) (*storage.Dataset, error)
}

// Auditor records execution lifecycle transitions, best-effort.
type Auditor interface {
	Begin(ctx context.Context, rec *storage.ExecutionRecord)
	Finish(rec *storage.ExecutionRecord)
}

// ImageStore persists extracted images. Failures must not fail the
// execution.
type ImageStore interface {
	Store(ctx context.Context, img capture.Image) (string, error)
}

// Config bounds what callers may request.
type Config struct {
	DefaultTimeout  time.Duration
	MaxTimeout      time.Duration
	DefaultMemoryMB int64
	MaxOutputBytes  int64
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		MaxTimeout:      sandbox.MaxTimeout,
		DefaultMemoryMB: 512,
		MaxOutputBytes:  32 << 20,
	}
}

// Executor runs the full pipeline for each request.
type Executor struct {
	cfg       Config
	validator *validate.Validator
	runner    ScriptRunner
	datasets  DatasetLoader
	audit     Auditor
	images    ImageStore
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer
}

// NewExecutor assembles the pipeline. datasets, audit and images may be
// nil; the corresponding steps are skipped.
func NewExecutor(cfg Config, policy validate.Policy, runner ScriptRunner, datasets DatasetLoader, audit Auditor, images ImageStore, metrics *monitor.Metrics) *Executor {
	if cfg.DefaultTimeout == 0 {
		cfg = DefaultConfig()
	}
	return &Executor{
		cfg:       cfg,
		validator: validate.New(policy),
		runner:    runner,
		datasets:  datasets,
		audit:     audit,
		images:    images,
		metrics:   metrics,
		tracer:    monitor.NewTracer(),
	}
}

// Execute runs one request end to end. It never returns an error: every
// failure mode is normalized into Outcome.Success=false with a
// human-readable message, and partial output is preserved.
func (e *Executor) Execute(ctx context.Context, req Request) *Outcome {
	execID := uuid.New().String()

	ctx, span := e.tracer.StartSpan(ctx, "execute",
		monitor.AttrExecID.String(execID),
		monitor.AttrLanguage.String(req.Language.String()),
	)
	defer span.End()

	logger := log.With().
		Str("exec_id", execID).
		Str("caller_id", req.CallerID).
		Str("language", req.Language.String()).
		Logger()

	if e.metrics != nil {
		e.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
	}

	if !req.Language.Supported() {
		return e.fail(execID, nil, "unsupported_language",
			fmt.Sprintf("language %q is not implemented; only python is supported", req.Language))
	}

	if err := runtime.CheckCodeSize(req.Code); err != nil {
		return e.fail(execID, nil, "invalid_request", err.Error())
	}

	rec := &storage.ExecutionRecord{
		ID:        execID,
		CallerID:  req.CallerID,
		SessionID: req.SessionID,
		Language:  req.Language.String(),
		Code:      req.Code,
		Status:    storage.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	// Validation short-circuits before any record or process exists.
	vres := e.validator.Validate(req.Code)
	if !vres.Valid {
		logger.Warn().Str("kind", vres.Kind.String()).Str("reason", vres.Error).Msg("script rejected")
		if e.metrics != nil {
			e.metrics.RecordReject(vres.Kind.String())
		}
		e.recordTerminal(ctx, rec, storage.StatusFailed, "", vres.Error, nil, 0)
		return e.fail(execID, nil, vres.Kind.String(), vres.Error)
	}
	if vres.Repaired {
		logger.Info().Msg("script syntax repaired")
		if e.metrics != nil {
			e.metrics.RepairsApplied.Inc()
		}
	}

	e.auditBegin(ctx, rec)

	fullScript := pycode.Build(vres.Code, e.loadDataset(ctx, req.SessionID, logger))

	limits := sandbox.Limits{
		Timeout:        e.clampTimeout(req.Timeout),
		MemoryLimitMB:  req.MemoryLimitMB,
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	}
	if limits.MemoryLimitMB == 0 {
		limits.MemoryLimitMB = e.cfg.DefaultMemoryMB
	}

	start := time.Now()
	raw, runErr := e.runner.Run(ctx, fullScript, limits)
	duration := time.Since(start)

	outcome := &Outcome{ExecutionID: execID, ExecutionTimeMS: duration.Milliseconds()}
	if raw != nil {
		outcome.ExecutionTimeMS = raw.Duration.Milliseconds()
		outcome.MemoryPeakMB = raw.MemoryPeakMB
		outcome.CPUTimeMS = raw.CPUTimeMS

		cleaned, images := capture.ExtractImages(raw.Stdout)
		outcome.Output = cleaned
		outcome.Images = images
		e.storeImages(ctx, images, logger)
	}

	switch {
	case runErr != nil:
		outcome.Status = storage.StatusFailed
		outcome.Error = runErrorMessage(runErr)
		if e.metrics != nil {
			e.metrics.RecordError(errorType(runErr))
		}
	case raw.ExitCode != 0:
		outcome.Status = storage.StatusFailed
		outcome.Error = executionErrorMessage(raw)
	default:
		outcome.Status = storage.StatusCompleted
		outcome.Success = true
		// Diagnostic stderr on a clean exit is still surfaced.
		outcome.Error = strings.TrimSpace(raw.Stderr)
	}

	if e.metrics != nil {
		e.metrics.RecordExecution(req.Language.String(), outcome.Status, duration.Seconds())
		e.metrics.OutputSizeBytes.Observe(float64(len(outcome.Output)))
		e.metrics.ImagesExtracted.Add(float64(len(outcome.Images)))
	}

	e.recordTerminal(ctx, rec, outcome.Status, outcome.Output, outcome.Error, raw, len(outcome.Images))

	span.SetAttributes(
		monitor.AttrStatus.String(outcome.Status),
		monitor.AttrDurationMS.Int64(outcome.ExecutionTimeMS),
		monitor.AttrImageCount.Int(len(outcome.Images)),
	)

	logger.Info().
		Str("status", outcome.Status).
		Int64("duration_ms", outcome.ExecutionTimeMS).
		Int("images", len(outcome.Images)).
		Msg("execution finished")

	return outcome
}

func (e *Executor) clampTimeout(t time.Duration) time.Duration {
	if t <= 0 {
		return e.cfg.DefaultTimeout
	}
	if t > e.cfg.MaxTimeout {
		return e.cfg.MaxTimeout
	}
	return t
}

// loadDataset fetches the session's dataset. Any failure, including a
// missing dataset, skips injection silently.
func (e *Executor) loadDataset(ctx context.Context, sessionID string, logger zerolog.Logger) *pycode.DatasetContext {
	if e.datasets == nil || sessionID == "" {
		return nil
	}

	ds, err := e.datasets.LoadDatasetForSession(ctx, sessionID)
	if err != nil {
		logger.Warn().Err(err).Msg("dataset load failed, running without df")
		return nil
	}
	if ds == nil {
		return nil
	}

	logger.Info().Str("dataset", ds.Name).Int("rows", ds.Rows).Msg("dataset preloaded")
	return &pycode.DatasetContext{CSV: ds.CSV, Rows: ds.Rows, Columns: ds.Columns}
}

func (e *Executor) storeImages(ctx context.Context, images []capture.Image, logger zerolog.Logger) {
	if e.images == nil {
		return
	}
	for _, img := range images {
		if _, err := e.images.Store(ctx, img); err != nil {
			logger.Warn().Err(err).Str("image", img.Name).Msg("image store failed, continuing")
		}
	}
}

func (e *Executor) auditBegin(ctx context.Context, rec *storage.ExecutionRecord) {
	if e.audit != nil {
		e.audit.Begin(ctx, rec)
	}
	// Persisted as pending; tracked as running in memory only. The
	// record gets exactly one terminal update.
	rec.Status = storage.StatusRunning
}

func (e *Executor) recordTerminal(ctx context.Context, rec *storage.ExecutionRecord, status, output, errMsg string, raw *sandbox.RawResult, imageCount int) {
	if e.audit == nil {
		return
	}
	if rec.Status == storage.StatusPending {
		// Validation rejections never got a Begin; write the whole
		// record in one shot.
		rec.Status = storage.StatusFailed
		rec.ErrorMessage = errMsg
		now := time.Now().UTC()
		rec.CompletedAt = &now
		e.audit.Begin(ctx, rec)
		return
	}

	rec.Status = status
	rec.Output = output
	rec.ErrorMessage = errMsg
	rec.ImageCount = imageCount
	if raw != nil {
		rec.ExecutionTimeMS = raw.Duration.Milliseconds()
		rec.MemoryPeakMB = raw.MemoryPeakMB
		rec.CPUTimeMS = raw.CPUTimeMS
	}
	now := time.Now().UTC()
	rec.CompletedAt = &now
	e.audit.Finish(rec)
}

// fail builds the normalized failure outcome.
func (e *Executor) fail(execID string, raw *sandbox.RawResult, errType, msg string) *Outcome {
	o := &Outcome{
		ExecutionID: execID,
		Status:      storage.StatusFailed,
		Error:       msg,
	}
	if raw != nil {
		o.Output = raw.Stdout
		o.ExecutionTimeMS = raw.Duration.Milliseconds()
		o.MemoryPeakMB = raw.MemoryPeakMB
		o.CPUTimeMS = raw.CPUTimeMS
	}
	if e.metrics != nil {
		e.metrics.RecordError(errType)
	}
	return o
}

func runErrorMessage(err error) string {
	switch {
	case sandbox.IsTimeout(err):
		return "execution timed out; the script exceeded its time limit"
	case sandbox.IsMemoryLimit(err):
		return "execution exceeded its memory limit"
	case sandbox.IsOutputSize(err):
		return "execution produced more output than the configured ceiling"
	default:
		return err.Error()
	}
}

func errorType(err error) string {
	switch {
	case sandbox.IsTimeout(err):
		return "timeout"
	case sandbox.IsMemoryLimit(err):
		return "memory_limit"
	case sandbox.IsOutputSize(err):
		return "output_size"
	default:
		return "spawn"
	}
}

// executionErrorMessage summarizes a non-zero exit for the caller.
func executionErrorMessage(raw *sandbox.RawResult) string {
	stderr := strings.TrimSpace(raw.Stderr)
	if stderr == "" {
		return fmt.Sprintf("process exited with code %d", raw.ExitCode)
	}
	// Keep the tail: Python tracebacks put the actual error last.
	const maxLen = 2000
	if len(stderr) > maxLen {
		stderr = "..." + stderr[len(stderr)-maxLen:]
	}
	return stderr
}
