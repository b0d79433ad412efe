package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Audit is the best-effort execution-record sink. A nil *Audit, a nil
// database or a write failure all degrade to logging: execution
// correctness never depends on the audit trail.
type Audit struct {
	db     *DB
	writer *AuditWriter
}

func NewAudit(db *DB, writer *AuditWriter) *Audit {
	return &Audit{db: db, writer: writer}
}

// Begin persists the record in its initial (pending) state.
func (a *Audit) Begin(ctx context.Context, rec *ExecutionRecord) {
	if a == nil || a.db == nil {
		return
	}
	if err := a.db.CreateExecution(ctx, rec); err != nil {
		log.Warn().Err(err).Str("exec_id", rec.ID).Msg("audit create failed, continuing")
	}
}

// Finish persists the terminal state, asynchronously when a writer is
// configured.
func (a *Audit) Finish(rec *ExecutionRecord) {
	if a == nil || a.db == nil {
		return
	}
	if a.writer != nil {
		a.writer.Finish(rec)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.db.FinishExecution(ctx, rec); err != nil {
		log.Warn().Err(err).Str("exec_id", rec.ID).Msg("audit finish failed, continuing")
	}
}
