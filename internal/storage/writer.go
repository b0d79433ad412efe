package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditWriter persists terminal execution records asynchronously so a
// slow or unavailable database never blocks the execution path.
type AuditWriter struct {
	db   *DB
	ch   chan *ExecutionRecord
	wg   sync.WaitGroup
	done chan struct{}
}

func NewAuditWriter(db *DB, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:   db,
		ch:   make(chan *ExecutionRecord, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Finish queues a terminal record update. A full buffer drops the entry
// with a warning; audit-trail availability never gates execution.
func (w *AuditWriter) Finish(rec *ExecutionRecord) {
	select {
	case w.ch <- rec:
	default:
		log.Warn().Str("exec_id", rec.ID).Msg("audit buffer full, dropping record update")
	}
}

func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec := <-w.ch:
			w.writeWithRetry(rec)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case rec := <-w.ch:
					w.writeWithRetry(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(rec *ExecutionRecord) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.FinishExecution(ctx, rec)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("exec_id", rec.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("exec_id", rec.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
