package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for execution records and
// session datasets.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// CreateExecution inserts a new record, normally in pending state.
func (db *DB) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	query := `
		INSERT INTO executions (id, caller_id, session_id, language, code, status,
			output, error_message, execution_time_ms, memory_peak_mb, cpu_time_ms,
			image_count, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.CallerID, rec.SessionID, rec.Language,
		truncateForDB(rec.Code, 65535), rec.Status,
		truncateForDB(rec.Output, 65535),
		truncateForDB(rec.ErrorMessage, 65535),
		rec.ExecutionTimeMS, rec.MemoryPeakMB, rec.CPUTimeMS,
		rec.ImageCount, rec.CreatedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// FinishExecution updates a record to its terminal state with final
// metrics. A record may be finished exactly once.
func (db *DB) FinishExecution(ctx context.Context, rec *ExecutionRecord) error {
	if !rec.Terminal() {
		return fmt.Errorf("finish called with non-terminal status %q", rec.Status)
	}

	query := `
		UPDATE executions
		SET status = $2, output = $3, error_message = $4,
			execution_time_ms = $5, memory_peak_mb = $6, cpu_time_ms = $7,
			image_count = $8, completed_at = $9
		WHERE id = $1 AND status IN ('pending', 'running')`

	tag, err := db.pool.Exec(ctx, query,
		rec.ID, rec.Status,
		truncateForDB(rec.Output, 65535),
		truncateForDB(rec.ErrorMessage, 65535),
		rec.ExecutionTimeMS, rec.MemoryPeakMB, rec.CPUTimeMS,
		rec.ImageCount, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("updating execution %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s already terminal or missing", rec.ID)
	}
	return nil
}

// GetExecution retrieves a single execution record by ID.
func (db *DB) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	query := `
		SELECT id, caller_id, session_id, language, code, status, output,
			error_message, execution_time_ms, memory_peak_mb, cpu_time_ms,
			image_count, created_at, completed_at
		FROM executions WHERE id = $1`

	var rec ExecutionRecord
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.CallerID, &rec.SessionID, &rec.Language, &rec.Code,
		&rec.Status, &rec.Output, &rec.ErrorMessage,
		&rec.ExecutionTimeMS, &rec.MemoryPeakMB, &rec.CPUTimeMS,
		&rec.ImageCount, &rec.CreatedAt, &rec.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("querying execution %s: %w", id, err)
	}
	return &rec, nil
}

// ListExecutions queries execution records with optional filters.
func (db *DB) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error) {
	query := `
		SELECT id, caller_id, session_id, language, status,
			execution_time_ms, memory_peak_mb, image_count, created_at, completed_at
		FROM executions
		WHERE ($1 = '' OR caller_id = $1)
		  AND ($2 = '' OR session_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query,
		filter.CallerID, filter.SessionID, filter.Status, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var results []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		if err := rows.Scan(
			&rec.ID, &rec.CallerID, &rec.SessionID, &rec.Language, &rec.Status,
			&rec.ExecutionTimeMS, &rec.MemoryPeakMB, &rec.ImageCount,
			&rec.CreatedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}

// LoadDatasetForSession returns the most recent dataset uploaded for a
// session, or nil when the session has none. Absence is not an error.
func (db *DB) LoadDatasetForSession(ctx context.Context, sessionID string) (*Dataset, error) {
	query := `
		SELECT id, session_id, name, csv_data, row_count, column_count, created_at
		FROM datasets
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var ds Dataset
	err := db.pool.QueryRow(ctx, query, sessionID).Scan(
		&ds.ID, &ds.SessionID, &ds.Name, &ds.CSV, &ds.Rows, &ds.Columns, &ds.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying dataset for session %s: %w", sessionID, err)
	}
	return &ds, nil
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
