package storage

import "time"

// Execution record statuses. pending and running are transient; exactly
// one of completed or failed is terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ExecutionRecord is the persisted audit entity for one execution. It is
// created in pending state before the process is spawned and updated
// exactly once to a terminal state afterwards. Retention is an external
// concern; the core never deletes records.
type ExecutionRecord struct {
	ID              string     `json:"id" db:"id"`
	CallerID        string     `json:"caller_id" db:"caller_id"`
	SessionID       string     `json:"session_id,omitempty" db:"session_id"`
	Language        string     `json:"language" db:"language"`
	Code            string     `json:"code" db:"code"`
	Status          string     `json:"status" db:"status"`
	Output          string     `json:"output" db:"output"`
	ErrorMessage    string     `json:"error_message,omitempty" db:"error_message"`
	ExecutionTimeMS int64      `json:"execution_time_ms" db:"execution_time_ms"`
	MemoryPeakMB    int64      `json:"memory_peak_mb" db:"memory_peak_mb"`
	CPUTimeMS       int64      `json:"cpu_time_ms" db:"cpu_time_ms"`
	ImageCount      int        `json:"image_count" db:"image_count"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether the record has reached a final state.
func (r *ExecutionRecord) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Dataset is a materialized tabular dataset associated with a session,
// preloaded into the sandbox as the df variable.
type Dataset struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Name      string    `json:"name" db:"name"`
	CSV       string    `json:"csv" db:"csv_data"`
	Rows      int       `json:"rows" db:"row_count"`
	Columns   int       `json:"columns" db:"column_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ExecutionFilter provides criteria for querying execution records.
type ExecutionFilter struct {
	CallerID  string
	SessionID string
	Status    string
	Limit     int
	Offset    int
}
