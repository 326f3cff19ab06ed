// Package models holds the ingestion run, batch reference and structured error types.
package models

import (
	"fmt"
	"time"
)

// ErrorKind classifies a reported ingestion error.
type ErrorKind string

const (
	// KindValidation is a malformed or incomplete row; the row is skipped.
	KindValidation ErrorKind = "validation"
	// KindUnrecognizedField is a header column the catalog does not know; reported on row 0.
	KindUnrecognizedField ErrorKind = "unrecognized_field"
	// KindDuplicateID rejects the whole batch.
	KindDuplicateID ErrorKind = "duplicate_id"
	// KindWriteConflict is a prompt that kept losing optimistic-concurrency races.
	KindWriteConflict ErrorKind = "write_conflict"
	// KindSystemic is a storage or warehouse failure that aborted the run.
	KindSystemic ErrorKind = "systemic"
)

// RowError is one structured error. Row is the 1-based data row, 0 for batch-wide errors.
type RowError struct {
	Row      int       `db:"row_number" json:"row" yaml:"row"`
	PromptID string    `db:"prompt_id" json:"prompt_id,omitempty" yaml:"prompt_id,omitempty"`
	Kind     ErrorKind `db:"kind" json:"kind" yaml:"kind"`
	Message  string    `db:"message" json:"message" yaml:"message"`
}

func (e RowError) Error() string {
	if e.PromptID != "" {
		return fmt.Sprintf("row %d (%s): %s: %s", e.Row, e.PromptID, e.Kind, e.Message)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Kind, e.Message)
}

// BatchRef identifies the landed object an invocation processes.
type BatchRef struct {
	Bucket     string `json:"bucket"`
	Name       string `json:"name"`
	Generation string `json:"generation"`
}

func (r BatchRef) String() string {
	if r.Bucket == "" {
		return r.Name
	}
	return fmt.Sprintf("gs://%s/%s", r.Bucket, r.Name)
}

// RunStatus is the terminal or in-progress state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusRejected            RunStatus = "rejected"
	RunStatusFailed              RunStatus = "failed"
)

// Succeeded reports whether the run counts as a successful pipeline execution.
// A rejected batch is a correct outcome, not an execution failure.
func (s RunStatus) Succeeded() bool {
	return s != RunStatusFailed && s != RunStatusRunning
}

// Run is the audit row of one invocation.
type Run struct {
	ID         string     `db:"run_id" json:"run_id" yaml:"run_id"`
	Bucket     string     `db:"bucket" json:"bucket" yaml:"bucket"`
	Object     string     `db:"object_name" json:"object" yaml:"object"`
	Generation string     `db:"generation" json:"generation" yaml:"generation"`
	Status     RunStatus  `db:"status" json:"status" yaml:"status"`
	RowsTotal  int        `db:"rows_total" json:"rows_total" yaml:"rows_total"`
	Inserted   int        `db:"inserted" json:"inserted" yaml:"inserted"`
	Updated    int        `db:"updated" json:"updated" yaml:"updated"`
	Archived   int        `db:"archived" json:"archived" yaml:"archived"`
	Unchanged  int        `db:"unchanged" json:"unchanged" yaml:"unchanged"`
	ErrorCount int        `db:"error_count" json:"error_count" yaml:"error_count"`
	Message    *string    `db:"message" json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt  time.Time  `db:"started_at" json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Report is what one invocation returns to its caller.
type Report struct {
	Run    *Run       `json:"run" yaml:"run"`
	Errors []RowError `json:"errors" yaml:"errors"`
}
