// Package events defines the subjects and payloads exchanged on the event bus.
package events

import "time"

// Landing store events
const (
	// LandingObjectFinalized fires when a batch file has been fully written to the landing store.
	LandingObjectFinalized = "landing.object.finalized"
)

// Ingestion events
const (
	IngestionRunCompleted = "ingestion.run.completed"
	CatalogPromptChanged  = "catalog.prompt.changed"
)

// Queue groups
const (
	// IngestionQueue load-balances landing events across ingestion workers.
	IngestionQueue = "ingestion"
)

// Event sources
const (
	SourceWatcher  = "landing-watcher"
	SourceUpload   = "batch-upload"
	SourceGCSPush  = "gcs-push"
	SourcePipeline = "ingestion-pipeline"
	SourceCLI      = "cli"
)

// ObjectFinalized identifies one landed batch file.
type ObjectFinalized struct {
	Bucket     string    `json:"bucket"`
	Name       string    `json:"name"`
	Generation string    `json:"generation"`
	Size       int64     `json:"size,omitempty"`
	Updated    time.Time `json:"updated,omitempty"`
}

// RunCompleted summarizes a finished ingestion run.
type RunCompleted struct {
	RunID      string `json:"run_id"`
	Bucket     string `json:"bucket"`
	Object     string `json:"object"`
	Status     string `json:"status"`
	Inserted   int    `json:"inserted"`
	Updated    int    `json:"updated"`
	Archived   int    `json:"archived"`
	Unchanged  int    `json:"unchanged"`
	ErrorCount int    `json:"error_count"`
}

// PromptChanged reports one catalog write.
type PromptChanged struct {
	RunID      string `json:"run_id"`
	PromptID   string `json:"prompt_id"`
	Version    int    `json:"version"`
	ChangeType string `json:"change_type"`
}
