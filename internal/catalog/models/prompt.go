// Package models defines the prompt catalog's current-state and history records.
package models

import (
	"strings"
	"time"
)

// Phase is one of the five ADDIE lifecycle stages every prompt belongs to.
type Phase string

const (
	PhaseAnalysis       Phase = "Analysis"
	PhaseDesign         Phase = "Design"
	PhaseDevelopment    Phase = "Development"
	PhaseImplementation Phase = "Implementation"
	PhaseEvaluation     Phase = "Evaluation"
)

// Phases lists the valid phases in lifecycle order.
var Phases = []Phase{PhaseAnalysis, PhaseDesign, PhaseDevelopment, PhaseImplementation, PhaseEvaluation}

// ParsePhase accepts any casing and surrounding whitespace and returns the canonical phase.
func ParsePhase(raw string) (Phase, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, p := range Phases {
		if strings.EqualFold(trimmed, string(p)) {
			return p, true
		}
	}
	return "", false
}

// ChangeType labels a history entry.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	// ChangeDelete is part of the stored vocabulary; ingestion never emits it.
	ChangeDelete   ChangeType = "DELETE"
	ChangeArchived ChangeType = "ARCHIVED"
)

// PromptRecord is one row of the current-state table.
// UsageCount and AvgRating belong to the usage recorder and are never written by ingestion.
type PromptRecord struct {
	PromptID         string     `db:"prompt_id" json:"prompt_id"`
	Phase            Phase      `db:"addie_phase" json:"addie_phase"`
	SubCategory      *string    `db:"sub_category" json:"sub_category,omitempty"`
	Name             string     `db:"prompt_name" json:"prompt_name"`
	Text             string     `db:"prompt_text" json:"prompt_text"`
	Tags             StringList `db:"tags" json:"tags"`
	Prerequisites    *string    `db:"prerequisites" json:"prerequisites,omitempty"`
	ExpectedOutput   *string    `db:"expected_output" json:"expected_output,omitempty"`
	Version          int        `db:"version" json:"version"`
	VersionNotes     *string    `db:"version_notes" json:"version_notes,omitempty"`
	Author           *string    `db:"author" json:"author,omitempty"`
	CreatedDate      *time.Time `db:"created_date" json:"created_date,omitempty"`
	LastModifiedDate time.Time  `db:"last_modified_date" json:"last_modified_date"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	UsageCount       *int64     `db:"usage_count" json:"usage_count,omitempty"`
	AvgRating        *float64   `db:"avg_rating" json:"avg_rating,omitempty"`
	Embedding        FloatList  `db:"embedding" json:"embedding,omitempty"`
}

// HistoryEntry is one append-only version transition.
type HistoryEntry struct {
	HistoryID       string     `db:"history_id" json:"history_id"`
	PromptID        string     `db:"prompt_id" json:"prompt_id"`
	Version         int        `db:"version" json:"version"`
	Phase           Phase      `db:"addie_phase" json:"addie_phase"`
	Text            string     `db:"prompt_text" json:"prompt_text"`
	ChangedBy       string     `db:"changed_by" json:"changed_by"`
	ChangedDate     time.Time  `db:"changed_date" json:"changed_date"`
	ChangeType      ChangeType `db:"change_type" json:"change_type"`
	VersionNotes    *string    `db:"version_notes" json:"version_notes,omitempty"`
	PreviousVersion *int       `db:"previous_version" json:"previous_version,omitempty"`
}
