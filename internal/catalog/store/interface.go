package store

import (
	"context"
	"errors"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
)

var (
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrVersionConflict means the prompt changed since the change was planned.
	ErrVersionConflict = errors.New("prompt version conflict")
)

// ListFilter narrows ListPrompts. The zero value lists active prompts of every phase.
type ListFilter struct {
	Phase           models.Phase
	IncludeInactive bool
	Limit           int
}

// Change is one planned write: the new current-state row plus its history entry.
type Change struct {
	Type models.ChangeType
	// ExpectedVersion is the version the row must still have; 0 means it must not exist.
	ExpectedVersion int
	Record          *models.PromptRecord
	History         *models.HistoryEntry
}

type Repository interface {
	ListPrompts(ctx context.Context, filter ListFilter) ([]*models.PromptRecord, error)
	GetPrompt(ctx context.Context, promptID string) (*models.PromptRecord, error)
	ListHistory(ctx context.Context, promptID string) ([]*models.HistoryEntry, error)
	// Snapshot reads the whole current-state table in one query.
	Snapshot(ctx context.Context) (map[string]*models.PromptRecord, error)
	// ApplyChange writes a change atomically or returns ErrVersionConflict.
	ApplyChange(ctx context.Context, change Change) error
}
