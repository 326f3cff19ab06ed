package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
	"github.com/gstripling00/prompt-system/internal/db/dbtest"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func createTestRepo(t *testing.T) *sqlRepository {
	t.Helper()
	repo, cleanup, err := Provide(dbtest.NewPool(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })
	return repo
}

func strPtr(s string) *string { return &s }

func record(id string, version int, text string) *models.PromptRecord {
	return &models.PromptRecord{
		PromptID:         id,
		Phase:            models.PhaseDesign,
		SubCategory:      strPtr("Objectives"),
		Name:             "Write objectives " + id,
		Text:             text,
		Tags:             models.StringList{"bloom", "objectives"},
		Version:          version,
		LastModifiedDate: testNow,
		IsActive:         true,
	}
}

func history(rec *models.PromptRecord, change models.ChangeType, prev *int) *models.HistoryEntry {
	return &models.HistoryEntry{
		HistoryID:       rec.PromptID + "-v" + string(rune('0'+rec.Version)),
		PromptID:        rec.PromptID,
		Version:         rec.Version,
		Phase:           rec.Phase,
		Text:            rec.Text,
		ChangedBy:       "ingestion-pipeline",
		ChangedDate:     testNow,
		ChangeType:      change,
		VersionNotes:    rec.VersionNotes,
		PreviousVersion: prev,
	}
}

func insert(t *testing.T, repo *sqlRepository, rec *models.PromptRecord) {
	t.Helper()
	require.NoError(t, repo.ApplyChange(context.Background(), Change{
		Type:    models.ChangeInsert,
		Record:  rec,
		History: history(rec, models.ChangeInsert, nil),
	}))
}

func update(repo *sqlRepository, expected int, rec *models.PromptRecord) error {
	return repo.ApplyChange(context.Background(), Change{
		Type:            models.ChangeUpdate,
		ExpectedVersion: expected,
		Record:          rec,
		History:         history(rec, models.ChangeUpdate, &expected),
	})
}

func TestApplyChange_InsertAndGet(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	rec := record("P1", 1, "Draft three objectives.")
	rec.CreatedDate = &created
	insert(t, repo, rec)

	got, err := repo.GetPrompt(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDesign, got.Phase)
	assert.Equal(t, "Draft three objectives.", got.Text)
	assert.Equal(t, models.StringList{"bloom", "objectives"}, got.Tags)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.CreatedDate)
	assert.True(t, created.Equal(*got.CreatedDate))
	assert.True(t, testNow.Equal(got.LastModifiedDate))
	assert.Nil(t, got.UsageCount)
	assert.Nil(t, got.Embedding)

	entries, err := repo.ListHistory(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChangeInsert, entries[0].ChangeType)
	assert.Nil(t, entries[0].PreviousVersion)
}

func TestGetPrompt_NotFound(t *testing.T) {
	repo := createTestRepo(t)
	_, err := repo.GetPrompt(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestApplyChange_InsertExistingConflicts(t *testing.T) {
	repo := createTestRepo(t)
	insert(t, repo, record("P1", 1, "v1"))

	rec := record("P1", 1, "other")
	err := repo.ApplyChange(context.Background(), Change{
		Type:    models.ChangeInsert,
		Record:  rec,
		History: history(rec, models.ChangeInsert, nil),
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.GetPrompt(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Text)
}

func TestApplyChange_UpdateChecksExpectedVersion(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()
	insert(t, repo, record("P1", 1, "v1"))
	require.NoError(t, update(repo, 1, record("P1", 2, "v2")))

	// A writer that planned against version 2 while another already wrote 3.
	require.NoError(t, update(repo, 2, record("P1", 3, "v3 first")))
	err := update(repo, 2, record("P1", 3, "v3 second"))
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.GetPrompt(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, "v3 first", got.Text)

	entries, err := repo.ListHistory(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Version)
	}
	require.NotNil(t, entries[2].PreviousVersion)
	assert.Equal(t, 2, *entries[2].PreviousVersion)
}

func TestApplyChange_UpdatePreservesUsage(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()
	insert(t, repo, record("P1", 1, "v1"))

	_, err := repo.pool.Writer().Exec(`UPDATE prompts SET usage_count = 7, avg_rating = 4.5, embedding = '[0.1,0.2]' WHERE prompt_id = 'P1'`)
	require.NoError(t, err)

	next := record("P1", 2, "v2")
	require.NoError(t, update(repo, 1, next))

	got, err := repo.GetPrompt(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, got.UsageCount)
	assert.Equal(t, int64(7), *got.UsageCount)
	require.NotNil(t, got.AvgRating)
	assert.InDelta(t, 4.5, *got.AvgRating, 1e-9)
	assert.Equal(t, models.FloatList{0.1, 0.2}, got.Embedding)
}

func TestApplyChange_Archive(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()
	insert(t, repo, record("P1", 1, "v1"))

	archived := record("P1", 2, "ignored text")
	archived.IsActive = false
	prev := 1
	require.NoError(t, repo.ApplyChange(ctx, Change{
		Type:            models.ChangeArchived,
		ExpectedVersion: 1,
		Record:          archived,
		History:         history(archived, models.ChangeArchived, &prev),
	}))

	got, err := repo.GetPrompt(ctx, "P1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "v1", got.Text, "archiving must not touch content")

	active, err := repo.ListPrompts(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := repo.ListPrompts(ctx, ListFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestApplyChange_HistoryIsAppendOnly(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()
	insert(t, repo, record("P1", 1, "v1"))

	// The row check passes but version 1 already has a history entry.
	err := update(repo, 1, record("P1", 1, "v1 rewritten"))
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.GetPrompt(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Text, "row write must roll back with the history insert")

	entries, err := repo.ListHistory(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v1", entries[0].Text)
}

func TestApplyChange_ConcurrentUpdatesOneWins(t *testing.T) {
	repo := createTestRepo(t)
	insert(t, repo, record("P1", 1, "v1"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := update(repo, 1, record("P1", 2, "v2"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, ErrVersionConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 4, conflicts)
}

func TestListPrompts_FilterAndSnapshot(t *testing.T) {
	repo := createTestRepo(t)
	ctx := context.Background()

	a := record("A", 1, "analysis")
	a.Phase = models.PhaseAnalysis
	insert(t, repo, a)
	insert(t, repo, record("D", 1, "design"))

	design, err := repo.ListPrompts(ctx, ListFilter{Phase: models.PhaseDesign})
	require.NoError(t, err)
	require.Len(t, design, 1)
	assert.Equal(t, "D", design[0].PromptID)

	limited, err := repo.ListPrompts(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "A", limited[0].PromptID)

	snapshot, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
	assert.Equal(t, models.PhaseAnalysis, snapshot["A"].Phase)
}

func TestSchema_RejectsUnknownPhase(t *testing.T) {
	repo := createTestRepo(t)
	rec := record("X", 1, "text")
	rec.Phase = models.Phase("Deployment")
	err := repo.ApplyChange(context.Background(), Change{
		Type:    models.ChangeInsert,
		Record:  rec,
		History: history(rec, models.ChangeInsert, nil),
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVersionConflict)
}
