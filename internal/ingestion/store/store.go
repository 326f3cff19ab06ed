// Package store persists ingestion runs and their structured errors.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gstripling00/prompt-system/internal/db"
	"github.com/gstripling00/prompt-system/internal/db/dialect"
	"github.com/gstripling00/prompt-system/internal/ingestion/models"
)

var ErrRunNotFound = errors.New("ingestion run not found")

type Repository interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	AddErrors(ctx context.Context, runID string, errs []models.RowError) error
	ListErrors(ctx context.Context, runID string) ([]models.RowError, error)
}

const runColumns = `run_id, bucket, object_name, generation, status, rows_total, inserted, updated,
	archived, unchanged, error_count, message, started_at, finished_at`

type sqlRepository struct {
	pool *db.Pool
}

// Provide creates the run store on the warehouse pool and ensures its schema.
func Provide(pool *db.Pool) (*sqlRepository, func() error, error) {
	repo := &sqlRepository{pool: pool}
	if err := repo.initSchema(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ingestion schema: %w", err)
	}
	return repo, func() error { return nil }, nil
}

func (r *sqlRepository) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ingestion_runs (
			run_id TEXT PRIMARY KEY,
			bucket TEXT NOT NULL DEFAULT '',
			object_name TEXT NOT NULL,
			generation TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			rows_total INTEGER NOT NULL DEFAULT 0,
			inserted INTEGER NOT NULL DEFAULT 0,
			updated INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0,
			unchanged INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started ON ingestion_runs(started_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ingestion_errors (
			id %s,
			run_id TEXT NOT NULL REFERENCES ingestion_runs(run_id) ON DELETE CASCADE,
			row_number INTEGER NOT NULL,
			prompt_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			message TEXT NOT NULL
		)`, dialect.AutoIncrementPK(r.pool.Driver())),
		`CREATE INDEX IF NOT EXISTS idx_ingestion_errors_run ON ingestion_errors(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Writer().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlRepository) CreateRun(ctx context.Context, run *models.Run) error {
	w := r.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`INSERT INTO ingestion_runs (`+runColumns+`)
		VALUES (`+dialect.Placeholders(14)+`)`),
		run.ID, run.Bucket, run.Object, run.Generation, string(run.Status), run.RowsTotal,
		run.Inserted, run.Updated, run.Archived, run.Unchanged, run.ErrorCount, run.Message,
		run.StartedAt.UTC(), run.FinishedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (r *sqlRepository) FinishRun(ctx context.Context, run *models.Run) error {
	w := r.pool.Writer()
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	res, err := w.ExecContext(ctx, w.Rebind(`UPDATE ingestion_runs SET
			status = ?, rows_total = ?, inserted = ?, updated = ?, archived = ?, unchanged = ?,
			error_count = ?, message = ?, finished_at = ?
		WHERE run_id = ?`),
		string(run.Status), run.RowsTotal, run.Inserted, run.Updated, run.Archived, run.Unchanged,
		run.ErrorCount, run.Message, finished, run.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *sqlRepository) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	reader := r.pool.Reader()
	var run models.Run
	err := reader.GetContext(ctx, &run, reader.Rebind(`SELECT `+runColumns+` FROM ingestion_runs WHERE run_id = ?`), runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

func (r *sqlRepository) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	reader := r.pool.Reader()
	var runs []*models.Run
	err := reader.SelectContext(ctx, &runs, reader.Rebind(
		`SELECT `+runColumns+` FROM ingestion_runs ORDER BY started_at DESC, run_id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// AddErrors stores errs in one transaction, preserving their order.
func (r *sqlRepository) AddErrors(ctx context.Context, runID string, errs []models.RowError) (err error) {
	if len(errs) == 0 {
		return nil
	}
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin error insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(
		`INSERT INTO ingestion_errors (run_id, row_number, prompt_id, kind, message) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare error insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, e := range errs {
		if _, err = stmt.ExecContext(ctx, runID, e.Row, e.PromptID, string(e.Kind), e.Message); err != nil {
			return fmt.Errorf("insert error for run %s: %w", runID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit errors for run %s: %w", runID, err)
	}
	return nil
}

func (r *sqlRepository) ListErrors(ctx context.Context, runID string) ([]models.RowError, error) {
	reader := r.pool.Reader()
	var errs []models.RowError
	err := reader.SelectContext(ctx, &errs, reader.Rebind(
		`SELECT row_number, prompt_id, kind, message FROM ingestion_errors WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, fmt.Errorf("list errors for run %s: %w", runID, err)
	}
	return errs, nil
}
