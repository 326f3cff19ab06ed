package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
	"github.com/gstripling00/prompt-system/internal/db"
	"github.com/gstripling00/prompt-system/internal/db/dialect"
)

type sqlRepository struct {
	pool *db.Pool
}

func newSQLRepository(pool *db.Pool) (*sqlRepository, error) {
	repo := &sqlRepository{pool: pool}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return repo, nil
}

func (r *sqlRepository) initSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := r.pool.Writer().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op because the repository does not own the pool.
func (r *sqlRepository) Close() error {
	return nil
}

func (r *sqlRepository) ListPrompts(ctx context.Context, filter ListFilter) ([]*models.PromptRecord, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE 1=1`
	var args []any
	if filter.Phase != "" {
		query += ` AND addie_phase = ?`
		args = append(args, string(filter.Phase))
	}
	if !filter.IncludeInactive {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY addie_phase, prompt_name, prompt_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	reader := r.pool.Reader()
	var prompts []*models.PromptRecord
	if err := reader.SelectContext(ctx, &prompts, reader.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, nil
}

func (r *sqlRepository) GetPrompt(ctx context.Context, promptID string) (*models.PromptRecord, error) {
	return getPrompt(ctx, r.pool.Reader(), promptID)
}

type getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
}

func getPrompt(ctx context.Context, q getter, promptID string) (*models.PromptRecord, error) {
	var rec models.PromptRecord
	err := q.GetContext(ctx, &rec, q.Rebind(`SELECT `+promptColumns+` FROM prompts WHERE prompt_id = ?`), promptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPromptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt %s: %w", promptID, err)
	}
	return &rec, nil
}

func (r *sqlRepository) ListHistory(ctx context.Context, promptID string) ([]*models.HistoryEntry, error) {
	reader := r.pool.Reader()
	var entries []*models.HistoryEntry
	err := reader.SelectContext(ctx, &entries, reader.Rebind(
		`SELECT `+historyColumns+` FROM prompt_history WHERE prompt_id = ? ORDER BY version`), promptID)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", promptID, err)
	}
	return entries, nil
}

func (r *sqlRepository) Snapshot(ctx context.Context) (map[string]*models.PromptRecord, error) {
	var prompts []*models.PromptRecord
	if err := r.pool.Reader().SelectContext(ctx, &prompts, `SELECT `+promptColumns+` FROM prompts`); err != nil {
		return nil, fmt.Errorf("snapshot prompts: %w", err)
	}
	snapshot := make(map[string]*models.PromptRecord, len(prompts))
	for _, p := range prompts {
		snapshot[p.PromptID] = p
	}
	return snapshot, nil
}

// ApplyChange writes the row and its history entry in one transaction. The row
// write is conditional on ExpectedVersion, so a concurrent writer that got there
// first turns this call into ErrVersionConflict and nothing is committed.
func (r *sqlRepository) ApplyChange(ctx context.Context, change Change) (err error) {
	if change.Record == nil || change.History == nil {
		return fmt.Errorf("apply change: record and history are required")
	}
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	switch change.Type {
	case models.ChangeInsert:
		err = insertPrompt(ctx, tx, change)
	case models.ChangeUpdate:
		err = updatePrompt(ctx, tx, change)
	case models.ChangeArchived:
		err = archivePrompt(ctx, tx, change)
	default:
		err = fmt.Errorf("apply change: unsupported change type %q", change.Type)
	}
	if err != nil {
		return err
	}
	if err = insertHistory(ctx, tx, change.History); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog transaction: %w", err)
	}
	return nil
}

func insertPrompt(ctx context.Context, tx *sqlx.Tx, change Change) error {
	if change.ExpectedVersion != 0 {
		return fmt.Errorf("insert %s: expected version must be 0", change.Record.PromptID)
	}
	var existing int
	if err := tx.GetContext(ctx, &existing, tx.Rebind(`SELECT COUNT(*) FROM prompts WHERE prompt_id = ?`), change.Record.PromptID); err != nil {
		return fmt.Errorf("check prompt %s: %w", change.Record.PromptID, err)
	}
	if existing > 0 {
		return ErrVersionConflict
	}

	rec := change.Record
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO prompts (`+promptColumns+`)
		VALUES (`+dialect.Placeholders(17)+`)`),
		rec.PromptID, string(rec.Phase), rec.SubCategory, rec.Name, rec.Text, rec.Tags,
		rec.Prerequisites, rec.ExpectedOutput, rec.Version, rec.VersionNotes, rec.Author, rec.CreatedDate,
		rec.LastModifiedDate.UTC(), rec.IsActive, rec.UsageCount, rec.AvgRating, rec.Embedding)
	if dialect.IsUniqueViolation(err) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("insert prompt %s: %w", rec.PromptID, err)
	}
	return nil
}

// updatePrompt rewrites the ingestible columns. usage_count, avg_rating and
// embedding are left alone so concurrent usage recording is never overwritten.
func updatePrompt(ctx context.Context, tx *sqlx.Tx, change Change) error {
	rec := change.Record
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE prompts SET
			addie_phase = ?, sub_category = ?, prompt_name = ?, prompt_text = ?, tags = ?,
			prerequisites = ?, expected_output = ?, version = ?, version_notes = ?, author = ?,
			created_date = ?, last_modified_date = ?, is_active = ?
		WHERE prompt_id = ? AND version = ?`),
		string(rec.Phase), rec.SubCategory, rec.Name, rec.Text, rec.Tags,
		rec.Prerequisites, rec.ExpectedOutput, rec.Version, rec.VersionNotes, rec.Author,
		rec.CreatedDate, rec.LastModifiedDate.UTC(), rec.IsActive,
		rec.PromptID, change.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update prompt %s: %w", rec.PromptID, err)
	}
	return expectOneRow(res)
}

func archivePrompt(ctx context.Context, tx *sqlx.Tx, change Change) error {
	rec := change.Record
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE prompts SET
			version = ?, version_notes = ?, last_modified_date = ?, is_active = ?
		WHERE prompt_id = ? AND version = ?`),
		rec.Version, rec.VersionNotes, rec.LastModifiedDate.UTC(), false,
		rec.PromptID, change.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("archive prompt %s: %w", rec.PromptID, err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrVersionConflict
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, h *models.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO prompt_history (`+historyColumns+`)
		VALUES (`+dialect.Placeholders(10)+`)`),
		h.HistoryID, h.PromptID, h.Version, string(h.Phase), h.Text, h.ChangedBy,
		h.ChangedDate.UTC(), string(h.ChangeType), h.VersionNotes, h.PreviousVersion)
	if dialect.IsUniqueViolation(err) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("append history %s v%d: %w", h.PromptID, h.Version, err)
	}
	return nil
}
