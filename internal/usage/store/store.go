// Package store appends usage events and maintains the derived usage counters
// on the current-state prompt rows.
package store

import (
	"context"
	"fmt"

	"github.com/gstripling00/prompt-system/internal/db"
	"github.com/gstripling00/prompt-system/internal/db/dialect"
	"github.com/gstripling00/prompt-system/internal/usage/models"
)

// Counters are the derived fields of a prompt after an event was recorded.
type Counters struct {
	UsageCount *int64   `db:"usage_count"`
	AvgRating  *float64 `db:"avg_rating"`
}

// Recorded is the outcome of Repository.Record. Counters is nil when the prompt is unknown.
type Recorded struct {
	Counters  *Counters
	Duplicate bool
}

type Repository interface {
	// Record appends event and, when the prompt exists, refreshes its counters in
	// the same transaction. A usage_id that was already recorded leaves the
	// counters untouched and is reported as Duplicate.
	Record(ctx context.Context, event *models.Event) (*Recorded, error)
	Summary(ctx context.Context, promptID string) (*models.Summary, error)
	ListEvents(ctx context.Context, promptID string, limit int) ([]*models.Event, error)
}

const eventColumns = `usage_id, prompt_id, user_email, timestamp, addie_phase_context, course_context,
	feedback_rating, feedback_text, generation_successful`

type sqlRepository struct {
	pool *db.Pool
}

// Provide creates the usage store. The prompts table must already exist.
func Provide(pool *db.Pool) (*sqlRepository, func() error, error) {
	repo := &sqlRepository{pool: pool}
	if err := repo.initSchema(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}
	return repo, func() error { return nil }, nil
}

func (r *sqlRepository) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS prompt_usage (
			usage_id TEXT PRIMARY KEY,
			prompt_id TEXT NOT NULL,
			user_email TEXT,
			timestamp TIMESTAMP NOT NULL,
			addie_phase_context TEXT,
			course_context TEXT,
			feedback_rating INTEGER CHECK (feedback_rating BETWEEN 1 AND 5),
			feedback_text TEXT,
			generation_successful BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prompt_usage_timestamp ON prompt_usage(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_prompt_usage_prompt ON prompt_usage(prompt_id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Writer().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlRepository) Record(ctx context.Context, event *models.Event) (out *Recorded, err error) {
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin usage transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO prompt_usage (`+eventColumns+`)
		VALUES (`+dialect.Placeholders(9)+`) ON CONFLICT (usage_id) DO NOTHING`),
		event.UsageID, event.PromptID, event.UserEmail, event.Timestamp.UTC(), event.PhaseContext,
		event.CourseContext, event.FeedbackRating, event.FeedbackText, event.GenerationSuccessful)
	if err != nil {
		return nil, fmt.Errorf("insert usage event %s: %w", event.UsageID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	out = &Recorded{}
	promptID := event.PromptID
	if inserted == 0 {
		// Resent event: report the counters of the prompt it was first recorded against.
		out.Duplicate = true
		if err = tx.GetContext(ctx, &promptID, tx.Rebind(
			`SELECT prompt_id FROM prompt_usage WHERE usage_id = ?`), event.UsageID); err != nil {
			return nil, fmt.Errorf("read usage event %s: %w", event.UsageID, err)
		}
	} else {
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE prompts SET
				usage_count = COALESCE(usage_count, 0) + 1,
				avg_rating = (
					SELECT AVG(CAST(feedback_rating AS DOUBLE PRECISION)) FROM prompt_usage
					WHERE prompt_id = ? AND feedback_rating IS NOT NULL
				)
			WHERE prompt_id = ?`), promptID, promptID)
		if err != nil {
			return nil, fmt.Errorf("update usage counters for %s: %w", promptID, err)
		}
	}

	var counters []Counters
	err = tx.SelectContext(ctx, &counters, tx.Rebind(
		`SELECT usage_count, avg_rating FROM prompts WHERE prompt_id = ?`), promptID)
	if err != nil {
		return nil, fmt.Errorf("read usage counters for %s: %w", promptID, err)
	}
	if len(counters) > 0 {
		out.Counters = &counters[0]
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit usage event %s: %w", event.UsageID, err)
	}
	return out, nil
}

func (r *sqlRepository) Summary(ctx context.Context, promptID string) (*models.Summary, error) {
	reader := r.pool.Reader()
	summary := &models.Summary{PromptID: promptID}
	err := reader.GetContext(ctx, summary, reader.Rebind(`SELECT
			COUNT(*) AS events,
			COUNT(feedback_rating) AS rated,
			COALESCE(SUM(CASE WHEN generation_successful THEN 1 ELSE 0 END), 0) AS successful,
			AVG(CAST(feedback_rating AS DOUBLE PRECISION)) AS avg_rating
		FROM prompt_usage WHERE prompt_id = ?`), promptID)
	if err != nil {
		return nil, fmt.Errorf("summarize usage for %s: %w", promptID, err)
	}
	return summary, nil
}

func (r *sqlRepository) ListEvents(ctx context.Context, promptID string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	reader := r.pool.Reader()
	var out []*models.Event
	err := reader.SelectContext(ctx, &out, reader.Rebind(`SELECT `+eventColumns+` FROM prompt_usage
		WHERE prompt_id = ? ORDER BY timestamp DESC, usage_id LIMIT ?`), promptID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage for %s: %w", promptID, err)
	}
	return out, nil
}
