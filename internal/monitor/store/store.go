// Package store keeps health signals and alert incidents in the warehouse so
// every monitor evaluation starts from persisted state only.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gstripling00/prompt-system/internal/db"
	"github.com/gstripling00/prompt-system/internal/db/dialect"
	"github.com/gstripling00/prompt-system/internal/monitor/models"
)

type Repository interface {
	RecordSignal(ctx context.Context, signal *models.Signal) error
	Window(ctx context.Context, source models.Source, since time.Time) (models.Window, error)
	PruneSignals(ctx context.Context, before time.Time) (int64, error)

	OpenIncident(ctx context.Context, policy string) (*models.Incident, error)
	CreateIncident(ctx context.Context, incident *models.Incident) error
	UpdateIncident(ctx context.Context, incident *models.Incident) error
	ListIncidents(ctx context.Context, openOnly bool, limit int) ([]*models.Incident, error)
}

const incidentColumns = `id, policy, metric, observed_value, threshold, opened_at, last_breach_at,
	last_notified_at, notify_count, closed_at`

type sqlRepository struct {
	pool *db.Pool
}

// Provide creates the monitor store on the warehouse pool and ensures its schema.
func Provide(pool *db.Pool) (*sqlRepository, func() error, error) {
	repo := &sqlRepository{pool: pool}
	if err := repo.initSchema(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize monitor schema: %w", err)
	}
	return repo, func() error { return nil }, nil
}

func (r *sqlRepository) initSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS health_signals (
			id %s,
			source TEXT NOT NULL,
			ok BOOLEAN NOT NULL,
			detail TEXT,
			observed_at TIMESTAMP NOT NULL
		)`, dialect.AutoIncrementPK(r.pool.Driver())),
		`CREATE INDEX IF NOT EXISTS idx_health_signals_source_time ON health_signals(source, observed_at)`,
		`CREATE TABLE IF NOT EXISTS alert_incidents (
			id TEXT PRIMARY KEY,
			policy TEXT NOT NULL,
			metric TEXT NOT NULL,
			observed_value DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			opened_at TIMESTAMP NOT NULL,
			last_breach_at TIMESTAMP NOT NULL,
			last_notified_at TIMESTAMP NOT NULL,
			notify_count INTEGER NOT NULL DEFAULT 1,
			closed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_incidents_policy ON alert_incidents(policy, closed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Writer().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordSignal stores signal and sets its ID. A zero ObservedAt is stamped with the current time.
func (r *sqlRepository) RecordSignal(ctx context.Context, signal *models.Signal) error {
	if signal.ObservedAt.IsZero() {
		signal.ObservedAt = time.Now().UTC()
	}
	id, err := dialect.InsertReturningID(ctx, r.pool.Writer(),
		`INSERT INTO health_signals (source, ok, detail, observed_at) VALUES (?, ?, ?, ?)`,
		string(signal.Source), signal.OK, signal.Detail, signal.ObservedAt.UTC())
	if err != nil {
		return fmt.Errorf("record %s signal: %w", signal.Source, err)
	}
	signal.ID = id
	return nil
}

func (r *sqlRepository) Window(ctx context.Context, source models.Source, since time.Time) (models.Window, error) {
	reader := r.pool.Reader()
	var w models.Window
	err := reader.GetContext(ctx, &w, reader.Rebind(`SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0) AS failed
		FROM health_signals WHERE source = ? AND observed_at >= ?`),
		string(source), since.UTC())
	if err != nil {
		return models.Window{}, fmt.Errorf("aggregate %s signals: %w", source, err)
	}
	return w, nil
}

func (r *sqlRepository) PruneSignals(ctx context.Context, before time.Time) (int64, error) {
	w := r.pool.Writer()
	res, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM health_signals WHERE observed_at < ?`), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune signals: %w", err)
	}
	return res.RowsAffected()
}

// OpenIncident returns the open incident of policy, or nil when there is none.
func (r *sqlRepository) OpenIncident(ctx context.Context, policy string) (*models.Incident, error) {
	reader := r.pool.Reader()
	var inc models.Incident
	err := reader.GetContext(ctx, &inc, reader.Rebind(`SELECT `+incidentColumns+` FROM alert_incidents
		WHERE policy = ? AND closed_at IS NULL ORDER BY opened_at DESC LIMIT 1`), policy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open incident for %s: %w", policy, err)
	}
	return &inc, nil
}

func (r *sqlRepository) CreateIncident(ctx context.Context, inc *models.Incident) error {
	w := r.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`INSERT INTO alert_incidents (`+incidentColumns+`)
		VALUES (`+dialect.Placeholders(10)+`)`),
		inc.ID, inc.Policy, inc.Metric, inc.Value, inc.Threshold, inc.OpenedAt.UTC(),
		inc.LastBreachAt.UTC(), inc.LastNotifiedAt.UTC(), inc.NotifyCount, utcPtr(inc.ClosedAt))
	if err != nil {
		return fmt.Errorf("create incident %s: %w", inc.ID, err)
	}
	return nil
}

func (r *sqlRepository) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	w := r.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`UPDATE alert_incidents SET
			observed_value = ?, last_breach_at = ?, last_notified_at = ?, notify_count = ?, closed_at = ?
		WHERE id = ?`),
		inc.Value, inc.LastBreachAt.UTC(), inc.LastNotifiedAt.UTC(), inc.NotifyCount, utcPtr(inc.ClosedAt), inc.ID)
	if err != nil {
		return fmt.Errorf("update incident %s: %w", inc.ID, err)
	}
	return nil
}

func (r *sqlRepository) ListIncidents(ctx context.Context, openOnly bool, limit int) ([]*models.Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + incidentColumns + ` FROM alert_incidents`
	if openOnly {
		query += ` WHERE closed_at IS NULL`
	}
	query += ` ORDER BY opened_at DESC LIMIT ?`
	reader := r.pool.Reader()
	var incidents []*models.Incident
	if err := reader.SelectContext(ctx, &incidents, reader.Rebind(query), limit); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incidents, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
