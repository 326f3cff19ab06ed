// Package writer applies a reconciliation plan to the catalog, one prompt at a
// time, resolving lost optimistic-concurrency races by re-reading and re-planning.
package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
	"github.com/gstripling00/prompt-system/internal/catalog/store"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	ingmodels "github.com/gstripling00/prompt-system/internal/ingestion/models"
	"github.com/gstripling00/prompt-system/internal/ingestion/reconcile"
	monmodels "github.com/gstripling00/prompt-system/internal/monitor/models"
)

const (
	defaultConflictDelay = 20 * time.Millisecond
	signalTimeout        = 5 * time.Second
)

// Repository is the slice of the catalog store the writer needs.
type Repository interface {
	GetPrompt(ctx context.Context, promptID string) (*models.PromptRecord, error)
	ApplyChange(ctx context.Context, change store.Change) error
}

// SignalRecorder receives warehouse_write failure signals.
type SignalRecorder interface {
	RecordSignal(ctx context.Context, signal monmodels.Signal) error
}

// Options configures a Writer.
type Options struct {
	MaxConflictRetries uint
	// ConflictDelay is the base backoff between conflict retries.
	ConflictDelay time.Duration
}

// Writer applies plans. It is safe for concurrent use; each Apply call writes sequentially.
type Writer struct {
	repo    Repository
	signals SignalRecorder
	opts    Options
	log     *logger.Logger
}

// New creates a Writer. signals may be nil.
func New(repo Repository, signals SignalRecorder, opts Options, log *logger.Logger) *Writer {
	if opts.ConflictDelay <= 0 {
		opts.ConflictDelay = defaultConflictDelay
	}
	return &Writer{repo: repo, signals: signals, opts: opts, log: log.WithComponent("catalog-writer")}
}

// Outcome is what a plan actually did once races were resolved.
type Outcome struct {
	Applied   []reconcile.Item
	Inserted  int
	Updated   int
	Archived  int
	Unchanged int
	Errors    []ingmodels.RowError
}

func (o *Outcome) count(item reconcile.Item) {
	switch item.Action {
	case reconcile.ActionInsert:
		o.Inserted++
	case reconcile.ActionUpdate:
		o.Updated++
	case reconcile.ActionArchive:
		o.Archived++
	default:
		o.Unchanged++
		return
	}
	o.Applied = append(o.Applied, item)
}

// Apply writes every item of plan. A prompt that keeps losing races becomes a
// write_conflict error and the rest of the plan continues. Any other failure is
// systemic: Apply stops and returns it together with what was written so far.
func (w *Writer) Apply(ctx context.Context, plan *reconcile.Plan) (*Outcome, error) {
	out := &Outcome{}
	for _, item := range plan.Items {
		if item.Action == reconcile.ActionNone {
			out.count(item)
			continue
		}
		final, err := w.applyItem(ctx, plan, item)
		switch {
		case err == nil:
			out.count(final)
		case errors.Is(err, store.ErrVersionConflict):
			w.log.Warn("prompt write kept conflicting",
				zap.String("prompt_id", item.PromptID),
				zap.Uint("attempts", w.opts.MaxConflictRetries+1))
			out.Errors = append(out.Errors, ingmodels.RowError{
				Row:      item.Row,
				PromptID: item.PromptID,
				Kind:     ingmodels.KindWriteConflict,
				Message:  fmt.Sprintf("version changed concurrently on every one of %d attempts", w.opts.MaxConflictRetries+1),
			})
		default:
			w.recordFailure(ctx, item, err)
			return out, fmt.Errorf("write prompt %s: %w", item.PromptID, err)
		}
	}
	return out, nil
}

func (w *Writer) applyItem(ctx context.Context, plan *reconcile.Plan, item reconcile.Item) (reconcile.Item, error) {
	current := item
	stale := false
	err := retry.Do(
		func() error {
			if stale {
				latest, err := w.repo.GetPrompt(ctx, current.PromptID)
				if err != nil && !errors.Is(err, store.ErrPromptNotFound) {
					return err
				}
				current = plan.Reclassify(current, latest)
				stale = false
			}
			if current.Action == reconcile.ActionNone {
				return nil
			}
			err := w.repo.ApplyChange(ctx, store.Change{
				Type:            models.ChangeType(current.Action),
				ExpectedVersion: current.ExpectedVersion,
				Record:          current.Record,
				History:         current.History,
			})
			if errors.Is(err, store.ErrVersionConflict) {
				stale = true
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(w.opts.MaxConflictRetries+1),
		retry.Delay(w.opts.ConflictDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, store.ErrVersionConflict)
		}),
		retry.OnRetry(func(n uint, err error) {
			w.log.Debug("retrying prompt after version conflict",
				zap.String("prompt_id", item.PromptID), zap.Uint("attempt", n+1))
		}),
	)
	if err != nil {
		return item, err
	}
	if current.Action != reconcile.ActionNone {
		w.log.Debug("prompt written",
			zap.String("prompt_id", current.PromptID),
			zap.String("action", string(current.Action)),
			zap.Int("version", current.NewVersion))
	}
	return current, nil
}

func (w *Writer) recordFailure(ctx context.Context, item reconcile.Item, cause error) {
	if w.signals == nil {
		return
	}
	detail := fmt.Sprintf("%s %s: %v", item.Action, item.PromptID, cause)
	// The invocation context may be the one that expired.
	sigCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signalTimeout)
	defer cancel()
	if err := w.signals.RecordSignal(sigCtx, monmodels.Failure(monmodels.SourceWarehouseWrite, detail)); err != nil {
		w.log.WithError(err).Error("failed to record warehouse write signal")
	}
}
