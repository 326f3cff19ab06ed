// Package service runs one ingestion invocation end to end: read the landed
// batch, validate it, reconcile it against one snapshot of the catalog, write
// the plan and record the run.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	catalogmodels "github.com/gstripling00/prompt-system/internal/catalog/models"
	catalogstore "github.com/gstripling00/prompt-system/internal/catalog/store"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/events"
	"github.com/gstripling00/prompt-system/internal/events/bus"
	"github.com/gstripling00/prompt-system/internal/ingestion/models"
	"github.com/gstripling00/prompt-system/internal/ingestion/parser"
	"github.com/gstripling00/prompt-system/internal/ingestion/reconcile"
	ingstore "github.com/gstripling00/prompt-system/internal/ingestion/store"
	"github.com/gstripling00/prompt-system/internal/ingestion/writer"
	"github.com/gstripling00/prompt-system/internal/landing"
	monmodels "github.com/gstripling00/prompt-system/internal/monitor/models"
	"github.com/gstripling00/prompt-system/internal/tracing"
)

const (
	tracerName    = "ingestion"
	finishTimeout = 30 * time.Second
)

// SignalRecorder receives pipeline and warehouse_write health signals.
type SignalRecorder interface {
	RecordSignal(ctx context.Context, signal monmodels.Signal) error
}

type Options struct {
	ArchivePolicy      reconcile.Policy
	TagDelimiter       string
	ChangedBy          string
	MaxConflictRetries uint
	InvocationTimeout  time.Duration
	StorageTimeout     time.Duration
	WriteTimeout       time.Duration
}

type Service struct {
	landing  landing.Store
	catalog  catalogstore.Repository
	runs     ingstore.Repository
	parser   *parser.Parser
	writer   *writer.Writer
	signals  SignalRecorder
	eventBus bus.EventBus
	opts     Options
	now      func() time.Time
	log      *logger.Logger
}

// NewService wires the pipeline. signals and eventBus may be nil.
func NewService(
	landingStore landing.Store,
	catalog catalogstore.Repository,
	runs ingstore.Repository,
	signals SignalRecorder,
	eventBus bus.EventBus,
	opts Options,
	log *logger.Logger,
) (*Service, error) {
	p, err := parser.New(parser.Options{TagDelimiter: opts.TagDelimiter})
	if err != nil {
		return nil, err
	}
	if opts.ChangedBy == "" {
		opts.ChangedBy = "ingestion-pipeline"
	}
	return &Service{
		landing:  landingStore,
		catalog:  catalog,
		runs:     runs,
		parser:   p,
		writer:   writer.New(catalog, signals, writer.Options{MaxConflictRetries: opts.MaxConflictRetries}, log),
		signals:  signals,
		eventBus: eventBus,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.WithComponent("ingestion"),
	}, nil
}

// Process ingests one landed batch. It returns an error only for systemic
// failures, which the caller should retry by redelivering the batch; rejected
// batches and row errors are reported in the Report.
func (s *Service) Process(ctx context.Context, ref models.BatchRef) (report *models.Report, err error) {
	if s.opts.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.InvocationTimeout)
		defer cancel()
	}

	run := &models.Run{
		ID:         uuid.New().String(),
		Bucket:     ref.Bucket,
		Object:     ref.Name,
		Generation: ref.Generation,
		Status:     models.RunStatusRunning,
		StartedAt:  s.now(),
	}
	ctx = context.WithValue(ctx, logger.RunIDKey, run.ID)
	log := s.log.WithContext(ctx).WithFields(zap.String("object", ref.String()))

	ctx, span := tracing.Start(ctx, tracerName, "ingestion.process",
		attribute.String("run_id", run.ID),
		attribute.String("object", ref.String()),
		attribute.String("generation", ref.Generation))
	defer func() { tracing.End(span, err) }()

	if err := s.runs.CreateRun(ctx, run); err != nil {
		s.recordSignal(ctx, monmodels.Failure(monmodels.SourcePipeline, err.Error()))
		return nil, fmt.Errorf("open ingestion run: %w", err)
	}
	log.Info("ingestion started")

	report = &models.Report{Run: run}
	procErr := s.process(ctx, ref, report, log)
	s.finish(ctx, report, procErr, log)
	if procErr != nil {
		return report, procErr
	}
	return report, nil
}

func (s *Service) process(ctx context.Context, ref models.BatchRef, report *models.Report, log *logger.Logger) error {
	run := report.Run

	result, err := s.read(ctx, ref)
	if errors.Is(err, landing.ErrObjectNotFound) || errors.Is(err, landing.ErrInvalidName) {
		report.Errors = append(report.Errors, models.RowError{Kind: models.KindValidation, Message: err.Error()})
		run.Status = models.RunStatusRejected
		return nil
	}
	if err != nil {
		return s.systemic(report, fmt.Errorf("read batch: %w", err))
	}
	run.RowsTotal = result.Rows
	report.Errors = append(report.Errors, result.Errors...)
	if result.Rejected() {
		run.Status = models.RunStatusRejected
		log.Warn("batch rejected", zap.String("kind", string(result.BatchErr.Kind)), zap.String("reason", result.BatchErr.Message))
		return nil
	}

	snapCtx, span := tracing.Start(ctx, tracerName, "ingestion.snapshot")
	snapshot, err := s.catalog.Snapshot(snapCtx)
	tracing.End(span, err)
	if err != nil {
		return s.systemic(report, err)
	}

	plan := reconcile.Reconcile(snapshot, result.Candidates, reconcile.Options{
		Now:         s.now(),
		ChangedBy:   s.opts.ChangedBy,
		Policy:      s.opts.ArchivePolicy,
		SkipArchive: hasValidationErrors(result.Errors),
	})
	planned := plan.Counts()
	log.Debug("batch reconciled",
		zap.Int("insert", planned[reconcile.ActionInsert]),
		zap.Int("update", planned[reconcile.ActionUpdate]),
		zap.Int("archive", planned[reconcile.ActionArchive]),
		zap.Int("none", planned[reconcile.ActionNone]))

	writeCtx := ctx
	if s.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
	}
	writeCtx, span = tracing.Start(writeCtx, tracerName, "ingestion.write",
		attribute.Int("items", len(plan.Items)))
	outcome, err := s.writer.Apply(writeCtx, plan)
	tracing.End(span, err)

	run.Inserted = outcome.Inserted
	run.Updated = outcome.Updated
	run.Archived = outcome.Archived
	run.Unchanged = outcome.Unchanged
	report.Errors = append(report.Errors, outcome.Errors...)
	s.publishChanges(ctx, run.ID, outcome.Applied)
	if err != nil {
		return s.systemic(report, err)
	}
	return nil
}

// read opens the object under the storage timeout and parses it while the read is still bounded.
func (s *Service) read(ctx context.Context, ref models.BatchRef) (*parser.Result, error) {
	if s.opts.StorageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StorageTimeout)
		defer cancel()
	}
	ctx, span := tracing.Start(ctx, tracerName, "ingestion.read")
	var err error
	defer func() { tracing.End(span, err) }()

	rc, err := s.landing.Open(ctx, landing.ObjectRef{Bucket: ref.Bucket, Name: ref.Name, Generation: ref.Generation})
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	result, err := s.parser.Parse(rc, ref.Name)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) systemic(report *models.Report, err error) error {
	report.Run.Status = models.RunStatusFailed
	report.Errors = append(report.Errors, models.RowError{Kind: models.KindSystemic, Message: err.Error()})
	return err
}

// finish records the terminal run state. It runs on a fresh context because
// the invocation context may already have expired.
func (s *Service) finish(ctx context.Context, report *models.Report, procErr error, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	run := report.Run
	switch {
	case procErr != nil:
		run.Status = models.RunStatusFailed
		msg := procErr.Error()
		run.Message = &msg
	case run.Status == models.RunStatusRejected:
		for _, e := range report.Errors {
			if e.Kind != models.KindUnrecognizedField {
				msg := e.Message
				run.Message = &msg
				break
			}
		}
	case len(report.Errors) > 0:
		run.Status = models.RunStatusCompletedWithErrors
	default:
		run.Status = models.RunStatusCompleted
	}
	finished := s.now()
	run.FinishedAt = &finished
	run.ErrorCount = len(report.Errors)

	if err := s.runs.AddErrors(ctx, run.ID, report.Errors); err != nil {
		log.WithError(err).Error("failed to store ingestion errors")
		s.recordSignal(ctx, monmodels.Failure(monmodels.SourceWarehouseWrite, err.Error()))
	}
	if err := s.runs.FinishRun(ctx, run); err != nil {
		log.WithError(err).Error("failed to finish ingestion run")
		s.recordSignal(ctx, monmodels.Failure(monmodels.SourceWarehouseWrite, err.Error()))
	}

	if run.Status.Succeeded() {
		s.recordSignal(ctx, monmodels.Success(monmodels.SourcePipeline))
	} else {
		s.recordSignal(ctx, monmodels.Failure(monmodels.SourcePipeline, procErr.Error()))
	}

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("rows", run.RowsTotal),
		zap.Int("inserted", run.Inserted),
		zap.Int("updated", run.Updated),
		zap.Int("archived", run.Archived),
		zap.Int("unchanged", run.Unchanged),
		zap.Int("errors", run.ErrorCount),
		zap.Duration("duration", finished.Sub(run.StartedAt)),
	}
	if procErr != nil {
		log.WithError(procErr).Error("ingestion failed", fields...)
	} else {
		log.Info("ingestion finished", fields...)
	}

	s.publish(ctx, events.IngestionRunCompleted, events.RunCompleted{
		RunID:      run.ID,
		Bucket:     run.Bucket,
		Object:     run.Object,
		Status:     string(run.Status),
		Inserted:   run.Inserted,
		Updated:    run.Updated,
		Archived:   run.Archived,
		Unchanged:  run.Unchanged,
		ErrorCount: run.ErrorCount,
	})
}

func (s *Service) publishChanges(ctx context.Context, runID string, applied []reconcile.Item) {
	for _, item := range applied {
		s.publish(ctx, events.CatalogPromptChanged, events.PromptChanged{
			RunID:      runID,
			PromptID:   item.PromptID,
			Version:    item.NewVersion,
			ChangeType: string(catalogmodels.ChangeType(item.Action)),
		})
	}
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if s.eventBus == nil {
		return
	}
	event, err := bus.NewEvent(subject, events.SourcePipeline, payload)
	if err == nil {
		err = s.eventBus.Publish(ctx, subject, event)
	}
	if err != nil {
		s.log.WithError(err).Warn("failed to publish event", zap.String("subject", subject))
	}
}

func (s *Service) recordSignal(ctx context.Context, signal monmodels.Signal) {
	if s.signals == nil {
		return
	}
	if err := s.signals.RecordSignal(ctx, signal); err != nil {
		s.log.WithError(err).Error("failed to record health signal", zap.String("source", string(signal.Source)))
	}
}

func hasValidationErrors(errs []models.RowError) bool {
	for _, e := range errs {
		if e.Kind == models.KindValidation {
			return true
		}
	}
	return false
}
