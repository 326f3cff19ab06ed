// Package service records usage events from the retrieval agent and the REST API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/common/logger"
	monmodels "github.com/gstripling00/prompt-system/internal/monitor/models"
	"github.com/gstripling00/prompt-system/internal/tracing"
	"github.com/gstripling00/prompt-system/internal/usage/models"
	"github.com/gstripling00/prompt-system/internal/usage/store"
)

// ErrInvalidEvent wraps every validation failure of Record.
var ErrInvalidEvent = errors.New("invalid usage event")

// SignalRecorder receives warehouse_write failure signals.
type SignalRecorder interface {
	RecordSignal(ctx context.Context, signal monmodels.Signal) error
}

type Service struct {
	repo    store.Repository
	signals SignalRecorder
	now     func() time.Time
	log     *logger.Logger
}

// NewService creates the usage recorder. signals may be nil.
func NewService(repo store.Repository, signals SignalRecorder, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		signals: signals,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.WithComponent("usage-recorder"),
	}
}

// Record appends event and refreshes the prompt's usage_count and avg_rating.
// An unknown prompt is not an error: the event is kept and Result carries a warning.
// Resending a usage_id is idempotent and reports Duplicate.
func (s *Service) Record(ctx context.Context, event models.Event) (result *models.Result, err error) {
	event.PromptID = strings.TrimSpace(event.PromptID)
	if err := validate(&event); err != nil {
		return nil, err
	}
	if event.UsageID == "" {
		event.UsageID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	ctx, span := tracing.Start(ctx, "usage", "usage.record",
		attribute.String("prompt_id", event.PromptID),
		attribute.String("usage_id", event.UsageID))
	defer func() { tracing.End(span, err) }()

	recorded, err := s.repo.Record(ctx, &event)
	if err != nil {
		s.recordFailure(ctx, event, err)
		return nil, err
	}

	result = &models.Result{UsageID: event.UsageID, Duplicate: recorded.Duplicate}
	if recorded.Duplicate {
		s.log.WithPromptID(event.PromptID).Info("usage event already recorded",
			zap.String("usage_id", event.UsageID))
	}
	counters := recorded.Counters
	if counters == nil {
		warning := fmt.Sprintf("prompt %q not found; usage recorded without updating counters", event.PromptID)
		result.Warnings = append(result.Warnings, warning)
		s.log.WithPromptID(event.PromptID).Warn("usage recorded for unknown prompt",
			zap.String("usage_id", event.UsageID))
		return result, nil
	}
	result.CountersUpdated = !recorded.Duplicate
	result.UsageCount = counters.UsageCount
	result.AvgRating = counters.AvgRating
	return result, nil
}

// Summary aggregates every recorded event of promptID.
func (s *Service) Summary(ctx context.Context, promptID string) (*models.Summary, error) {
	return s.repo.Summary(ctx, promptID)
}

// Events lists the most recent events of promptID.
func (s *Service) Events(ctx context.Context, promptID string, limit int) ([]*models.Event, error) {
	return s.repo.ListEvents(ctx, promptID, limit)
}

func validate(event *models.Event) error {
	if event.PromptID == "" {
		return fmt.Errorf("%w: prompt_id is required", ErrInvalidEvent)
	}
	if r := event.FeedbackRating; r != nil && (*r < 1 || *r > 5) {
		return fmt.Errorf("%w: feedback_rating must be between 1 and 5, got %d", ErrInvalidEvent, *r)
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, event models.Event, cause error) {
	s.log.WithPromptID(event.PromptID).WithError(cause).Error("failed to record usage event",
		zap.String("usage_id", event.UsageID))
	if s.signals == nil {
		return
	}
	detail := fmt.Sprintf("usage %s for %s: %v", event.UsageID, event.PromptID, cause)
	if err := s.signals.RecordSignal(context.WithoutCancel(ctx), monmodels.Failure(monmodels.SourceWarehouseWrite, detail)); err != nil {
		s.log.WithError(err).Error("failed to record warehouse write signal")
	}
}
