// Package service exposes the read side of the prompt catalog and the batch upload path.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
	catalogstore "github.com/gstripling00/prompt-system/internal/catalog/store"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/events"
	"github.com/gstripling00/prompt-system/internal/events/bus"
	"github.com/gstripling00/prompt-system/internal/ingestion/trigger"
	"github.com/gstripling00/prompt-system/internal/landing"
)

var (
	ErrPromptNotFound = errors.New("prompt not found")
	ErrInvalidPhase   = errors.New("invalid phase")
	ErrInvalidBatch   = errors.New("invalid batch upload")
)

// Options.PublishUploads makes UploadBatch emit the landing event itself.
// When the local watcher observes the landing directory it emits the event itself.
type Options struct {
	PublishUploads bool
}

type Service struct {
	repo     catalogstore.Repository
	landing  landing.Store
	matcher  landing.Matcher
	eventBus bus.EventBus
	opts     Options
	log      *logger.Logger
}

func NewService(repo catalogstore.Repository, store landing.Store, matcher landing.Matcher, eventBus bus.EventBus, opts Options, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		landing:  store,
		matcher:  matcher,
		eventBus: eventBus,
		opts:     opts,
		log:      log.WithComponent("catalog-service"),
	}
}

// ListPrompts returns prompts ordered by phase, name and id. An empty phase lists every phase.
func (s *Service) ListPrompts(ctx context.Context, phase string, includeInactive bool, limit int) ([]*models.PromptRecord, error) {
	filter := catalogstore.ListFilter{IncludeInactive: includeInactive, Limit: limit}
	if strings.TrimSpace(phase) != "" {
		p, ok := models.ParsePhase(phase)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPhase, phase)
		}
		filter.Phase = p
	}
	return s.repo.ListPrompts(ctx, filter)
}

func (s *Service) GetPrompt(ctx context.Context, promptID string) (*models.PromptRecord, error) {
	prompt, err := s.repo.GetPrompt(ctx, strings.TrimSpace(promptID))
	if errors.Is(err, catalogstore.ErrPromptNotFound) {
		return nil, ErrPromptNotFound
	}
	return prompt, err
}

// History returns the version transitions of a prompt, oldest first.
func (s *Service) History(ctx context.Context, promptID string) ([]*models.HistoryEntry, error) {
	if _, err := s.GetPrompt(ctx, promptID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, strings.TrimSpace(promptID))
}

// UploadBatch lands a batch file under the configured prefix. Ingestion happens
// asynchronously once the landing event is consumed.
func (s *Service) UploadBatch(ctx context.Context, filename string, body io.Reader) (landing.ObjectRef, error) {
	name, err := landing.CleanName(s.matcher.Prefix + baseName(filename))
	if err != nil {
		return landing.ObjectRef{}, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	if !s.matcher.Match(name) {
		return landing.ObjectRef{}, fmt.Errorf("%w: %s does not match %v", ErrInvalidBatch, filename, s.matcher.Patterns)
	}

	ref, err := s.landing.Put(ctx, name, body)
	if err != nil {
		return landing.ObjectRef{}, fmt.Errorf("land batch %s: %w", name, err)
	}
	s.log.Info("batch uploaded", zap.String("object", ref.Name), zap.String("generation", ref.Generation), zap.Int64("size", ref.Size))

	if s.opts.PublishUploads {
		if err := trigger.Notify(ctx, s.eventBus, events.SourceUpload, ref); err != nil {
			return ref, fmt.Errorf("publish landing event: %w", err)
		}
	}
	return ref, nil
}

// ListBatches returns the landed objects under the configured prefix that are ingestion batches.
func (s *Service) ListBatches(ctx context.Context) ([]landing.ObjectRef, error) {
	refs, err := s.landing.List(ctx, s.matcher.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list landed batches: %w", err)
	}
	batches := make([]landing.ObjectRef, 0, len(refs))
	for _, ref := range refs {
		if s.matcher.Match(ref.Name) {
			batches = append(batches, ref)
		}
	}
	return batches, nil
}

func baseName(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		filename = filename[i+1:]
	}
	return strings.TrimSpace(filename)
}
