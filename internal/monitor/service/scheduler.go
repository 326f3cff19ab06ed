package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/events"
	"github.com/gstripling00/prompt-system/internal/events/bus"
)

// Scheduler runs Evaluate on a cron schedule and after every completed ingestion run.
// Evaluations never overlap.
type Scheduler struct {
	svc      *Service
	schedule string
	eventBus bus.EventBus
	log      *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
	sub  bus.Subscription
}

func NewScheduler(svc *Service, schedule string, eventBus bus.EventBus, log *logger.Logger) *Scheduler {
	return &Scheduler{svc: svc, schedule: schedule, eventBus: eventBus, log: log.WithComponent("monitor-scheduler")}
}

// Start registers the cron entry and the run-completed subscription.
func (s *Scheduler) Start(ctx context.Context) error {
	engine := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := engine.AddFunc(s.schedule, func() { s.run(ctx, "schedule") }); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", s.schedule, err)
	}
	s.cron = engine

	if s.eventBus != nil {
		sub, err := s.eventBus.Subscribe(events.IngestionRunCompleted, func(ctx context.Context, _ *bus.Event) error {
			s.run(ctx, "run_completed")
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", events.IngestionRunCompleted, err)
		}
		s.sub = sub
	}

	engine.Start()
	s.log.Info("health monitor started")
	return nil
}

// Stop removes the subscription and waits for a running scheduled evaluation.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("monitor shutdown timed out with an evaluation in progress")
	}
}

func (s *Scheduler) run(ctx context.Context, trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.svc.Evaluate(ctx); err != nil {
		s.log.WithError(err).Warn("health evaluation incomplete", zap.String("trigger", trigger))
	}
}
