// Package service evaluates alert policies over persisted health signals and
// notifies the operator channel when they open, repeat or resolve.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/common/constants"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/monitor/models"
	"github.com/gstripling00/prompt-system/internal/monitor/store"
	"github.com/gstripling00/prompt-system/internal/notifications/providers"
)

// Action is what an evaluation did for one policy.
type Action string

const (
	ActionNone       Action = "none"
	ActionOpened     Action = "opened"
	ActionRenotified Action = "renotified"
	ActionSuppressed Action = "suppressed"
	ActionClosed     Action = "closed"
)

// Result reports one policy evaluation.
type Result struct {
	Policy     string  `json:"policy" yaml:"policy"`
	Metric     string  `json:"metric" yaml:"metric"`
	Value      float64 `json:"value" yaml:"value"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
	Samples    int     `json:"samples" yaml:"samples"`
	Breached   bool    `json:"breached" yaml:"breached"`
	Action     Action  `json:"action" yaml:"action"`
	IncidentID string  `json:"incident_id,omitempty" yaml:"incident_id,omitempty"`
}

type Options struct {
	Cooldown  time.Duration
	AutoClose time.Duration
	// Retention bounds how long signals are kept; zero keeps them forever.
	Retention time.Duration
	Now       func() time.Time
}

type Service struct {
	repo     store.Repository
	notifier providers.Provider
	policies []Policy
	opts     Options
	log      *logger.Logger
}

func NewService(repo store.Repository, notifier providers.Provider, policies []Policy, opts Options, log *logger.Logger) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		policies: policies,
		opts:     opts,
		log:      log.WithComponent("health-monitor"),
	}
}

// RecordSignal persists one success or failure observation.
func (s *Service) RecordSignal(ctx context.Context, signal models.Signal) error {
	if signal.ObservedAt.IsZero() {
		signal.ObservedAt = s.opts.Now()
	}
	return s.repo.RecordSignal(ctx, &signal)
}

// ListIncidents returns recent incidents, newest first.
func (s *Service) ListIncidents(ctx context.Context, openOnly bool, limit int) ([]*models.Incident, error) {
	return s.repo.ListIncidents(ctx, openOnly, limit)
}

// Evaluate runs every policy once against the signals in the warehouse. A
// policy that fails to evaluate is logged and the rest still run; the first
// such error is returned.
func (s *Service) Evaluate(ctx context.Context) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.MonitorEvaluationTimeout)
	defer cancel()

	now := s.opts.Now()
	results := make([]Result, 0, len(s.policies))
	var firstErr error
	for _, p := range s.policies {
		res, err := s.evaluate(ctx, p, now)
		if err != nil {
			s.log.WithError(err).Error("policy evaluation failed", zap.String("policy", p.Name))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, res)
	}

	if s.opts.Retention > 0 {
		if n, err := s.repo.PruneSignals(ctx, now.Add(-s.opts.Retention)); err != nil {
			s.log.WithError(err).Warn("failed to prune health signals")
		} else if n > 0 {
			s.log.Debug("pruned health signals", zap.Int64("count", n))
		}
	}
	return results, firstErr
}

func (s *Service) evaluate(ctx context.Context, p Policy, now time.Time) (Result, error) {
	window, err := s.repo.Window(ctx, p.Source, now.Add(-p.Window))
	if err != nil {
		return Result{}, err
	}
	value, breached := p.Measure(window)
	res := Result{
		Policy:    p.Name,
		Metric:    p.Metric,
		Value:     value,
		Threshold: p.Threshold,
		Samples:   window.Total,
		Breached:  breached,
		Action:    ActionNone,
	}

	incident, err := s.repo.OpenIncident(ctx, p.Name)
	if err != nil {
		return Result{}, err
	}

	switch {
	case breached && incident == nil:
		incident = &models.Incident{
			ID:           uuid.New().String(),
			Policy:       p.Name,
			Metric:       p.Metric,
			Value:        value,
			Threshold:    p.Threshold,
			OpenedAt:     now,
			LastBreachAt: now,
			// A failed first delivery leaves the incident due for re-notification.
			LastNotifiedAt: now.Add(-s.opts.Cooldown),
		}
		if s.notify(ctx, incident, providers.StateFiring, now) {
			incident.LastNotifiedAt = now
			incident.NotifyCount = 1
		}
		if err := s.repo.CreateIncident(ctx, incident); err != nil {
			return Result{}, err
		}
		res.Action = ActionOpened

	case breached:
		incident.Value = value
		incident.LastBreachAt = now
		res.Action = ActionSuppressed
		if now.Sub(incident.LastNotifiedAt) >= s.opts.Cooldown {
			if s.notify(ctx, incident, providers.StateFiring, now) {
				incident.LastNotifiedAt = now
				incident.NotifyCount++
				res.Action = ActionRenotified
			}
		}
		if err := s.repo.UpdateIncident(ctx, incident); err != nil {
			return Result{}, err
		}

	case incident != nil && now.Sub(incident.LastBreachAt) >= s.opts.AutoClose:
		incident.Value = value
		incident.ClosedAt = &now
		if err := s.repo.UpdateIncident(ctx, incident); err != nil {
			return Result{}, err
		}
		s.notify(ctx, incident, providers.StateResolved, now)
		res.Action = ActionClosed
	}

	if incident != nil {
		res.IncidentID = incident.ID
	}
	if res.Action != ActionNone {
		s.log.Info("alert policy evaluated",
			zap.String("policy", p.Name),
			zap.Float64("value", value),
			zap.Float64("threshold", p.Threshold),
			zap.String("action", string(res.Action)))
	}
	return res, nil
}

func (s *Service) notify(ctx context.Context, incident *models.Incident, state string, now time.Time) bool {
	if s.notifier == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, constants.NotificationTimeout)
	defer cancel()

	msg := providers.Message{
		Policy:     incident.Policy,
		Metric:     incident.Metric,
		Value:      incident.Value,
		Threshold:  incident.Threshold,
		State:      state,
		IncidentID: incident.ID,
		ObservedAt: now,
	}
	if state == providers.StateResolved {
		msg.Title = fmt.Sprintf("Resolved: %s", incident.Policy)
		msg.Body = fmt.Sprintf("%s is back within threshold %g (last value %g).", incident.Metric, incident.Threshold, incident.Value)
	} else {
		msg.Title = fmt.Sprintf("Alert: %s", incident.Policy)
		msg.Body = fmt.Sprintf("%s is %g, above threshold %g.", incident.Metric, incident.Value, incident.Threshold)
	}

	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log.WithError(err).Error("failed to deliver alert notification",
			zap.String("policy", incident.Policy),
			zap.String("provider", s.notifier.Name()))
		return false
	}
	return true
}
