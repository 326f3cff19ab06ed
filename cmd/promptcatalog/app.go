package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	catalogstore "github.com/gstripling00/prompt-system/internal/catalog/store"
	"github.com/gstripling00/prompt-system/internal/common/config"
	"github.com/gstripling00/prompt-system/internal/common/constants"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/db"
	"github.com/gstripling00/prompt-system/internal/events"
	"github.com/gstripling00/prompt-system/internal/ingestion/reconcile"
	ingservice "github.com/gstripling00/prompt-system/internal/ingestion/service"
	ingstore "github.com/gstripling00/prompt-system/internal/ingestion/store"
	"github.com/gstripling00/prompt-system/internal/landing"
	monservice "github.com/gstripling00/prompt-system/internal/monitor/service"
	monstore "github.com/gstripling00/prompt-system/internal/monitor/store"
	"github.com/gstripling00/prompt-system/internal/notifications/providers"
	"github.com/gstripling00/prompt-system/internal/persistence"
	usageservice "github.com/gstripling00/prompt-system/internal/usage/service"
	usagestore "github.com/gstripling00/prompt-system/internal/usage/store"
)

// app holds the shared infrastructure every command builds on.
type app struct {
	cfg *config.Config
	log *logger.Logger

	pool      *db.Pool
	bus       *events.ProvidedBus
	landing   landing.Store
	matcher   landing.Matcher
	catalog   catalogstore.Repository
	runs      ingstore.Repository
	monitor   *monservice.Service
	usage     *usageservice.Service
	ingestion *ingservice.Service

	cleanups []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log, matcher: landing.MatcherFromConfig(cfg.Landing)}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	pool, cleanup, err := persistence.Provide(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.cleanups = append(a.cleanups, cleanup)

	catalog, _, err := catalogstore.Provide(pool)
	if err != nil {
		return nil, fmt.Errorf("init catalog tables: %w", err)
	}
	runs, _, err := ingstore.Provide(pool)
	if err != nil {
		return nil, fmt.Errorf("init ingestion tables: %w", err)
	}
	signals, _, err := monstore.Provide(pool)
	if err != nil {
		return nil, fmt.Errorf("init monitor tables: %w", err)
	}
	usageRepo, _, err := usagestore.Provide(pool)
	if err != nil {
		return nil, fmt.Errorf("init usage tables: %w", err)
	}
	a.catalog, a.runs = catalog, runs

	provided, busCleanup, err := events.Provide(cfg.NATS, log)
	if err != nil {
		return nil, err
	}
	a.bus = provided
	a.cleanups = append(a.cleanups, busCleanup)

	notifier, err := providers.New(cfg.Notifications, log)
	if err != nil {
		return nil, err
	}
	policies, err := monservice.PoliciesFromConfig(cfg.Monitor)
	if err != nil {
		return nil, err
	}
	_, _, cooldown, autoClose := cfg.Monitor.Durations()
	a.monitor = monservice.NewService(signals, notifier, policies, monservice.Options{
		Cooldown:  cooldown,
		AutoClose: autoClose,
		Retention: constants.SignalRetention,
	}, log)
	a.usage = usageservice.NewService(usageRepo, a.monitor, log)

	store, landingCleanup, err := landing.Provide(ctx, cfg.Landing, log)
	if err != nil {
		return nil, err
	}
	a.landing = store
	a.cleanups = append(a.cleanups, landingCleanup)

	policy, err := reconcile.ParsePolicy(cfg.Ingestion.ArchivePolicy)
	if err != nil {
		return nil, err
	}
	a.ingestion, err = ingservice.NewService(store, catalog, runs, a.monitor, provided.Bus, ingservice.Options{
		ArchivePolicy:      policy,
		TagDelimiter:       cfg.Ingestion.TagDelimiter,
		ChangedBy:          cfg.Ingestion.ChangedBy,
		MaxConflictRetries: uint(cfg.Ingestion.MaxConflictRetries),
		InvocationTimeout:  cfg.Ingestion.InvocationTimeoutDuration(),
		StorageTimeout:     cfg.Ingestion.StorageTimeoutDuration(),
		WriteTimeout:       cfg.Ingestion.WriteTimeoutDuration(),
	}, log)
	if err != nil {
		return nil, err
	}

	log.Info("Application initialized",
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("landing_mode", cfg.Landing.Mode),
		zap.String("archive_policy", string(policy)),
		zap.String("notifier", notifier.Name()))
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}
