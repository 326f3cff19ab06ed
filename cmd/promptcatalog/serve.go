package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gstripling00/prompt-system/internal/catalog/controller"
	cataloghandlers "github.com/gstripling00/prompt-system/internal/catalog/handlers"
	catalogservice "github.com/gstripling00/prompt-system/internal/catalog/service"
	"github.com/gstripling00/prompt-system/internal/common/constants"
	"github.com/gstripling00/prompt-system/internal/common/httpmw"
	"github.com/gstripling00/prompt-system/internal/events"
	"github.com/gstripling00/prompt-system/internal/ingestion/trigger"
	"github.com/gstripling00/prompt-system/internal/landing"
	monservice "github.com/gstripling00/prompt-system/internal/monitor/service"
	"github.com/gstripling00/prompt-system/internal/tracing"
	"github.com/gstripling00/prompt-system/internal/webhook"
)

const serverName = "promptcatalog"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, ingestion trigger and health monitor",
	Long: `Run the prompt catalog service.

Endpoints:
  /health                   liveness
  /api/v1/...               catalog, batches, ingestion runs, usage and alerts
  /api/v1/triggers/gcs      Cloud Storage notification push endpoint
  /webhook                  retrieval agent webhook

Landed batch files are ingested as landing events arrive. With landing.mode
local and landing.watch enabled, the landing directory is watched directly.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.WithError(err).Warn("cleanup failed")
		}
	}()

	eventBus := a.bus.Bus
	dispatcher := trigger.NewDispatcher(a.ingestion, eventBus, a.matcher, trigger.Options{
		Attempts: uint(cfg.Ingestion.TriggerAttempts),
	}, log)
	if err := dispatcher.Start(); err != nil {
		return err
	}
	defer dispatcher.Stop()

	var watcher *landing.Watcher
	if local, ok := a.landing.(*landing.LocalStore); ok && cfg.Landing.Watch {
		watcher = landing.NewWatcher(local, a.matcher, func(ctx context.Context, ref landing.ObjectRef) {
			if err := trigger.Notify(ctx, eventBus, events.SourceWatcher, ref); err != nil {
				log.WithError(err).Error("failed to publish landing event", zap.String("object", ref.Name))
			}
		}, log)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start landing watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	var scheduler *monservice.Scheduler
	if cfg.Monitor.Enabled {
		scheduler = monservice.NewScheduler(a.monitor, cfg.Monitor.Schedule, eventBus, log)
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), httpmw.RequestID(), httpmw.OtelTracing(serverName), httpmw.RequestLogger(log, serverName))

	svc := catalogservice.NewService(a.catalog, a.landing, a.matcher, eventBus,
		catalogservice.Options{PublishUploads: watcher == nil}, log)
	ctrl := controller.NewController(svc, a.usage, a.runs, a.monitor, true)
	cataloghandlers.RegisterRoutes(router, ctrl, log)
	trigger.RegisterPushRoutes(router, a.ingestion, a.matcher, log)
	webhook.RegisterRoutes(router, webhook.NewService(a.catalog, a.usage, log), log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), constants.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if scheduler != nil {
			scheduler.Stop(shutdownCtx)
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	log.Info("Server stopped")
	return err
}
