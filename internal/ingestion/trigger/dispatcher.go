// Package trigger turns landing events into ingestion invocations with the
// at-least-once retry behavior of an object-finalize trigger.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/events"
	"github.com/gstripling00/prompt-system/internal/events/bus"
	"github.com/gstripling00/prompt-system/internal/ingestion/models"
	"github.com/gstripling00/prompt-system/internal/landing"
)

const defaultRetryDelay = time.Second

// Processor runs one ingestion invocation; an error means it should be redelivered.
type Processor interface {
	Process(ctx context.Context, ref models.BatchRef) (*models.Report, error)
}

type Options struct {
	// Attempts is the total number of invocations per event, first one included.
	Attempts   uint
	RetryDelay time.Duration
}

// Dispatcher consumes landing.object.finalized events from the ingestion queue group.
type Dispatcher struct {
	processor Processor
	eventBus  bus.EventBus
	matcher   landing.Matcher
	opts      Options
	log       *logger.Logger
	sub       bus.Subscription
}

func NewDispatcher(processor Processor, eventBus bus.EventBus, matcher landing.Matcher, opts Options, log *logger.Logger) *Dispatcher {
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Dispatcher{
		processor: processor,
		eventBus:  eventBus,
		matcher:   matcher,
		opts:      opts,
		log:       log.WithComponent("ingestion-trigger"),
	}
}

// Start subscribes to the landing subject.
func (d *Dispatcher) Start() error {
	sub, err := d.eventBus.QueueSubscribe(events.LandingObjectFinalized, events.IngestionQueue, d.handle)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", events.LandingObjectFinalized, err)
	}
	d.sub = sub
	d.log.Info("ingestion trigger subscribed", zap.String("subject", events.LandingObjectFinalized))
	return nil
}

func (d *Dispatcher) Stop() {
	if d.sub != nil {
		_ = d.sub.Unsubscribe()
	}
}

func (d *Dispatcher) handle(ctx context.Context, event *bus.Event) error {
	var obj events.ObjectFinalized
	if err := event.Decode(&obj); err != nil {
		d.log.WithError(err).Warn("dropping malformed landing event", zap.String("event_id", event.ID))
		return nil
	}
	if !d.matcher.Match(obj.Name) {
		d.log.Debug("ignoring landed object", zap.String("object", obj.Name))
		return nil
	}
	_, err := d.Run(ctx, models.BatchRef{Bucket: obj.Bucket, Name: obj.Name, Generation: obj.Generation})
	return err
}

// Run processes ref, redelivering it after systemic failures until the attempt
// budget is spent.
func (d *Dispatcher) Run(ctx context.Context, ref models.BatchRef) (*models.Report, error) {
	var report *models.Report
	err := retry.Do(
		func() error {
			r, err := d.processor.Process(ctx, ref)
			report = r
			return err
		},
		retry.Context(ctx),
		retry.Attempts(d.opts.Attempts),
		retry.Delay(d.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.log.WithError(err).Warn("redelivering batch after failure",
				zap.String("object", ref.String()), zap.Uint("attempt", n+2))
		}),
	)
	if err != nil {
		d.log.WithError(err).Error("batch failed after all deliveries",
			zap.String("object", ref.String()), zap.Uint("attempts", d.opts.Attempts))
		return report, err
	}
	return report, nil
}

// Notify publishes a landing event for ref on eventBus.
func Notify(ctx context.Context, eventBus bus.EventBus, source string, ref landing.ObjectRef) error {
	event, err := bus.NewEvent(events.LandingObjectFinalized, source, events.ObjectFinalized{
		Bucket:     ref.Bucket,
		Name:       ref.Name,
		Generation: ref.Generation,
		Size:       ref.Size,
		Updated:    ref.Updated,
	})
	if err != nil {
		return err
	}
	return eventBus.Publish(ctx, events.LandingObjectFinalized, event)
}
