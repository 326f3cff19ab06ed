package service

import (
	"fmt"
	"time"

	"github.com/gstripling00/prompt-system/internal/common/config"
	"github.com/gstripling00/prompt-system/internal/monitor/models"
)

// Policy names used in incidents and notifications.
const (
	PolicyPipelineFailures = "pipeline-execution-failures"
	PolicyWriteFailures    = "warehouse-write-failures"
)

// Kind selects how a policy turns a signal window into a value.
type Kind string

const (
	// KindRate measures failed/total.
	KindRate Kind = "rate"
	// KindCount measures the number of failures.
	KindCount Kind = "count"
)

// Policy is one alerting rule over a window of signals.
type Policy struct {
	Name      string
	Metric    string
	Source    models.Source
	Kind      Kind
	Window    time.Duration
	Threshold float64
	// MinSamples is the number of signals a rate policy needs before it can breach.
	MinSamples int
}

// Measure returns the policy value for w and whether it breaches.
func (p Policy) Measure(w models.Window) (float64, bool) {
	switch p.Kind {
	case KindRate:
		minSamples := p.MinSamples
		if minSamples < 1 {
			minSamples = 1
		}
		rate := w.FailureRate()
		return rate, w.Total >= minSamples && rate > p.Threshold
	default:
		count := float64(w.Failed)
		return count, count > p.Threshold
	}
}

// PoliciesFromConfig builds the two built-in policies from cfg.
func PoliciesFromConfig(cfg config.MonitorConfig) ([]Policy, error) {
	pipelineWindow, writeWindow, _, _ := cfg.Durations()
	if pipelineWindow <= 0 || writeWindow <= 0 {
		return nil, fmt.Errorf("monitor windows must be positive")
	}
	return []Policy{
		{
			Name:       PolicyPipelineFailures,
			Metric:     "pipeline_failure_rate",
			Source:     models.SourcePipeline,
			Kind:       KindRate,
			Window:     pipelineWindow,
			Threshold:  cfg.PipelineRateThreshold,
			MinSamples: cfg.PipelineMinSamples,
		},
		{
			Name:      PolicyWriteFailures,
			Metric:    "warehouse_write_failures",
			Source:    models.SourceWarehouseWrite,
			Kind:      KindCount,
			Window:    writeWindow,
			Threshold: float64(cfg.WriteCountThreshold),
		},
	}, nil
}
