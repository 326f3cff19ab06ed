package providers

import (
	"context"

	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/common/logger"
)

// LogProvider writes alerts to the structured log. It is always available.
type LogProvider struct {
	logger *logger.Logger
}

func NewLogProvider(log *logger.Logger) *LogProvider {
	return &LogProvider{logger: log.WithComponent("alerts")}
}

func (p *LogProvider) Name() string    { return "log" }
func (p *LogProvider) Available() bool { return true }
func (p *LogProvider) Validate() error { return nil }

func (p *LogProvider) Send(_ context.Context, message Message) error {
	fields := []zap.Field{
		zap.String("policy", message.Policy),
		zap.String("metric", message.Metric),
		zap.Float64("value", message.Value),
		zap.Float64("threshold", message.Threshold),
		zap.String("state", message.State),
		zap.String("incident_id", message.IncidentID),
	}
	if message.State == StateResolved {
		p.logger.Info(message.Title, fields...)
		return nil
	}
	p.logger.Error(message.Title, fields...)
	return nil
}
