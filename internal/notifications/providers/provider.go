// Package providers delivers Health Monitor alerts to an operator channel.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/gstripling00/prompt-system/internal/common/config"
	"github.com/gstripling00/prompt-system/internal/common/logger"
)

// Alert states carried by Message.State.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Message is one alert notification. Policy, Metric and Value are always set.
type Message struct {
	Policy     string    `json:"policy"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	State      string    `json:"state"`
	IncidentID string    `json:"incident_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ObservedAt time.Time `json:"observed_at"`
}

type Provider interface {
	Name() string
	Available() bool
	Validate() error
	Send(ctx context.Context, message Message) error
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.NotificationsConfig, log *logger.Logger) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "", "log":
		p = NewLogProvider(log)
	case "webhook":
		p = NewWebhookProvider(cfg.WebhookURL, nil)
	case "apprise":
		p = NewAppriseProvider(cfg.AppriseURLs)
	default:
		return nil, fmt.Errorf("unknown notification provider %q", cfg.Provider)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s provider: %w", p.Name(), err)
	}
	return p, nil
}
