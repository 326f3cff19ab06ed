// Package models holds health signals and alert incidents.
package models

import "time"

// Source names the operation a signal reports on.
type Source string

const (
	// SourcePipeline is one ingestion invocation.
	SourcePipeline Source = "pipeline"
	// SourceWarehouseWrite is one catalog or usage write.
	SourceWarehouseWrite Source = "warehouse_write"
)

// Signal is one observed success or failure.
type Signal struct {
	ID         int64     `db:"id" json:"id"`
	Source     Source    `db:"source" json:"source"`
	OK         bool      `db:"ok" json:"ok"`
	Detail     *string   `db:"detail" json:"detail,omitempty"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
}

// Success returns a passing signal for source.
func Success(source Source) Signal {
	return Signal{Source: source, OK: true}
}

// Failure returns a failing signal for source carrying detail.
func Failure(source Source, detail string) Signal {
	return Signal{Source: source, OK: false, Detail: &detail}
}

// Incident is an alert that opened when a policy breached and stays open until
// the breach has been gone for the auto-close window.
type Incident struct {
	ID             string     `db:"id" json:"id" yaml:"id"`
	Policy         string     `db:"policy" json:"policy" yaml:"policy"`
	Metric         string     `db:"metric" json:"metric" yaml:"metric"`
	Value          float64    `db:"observed_value" json:"observed_value" yaml:"observed_value"`
	Threshold      float64    `db:"threshold" json:"threshold" yaml:"threshold"`
	OpenedAt       time.Time  `db:"opened_at" json:"opened_at" yaml:"opened_at"`
	LastBreachAt   time.Time  `db:"last_breach_at" json:"last_breach_at" yaml:"last_breach_at"`
	LastNotifiedAt time.Time  `db:"last_notified_at" json:"last_notified_at" yaml:"last_notified_at"`
	NotifyCount    int        `db:"notify_count" json:"notify_count" yaml:"notify_count"`
	ClosedAt       *time.Time `db:"closed_at" json:"closed_at,omitempty" yaml:"closed_at,omitempty"`
}

// Open reports whether the incident has not been closed.
func (i *Incident) Open() bool {
	return i.ClosedAt == nil
}

// Window is an aggregate of signals over one policy window.
type Window struct {
	Total  int `db:"total"`
	Failed int `db:"failed"`
}

// FailureRate is Failed/Total, or 0 for an empty window.
func (w Window) FailureRate() float64 {
	if w.Total == 0 {
		return 0
	}
	return float64(w.Failed) / float64(w.Total)
}
