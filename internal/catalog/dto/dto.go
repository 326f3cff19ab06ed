package dto

import (
	"time"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
	ingmodels "github.com/gstripling00/prompt-system/internal/ingestion/models"
	"github.com/gstripling00/prompt-system/internal/landing"
	monmodels "github.com/gstripling00/prompt-system/internal/monitor/models"
	usagemodels "github.com/gstripling00/prompt-system/internal/usage/models"
)

type PromptsResponse struct {
	Prompts []*models.PromptRecord `json:"prompts"`
	Total   int                    `json:"total"`
}

type HistoryResponse struct {
	PromptID string                 `json:"prompt_id"`
	History  []*models.HistoryEntry `json:"history"`
}

type BatchUploadResponse struct {
	Bucket     string `json:"bucket,omitempty"`
	Object     string `json:"object"`
	Generation string `json:"generation"`
	Size       int64  `json:"size"`
	Queued     bool   `json:"queued"`
}

type BatchesResponse struct {
	Batches []landing.ObjectRef `json:"batches"`
	Total   int                 `json:"total"`
}

type UsageEventsResponse struct {
	PromptID string               `json:"prompt_id"`
	Events   []*usagemodels.Event `json:"events"`
}

type RunsResponse struct {
	Runs []*ingmodels.Run `json:"runs"`
}

type RunResponse struct {
	Run    *ingmodels.Run       `json:"run"`
	Errors []ingmodels.RowError `json:"errors"`
}

type IncidentDTO struct {
	ID             string  `json:"id"`
	Policy         string  `json:"policy"`
	Metric         string  `json:"metric"`
	Value          float64 `json:"value"`
	Threshold      float64 `json:"threshold"`
	Open           bool    `json:"open"`
	OpenedAt       string  `json:"opened_at"`
	LastBreachAt   string  `json:"last_breach_at"`
	LastNotifiedAt string  `json:"last_notified_at,omitempty"`
	NotifyCount    int     `json:"notify_count"`
	ClosedAt       *string `json:"closed_at,omitempty"`
}

type AlertsResponse struct {
	Incidents []IncidentDTO `json:"incidents"`
}

func FromObjectRef(ref landing.ObjectRef, queued bool) BatchUploadResponse {
	return BatchUploadResponse{
		Bucket:     ref.Bucket,
		Object:     ref.Name,
		Generation: ref.Generation,
		Size:       ref.Size,
		Queued:     queued,
	}
}

func FromIncident(incident *monmodels.Incident) IncidentDTO {
	return IncidentDTO{
		ID:             incident.ID,
		Policy:         incident.Policy,
		Metric:         incident.Metric,
		Value:          incident.Value,
		Threshold:      incident.Threshold,
		Open:           incident.Open(),
		OpenedAt:       formatTime(incident.OpenedAt),
		LastBreachAt:   formatTime(incident.LastBreachAt),
		LastNotifiedAt: formatZeroTime(incident.LastNotifiedAt),
		NotifyCount:    incident.NotifyCount,
		ClosedAt:       formatOptTime(incident.ClosedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatZeroTime renders the zero time as an empty string.
func formatZeroTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

func formatOptTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
