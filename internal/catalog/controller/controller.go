package controller

import (
	"context"
	"errors"
	"io"

	"github.com/gstripling00/prompt-system/internal/catalog/dto"
	catalogmodels "github.com/gstripling00/prompt-system/internal/catalog/models"
	"github.com/gstripling00/prompt-system/internal/catalog/service"
	ingmodels "github.com/gstripling00/prompt-system/internal/ingestion/models"
	ingstore "github.com/gstripling00/prompt-system/internal/ingestion/store"
	monmodels "github.com/gstripling00/prompt-system/internal/monitor/models"
	usagemodels "github.com/gstripling00/prompt-system/internal/usage/models"
)

var ErrRunNotFound = errors.New("ingestion run not found")

// UsageRecorder is the part of the usage service the API needs.
type UsageRecorder interface {
	Record(ctx context.Context, event usagemodels.Event) (*usagemodels.Result, error)
	Summary(ctx context.Context, promptID string) (*usagemodels.Summary, error)
	Events(ctx context.Context, promptID string, limit int) ([]*usagemodels.Event, error)
}

type RunReader interface {
	GetRun(ctx context.Context, runID string) (*ingmodels.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*ingmodels.Run, error)
	ListErrors(ctx context.Context, runID string) ([]ingmodels.RowError, error)
}

type IncidentLister interface {
	ListIncidents(ctx context.Context, openOnly bool, limit int) ([]*monmodels.Incident, error)
}

type Controller struct {
	service   *service.Service
	usage     UsageRecorder
	runs      RunReader
	incidents IncidentLister
	queued    bool
}

// NewController wires the read and write paths of the REST API. queued reports
// whether uploaded batches are picked up by the ingestion trigger.
func NewController(svc *service.Service, usage UsageRecorder, runs RunReader, incidents IncidentLister, queued bool) *Controller {
	return &Controller{service: svc, usage: usage, runs: runs, incidents: incidents, queued: queued}
}

func (c *Controller) ListPrompts(ctx context.Context, phase string, includeInactive bool, limit int) (dto.PromptsResponse, error) {
	prompts, err := c.service.ListPrompts(ctx, phase, includeInactive, limit)
	if err != nil {
		return dto.PromptsResponse{}, err
	}
	return dto.PromptsResponse{Prompts: prompts, Total: len(prompts)}, nil
}

func (c *Controller) GetPrompt(ctx context.Context, promptID string) (*catalogmodels.PromptRecord, error) {
	return c.service.GetPrompt(ctx, promptID)
}

func (c *Controller) History(ctx context.Context, promptID string) (dto.HistoryResponse, error) {
	history, err := c.service.History(ctx, promptID)
	if err != nil {
		return dto.HistoryResponse{}, err
	}
	return dto.HistoryResponse{PromptID: promptID, History: history}, nil
}

func (c *Controller) UsageSummary(ctx context.Context, promptID string) (*usagemodels.Summary, error) {
	return c.usage.Summary(ctx, promptID)
}

func (c *Controller) UsageEvents(ctx context.Context, promptID string, limit int) (dto.UsageEventsResponse, error) {
	events, err := c.usage.Events(ctx, promptID, limit)
	if err != nil {
		return dto.UsageEventsResponse{}, err
	}
	if events == nil {
		events = []*usagemodels.Event{}
	}
	return dto.UsageEventsResponse{PromptID: promptID, Events: events}, nil
}

func (c *Controller) RecordUsage(ctx context.Context, event usagemodels.Event) (*usagemodels.Result, error) {
	return c.usage.Record(ctx, event)
}

func (c *Controller) UploadBatch(ctx context.Context, filename string, body io.Reader) (dto.BatchUploadResponse, error) {
	ref, err := c.service.UploadBatch(ctx, filename, body)
	if err != nil {
		return dto.BatchUploadResponse{}, err
	}
	return dto.FromObjectRef(ref, c.queued), nil
}

func (c *Controller) ListBatches(ctx context.Context) (dto.BatchesResponse, error) {
	batches, err := c.service.ListBatches(ctx)
	if err != nil {
		return dto.BatchesResponse{}, err
	}
	return dto.BatchesResponse{Batches: batches, Total: len(batches)}, nil
}

func (c *Controller) ListRuns(ctx context.Context, limit int) (dto.RunsResponse, error) {
	runs, err := c.runs.ListRuns(ctx, limit)
	if err != nil {
		return dto.RunsResponse{}, err
	}
	return dto.RunsResponse{Runs: runs}, nil
}

func (c *Controller) GetRun(ctx context.Context, runID string) (dto.RunResponse, error) {
	run, err := c.runs.GetRun(ctx, runID)
	if errors.Is(err, ingstore.ErrRunNotFound) {
		return dto.RunResponse{}, ErrRunNotFound
	}
	if err != nil {
		return dto.RunResponse{}, err
	}
	rowErrors, err := c.runs.ListErrors(ctx, runID)
	if err != nil {
		return dto.RunResponse{}, err
	}
	if rowErrors == nil {
		rowErrors = []ingmodels.RowError{}
	}
	return dto.RunResponse{Run: run, Errors: rowErrors}, nil
}

func (c *Controller) ListAlerts(ctx context.Context, openOnly bool, limit int) (dto.AlertsResponse, error) {
	incidents, err := c.incidents.ListIncidents(ctx, openOnly, limit)
	if err != nil {
		return dto.AlertsResponse{}, err
	}
	result := make([]dto.IncidentDTO, 0, len(incidents))
	for _, incident := range incidents {
		if incident == nil {
			continue
		}
		result = append(result, dto.FromIncident(incident))
	}
	return dto.AlertsResponse{Incidents: result}, nil
}
