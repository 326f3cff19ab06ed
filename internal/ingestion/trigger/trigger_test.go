package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/events/bus"
	"github.com/gstripling00/prompt-system/internal/ingestion/models"
	"github.com/gstripling00/prompt-system/internal/landing"
)

type fakeProcessor struct {
	mu       sync.Mutex
	calls    []models.BatchRef
	failures int
}

func (p *fakeProcessor) Process(_ context.Context, ref models.BatchRef) (*models.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ref)
	if p.failures > 0 {
		p.failures--
		return nil, errors.New("warehouse unavailable")
	}
	return &models.Report{Run: &models.Run{ID: "run-1", Object: ref.Name, Status: models.RunStatusCompleted}}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

var csvMatcher = landing.Matcher{Prefix: "incoming/", Patterns: []string{"*.csv", "*.xlsx"}}

func TestDispatcherRunRedeliversAfterFailure(t *testing.T) {
	proc := &fakeProcessor{failures: 2}
	d := NewDispatcher(proc, nil, csvMatcher, Options{Attempts: 3, RetryDelay: time.Millisecond}, logger.NewNop())

	report, err := d.Run(context.Background(), models.BatchRef{Bucket: "b", Name: "incoming/a.csv", Generation: "1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.Run.ID)
	assert.Equal(t, 3, proc.callCount())
}

func TestDispatcherRunGivesUp(t *testing.T) {
	proc := &fakeProcessor{failures: 10}
	d := NewDispatcher(proc, nil, csvMatcher, Options{Attempts: 2, RetryDelay: time.Millisecond}, logger.NewNop())

	_, err := d.Run(context.Background(), models.BatchRef{Name: "incoming/a.csv"})
	require.Error(t, err)
	assert.Equal(t, 2, proc.callCount())
}

func TestDispatcherConsumesLandingEvents(t *testing.T) {
	memBus := bus.NewMemoryEventBus(logger.NewNop())
	t.Cleanup(memBus.Close)
	proc := &fakeProcessor{}
	d := NewDispatcher(proc, memBus, csvMatcher, Options{Attempts: 1}, logger.NewNop())
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)

	ctx := context.Background()
	require.NoError(t, Notify(ctx, memBus, "test", landing.ObjectRef{Bucket: "b", Name: "incoming/batch.CSV", Generation: "7"}))
	require.NoError(t, Notify(ctx, memBus, "test", landing.ObjectRef{Bucket: "b", Name: "incoming/readme.txt", Generation: "8"}))
	require.NoError(t, Notify(ctx, memBus, "test", landing.ObjectRef{Bucket: "b", Name: "archive/old.csv", Generation: "9"}))
	memBus.Wait()

	require.Equal(t, 1, proc.callCount())
	assert.Equal(t, models.BatchRef{Bucket: "b", Name: "incoming/batch.CSV", Generation: "7"}, proc.calls[0])
}

func pushRouter(proc Processor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterPushRoutes(router, proc, csvMatcher, logger.NewNop())
	return router
}

func postEnvelope(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triggers/gcs", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func envelope(attrs map[string]string) map[string]any {
	return map[string]any{
		"message":      map[string]any{"attributes": attrs, "messageId": "m-1"},
		"subscription": "projects/p/subscriptions/prompts",
	}
}

func TestPushProcessesFinalizedBatch(t *testing.T) {
	proc := &fakeProcessor{}
	rec := postEnvelope(t, pushRouter(proc), envelope(map[string]string{
		"bucketId":         "landing",
		"objectId":         "incoming/batch.csv",
		"objectGeneration": "42",
		"eventType":        "OBJECT_FINALIZE",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, proc.callCount())
	assert.Equal(t, models.BatchRef{Bucket: "landing", Name: "incoming/batch.csv", Generation: "42"}, proc.calls[0])

	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, models.RunStatusCompleted, report.Run.Status)
}

func TestPushFallsBackToObjectResource(t *testing.T) {
	proc := &fakeProcessor{}
	data, err := json.Marshal(objectResource{Bucket: "landing", Name: "incoming/b.xlsx", Generation: "5"})
	require.NoError(t, err)
	rec := postEnvelope(t, pushRouter(proc), map[string]any{
		"message": map[string]any{"data": data, "messageId": "m-2"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, proc.callCount())
	assert.Equal(t, "incoming/b.xlsx", proc.calls[0].Name)
}

func TestPushIgnoresOtherEvents(t *testing.T) {
	proc := &fakeProcessor{}
	router := pushRouter(proc)

	rec := postEnvelope(t, router, envelope(map[string]string{
		"bucketId": "landing", "objectId": "incoming/batch.csv", "eventType": "OBJECT_DELETE",
	}))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = postEnvelope(t, router, envelope(map[string]string{
		"bucketId": "landing", "objectId": "incoming/notes.txt", "eventType": "OBJECT_FINALIZE",
	}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, proc.callCount())
}

func TestPushSystemicFailureAsksForRedelivery(t *testing.T) {
	proc := &fakeProcessor{failures: 1}
	rec := postEnvelope(t, pushRouter(proc), envelope(map[string]string{
		"bucketId": "landing", "objectId": "incoming/batch.csv", "objectGeneration": "3",
	}))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestPushRejectsMalformedEnvelope(t *testing.T) {
	router := pushRouter(&fakeProcessor{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triggers/gcs", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
