package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogmodels "github.com/gstripling00/prompt-system/internal/catalog/models"
	catalogstore "github.com/gstripling00/prompt-system/internal/catalog/store"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/db/dbtest"
	"github.com/gstripling00/prompt-system/internal/events"
	"github.com/gstripling00/prompt-system/internal/events/bus"
	"github.com/gstripling00/prompt-system/internal/ingestion/models"
	"github.com/gstripling00/prompt-system/internal/ingestion/reconcile"
	ingstore "github.com/gstripling00/prompt-system/internal/ingestion/store"
	"github.com/gstripling00/prompt-system/internal/landing"
	monmodels "github.com/gstripling00/prompt-system/internal/monitor/models"
)

type signalSink struct {
	mu      sync.Mutex
	signals []monmodels.Signal
}

func (s *signalSink) RecordSignal(_ context.Context, signal monmodels.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signal)
	return nil
}

func (s *signalSink) last(source monmodels.Source) *monmodels.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.signals) - 1; i >= 0; i-- {
		if s.signals[i].Source == source {
			sig := s.signals[i]
			return &sig
		}
	}
	return nil
}

type brokenLanding struct{ landing.Store }

func (brokenLanding) Open(context.Context, landing.ObjectRef) (io.ReadCloser, error) {
	return nil, errors.New("storage unavailable")
}

type fixture struct {
	svc     *Service
	landing *landing.LocalStore
	catalog catalogstore.Repository
	runs    ingstore.Repository
	signals *signalSink
	bus     *bus.MemoryEventBus
}

func newFixture(t *testing.T, policy reconcile.Policy) *fixture {
	t.Helper()
	pool := dbtest.NewPool(t)
	catalog, _, err := catalogstore.Provide(pool)
	require.NoError(t, err)
	runs, _, err := ingstore.Provide(pool)
	require.NoError(t, err)
	local, err := landing.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	memBus := bus.NewMemoryEventBus(logger.NewNop())
	t.Cleanup(memBus.Close)
	signals := &signalSink{}

	svc, err := NewService(local, catalog, runs, signals, memBus, Options{
		ArchivePolicy:      policy,
		MaxConflictRetries: 3,
		InvocationTimeout:  time.Minute,
		StorageTimeout:     10 * time.Second,
		WriteTimeout:       30 * time.Second,
	}, logger.NewNop())
	require.NoError(t, err)
	return &fixture{svc: svc, landing: local, catalog: catalog, runs: runs, signals: signals, bus: memBus}
}

func (f *fixture) ingest(t *testing.T, name, body string) *models.Report {
	t.Helper()
	ref, err := f.landing.Put(context.Background(), name, strings.NewReader(body))
	require.NoError(t, err)
	report, err := f.svc.Process(context.Background(), models.BatchRef{Name: ref.Name, Generation: ref.Generation})
	require.NoError(t, err)
	return report
}

func (f *fixture) history(t *testing.T, id string) []*catalogmodels.HistoryEntry {
	t.Helper()
	entries, err := f.catalog.ListHistory(context.Background(), id)
	require.NoError(t, err)
	return entries
}

const header = "prompt_id,phase,prompt_name,prompt_text,tags\n"

func TestProcess_InsertUnchangedUpdate(t *testing.T) {
	f := newFixture(t, reconcile.PolicyMerge)
	ctx := context.Background()

	// A new prompt lands at version 1 with one INSERT entry.
	report := f.ingest(t, "batches/a.csv", header+`A1,Analysis,Audience analysis,Draft v1,"needs,audience"`+"\n")
	assert.Equal(t, models.RunStatusCompleted, report.Run.Status)
	assert.Equal(t, 1, report.Run.Inserted)
	rec, err := f.catalog.GetPrompt(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, catalogmodels.StringList{"needs", "audience"}, rec.Tags)
	entries := f.history(t, "A1")
	require.Len(t, entries, 1)
	assert.Equal(t, catalogmodels.ChangeInsert, entries[0].ChangeType)
	assert.Nil(t, entries[0].PreviousVersion)

	// Re-uploading it unchanged writes nothing.
	report = f.ingest(t, "batches/a.csv", header+`A1,Analysis,Audience analysis,Draft v1,"audience,needs"`+"\n")
	assert.Equal(t, models.RunStatusCompleted, report.Run.Status)
	assert.Equal(t, 1, report.Run.Unchanged)
	assert.Zero(t, report.Run.Inserted+report.Run.Updated)
	assert.Len(t, f.history(t, "A1"), 1)

	// New text bumps the version and chains the history.
	report = f.ingest(t, "batches/a.csv", header+`A1,Analysis,Audience analysis,Draft v2,"needs,audience"`+"\n")
	assert.Equal(t, 1, report.Run.Updated)
	rec, err = f.catalog.GetPrompt(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, "Draft v2", rec.Text)
	entries = f.history(t, "A1")
	require.Len(t, entries, 2)
	assert.Equal(t, catalogmodels.ChangeUpdate, entries[1].ChangeType)
	require.NotNil(t, entries[1].PreviousVersion)
	assert.Equal(t, 1, *entries[1].PreviousVersion)

	sig := f.signals.last(monmodels.SourcePipeline)
	require.NotNil(t, sig)
	assert.True(t, sig.OK)
}

func TestProcess_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, reconcile.PolicyAuthoritative)
	ctx := context.Background()
	body := header + "P1,Design,Objectives,Write objectives,bloom\n" + ",Evaluation,Quiz items,Write a quiz,\n"

	ref, err := f.landing.Put(ctx, "batches/q1.csv", strings.NewReader(body))
	require.NoError(t, err)
	batch := models.BatchRef{Name: ref.Name, Generation: ref.Generation}

	first, err := f.svc.Process(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Run.Inserted)
	before, err := f.catalog.ListPrompts(ctx, catalogstore.ListFilter{IncludeInactive: true})
	require.NoError(t, err)

	second, err := f.svc.Process(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Run.Unchanged)
	assert.Zero(t, second.Run.Inserted+second.Run.Updated+second.Run.Archived)
	after, err := f.catalog.ListPrompts(ctx, catalogstore.ListFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	generated := parserID(t, after, "Quiz items")
	assert.Len(t, f.history(t, generated), 1)
}

func parserID(t *testing.T, prompts []*catalogmodels.PromptRecord, name string) string {
	t.Helper()
	for _, p := range prompts {
		if p.Name == name {
			return p.PromptID
		}
	}
	t.Fatalf("prompt %q not found", name)
	return ""
}

func TestProcess_AuthoritativeArchivesMissing(t *testing.T) {
	f := newFixture(t, reconcile.PolicyAuthoritative)
	ctx := context.Background()
	f.ingest(t, "batches/full.csv", header+"A,Design,A,a,\nB,Design,B,b,\n")

	report := f.ingest(t, "batches/full.csv", header+"A,Design,A,a,\n")
	assert.Equal(t, 1, report.Run.Archived)
	b, err := f.catalog.GetPrompt(ctx, "B")
	require.NoError(t, err)
	assert.False(t, b.IsActive)
	assert.Equal(t, 2, b.Version)

	// A row error suspends archiving: B would come back, A must not be archived.
	report = f.ingest(t, "batches/full.csv", header+"B,Design,B,b,\nC,Design,,c,\n")
	assert.Equal(t, models.RunStatusCompletedWithErrors, report.Run.Status)
	assert.Zero(t, report.Run.Archived)
	a, err := f.catalog.GetPrompt(ctx, "A")
	require.NoError(t, err)
	assert.True(t, a.IsActive)
	b, err = f.catalog.GetPrompt(ctx, "B")
	require.NoError(t, err)
	assert.True(t, b.IsActive, "reappearing prompt is reactivated")
	assert.Equal(t, 3, b.Version)
}

func TestProcess_DuplicateIDRejectsBatch(t *testing.T) {
	f := newFixture(t, reconcile.PolicyMerge)
	ctx := context.Background()

	report := f.ingest(t, "batches/dup.csv", header+"D1,Design,One,x,\nD1,Design,Two,y,\n")
	assert.Equal(t, models.RunStatusRejected, report.Run.Status)
	require.NotNil(t, report.Run.Message)
	assert.Zero(t, report.Run.Inserted)

	prompts, err := f.catalog.ListPrompts(ctx, catalogstore.ListFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Empty(t, prompts)

	stored, err := f.runs.ListErrors(ctx, report.Run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, models.KindDuplicateID, stored[0].Kind)

	// A rejection is a correct outcome, not a pipeline failure.
	sig := f.signals.last(monmodels.SourcePipeline)
	require.NotNil(t, sig)
	assert.True(t, sig.OK)
}

func TestProcess_RowErrorsAreReported(t *testing.T) {
	f := newFixture(t, reconcile.PolicyMerge)
	report := f.ingest(t, "batches/mixed.csv",
		"prompt_id,phase,prompt_name,prompt_text,owner\n"+
			"G1,Design,Good,text,alice\n"+
			"B1,Deployment,Bad phase,text,bob\n")

	assert.Equal(t, models.RunStatusCompletedWithErrors, report.Run.Status)
	assert.Equal(t, 1, report.Run.Inserted)
	assert.Equal(t, 2, report.Run.RowsTotal)
	kinds := map[models.ErrorKind]int{}
	for _, e := range report.Errors {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[models.KindUnrecognizedField])
	assert.Equal(t, 1, kinds[models.KindValidation])

	run, err := f.runs.GetRun(context.Background(), report.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.ErrorCount)
}

func TestProcess_StorageFailureIsSystemic(t *testing.T) {
	f := newFixture(t, reconcile.PolicyMerge)
	f.svc.landing = brokenLanding{Store: f.landing}

	report, err := f.svc.Process(context.Background(), models.BatchRef{Name: "batches/x.csv"})
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, models.RunStatusFailed, report.Run.Status)

	run, err := f.runs.GetRun(context.Background(), report.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.Message)
	assert.Contains(t, *run.Message, "storage unavailable")

	sig := f.signals.last(monmodels.SourcePipeline)
	require.NotNil(t, sig)
	assert.False(t, sig.OK)
}

func TestProcess_SupersededGenerationIsRejected(t *testing.T) {
	f := newFixture(t, reconcile.PolicyMerge)
	report, err := f.svc.Process(context.Background(), models.BatchRef{Name: "batches/gone.csv", Generation: "42"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRejected, report.Run.Status)
}

func TestProcess_UnreadableNameIsRejected(t *testing.T) {
	f := newFixture(t, reconcile.PolicyMerge)
	report, err := f.svc.Process(context.Background(), models.BatchRef{Name: "../outside.csv", Generation: "1"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRejected, report.Run.Status)
	sig := f.signals.last(monmodels.SourcePipeline)
	require.NotNil(t, sig)
	assert.True(t, sig.OK)
}

func TestProcess_PublishesEvents(t *testing.T) {
	f := newFixture(t, reconcile.PolicyMerge)

	var (
		mu      sync.Mutex
		changed []events.PromptChanged
		runs    []events.RunCompleted
	)
	_, err := f.bus.Subscribe(events.CatalogPromptChanged, func(_ context.Context, e *bus.Event) error {
		var p events.PromptChanged
		assert.NoError(t, e.Decode(&p))
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, p)
		return nil
	})
	require.NoError(t, err)
	_, err = f.bus.Subscribe(events.IngestionRunCompleted, func(_ context.Context, e *bus.Event) error {
		var p events.RunCompleted
		assert.NoError(t, e.Decode(&p))
		mu.Lock()
		defer mu.Unlock()
		runs = append(runs, p)
		return nil
	})
	require.NoError(t, err)

	report := f.ingest(t, "batches/ev.csv", header+"E1,Design,E,e,\n")
	f.bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changed, 1)
	assert.Equal(t, "E1", changed[0].PromptID)
	assert.Equal(t, 1, changed[0].Version)
	assert.Equal(t, "INSERT", changed[0].ChangeType)
	require.Len(t, runs, 1)
	assert.Equal(t, report.Run.ID, runs[0].RunID)
	assert.Equal(t, string(models.RunStatusCompleted), runs[0].Status)
}
