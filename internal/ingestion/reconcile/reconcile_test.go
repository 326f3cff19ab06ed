package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func opts(policy Policy) Options {
	return Options{Now: testNow, ChangedBy: "ingestion-test", Policy: policy}
}

func cand(id string, phase models.Phase, text string) models.Candidate {
	return models.Candidate{PromptID: id, Phase: phase, Name: "name-" + id, Text: text}
}

func record(id string, phase models.Phase, text string, version int, active bool) *models.PromptRecord {
	return &models.PromptRecord{
		PromptID: id, Phase: phase, Name: "name-" + id, Text: text,
		Version: version, IsActive: active, LastModifiedDate: testNow.Add(-time.Hour),
	}
}

func TestReconcile_InsertNewPrompt(t *testing.T) {
	plan := Reconcile(nil, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft v1")}, opts(PolicyMerge))

	require.Len(t, plan.Items, 1)
	item := plan.Items[0]
	assert.Equal(t, ActionInsert, item.Action)
	assert.Equal(t, 0, item.ExpectedVersion)
	assert.Equal(t, 1, item.NewVersion)
	assert.Equal(t, 1, item.Record.Version)
	assert.True(t, item.Record.IsActive)
	assert.Equal(t, testNow, item.Record.LastModifiedDate)
	assert.Equal(t, models.ChangeInsert, item.History.ChangeType)
	assert.Nil(t, item.History.PreviousVersion)
	assert.Equal(t, "Draft v1", item.History.Text)
	assert.Equal(t, "ingestion-test", item.History.ChangedBy)
}

func TestReconcile_UnchangedPromptIsNone(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{"A1": record("A1", models.PhaseAnalysis, "Draft v1", 1, true)}
	plan := Reconcile(snapshot, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft v1")}, opts(PolicyMerge))

	require.Len(t, plan.Items, 1)
	assert.Equal(t, ActionNone, plan.Items[0].Action)
	assert.Nil(t, plan.Items[0].History)
	assert.Nil(t, plan.Items[0].Record)
}

func TestReconcile_ChangedPromptIsUpdate(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{"A1": record("A1", models.PhaseAnalysis, "Draft v1", 1, true)}
	plan := Reconcile(snapshot, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft v2")}, opts(PolicyMerge))

	require.Len(t, plan.Items, 1)
	item := plan.Items[0]
	assert.Equal(t, ActionUpdate, item.Action)
	assert.Equal(t, 1, item.ExpectedVersion)
	assert.Equal(t, 2, item.NewVersion)
	assert.Equal(t, models.ChangeUpdate, item.History.ChangeType)
	require.NotNil(t, item.History.PreviousVersion)
	assert.Equal(t, 1, *item.History.PreviousVersion)
}

func TestReconcile_InactivePromptReappearingIsReactivated(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{"A1": record("A1", models.PhaseAnalysis, "Draft v1", 2, false)}
	plan := Reconcile(snapshot, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft v1")}, opts(PolicyMerge))

	item := plan.Items[0]
	assert.Equal(t, ActionUpdate, item.Action)
	assert.Equal(t, 3, item.NewVersion)
	assert.True(t, item.Record.IsActive)
}

func TestReconcile_MergePolicyNeverArchives(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{
		"A1": record("A1", models.PhaseAnalysis, "Draft v1", 1, true),
		"B1": record("B1", models.PhaseDesign, "Sketch", 4, true),
	}
	plan := Reconcile(snapshot, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft v1")}, opts(PolicyMerge))

	require.Len(t, plan.Items, 1)
	assert.Equal(t, ActionNone, plan.Items[0].Action)
}

func TestReconcile_AuthoritativePolicyArchivesMissing(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{
		"A1": record("A1", models.PhaseAnalysis, "Draft v1", 1, true),
		"C1": record("C1", models.PhaseEvaluation, "Rubric", 2, true),
		"B1": record("B1", models.PhaseDesign, "Sketch", 4, true),
		"Z9": record("Z9", models.PhaseDesign, "Old", 3, false),
	}
	plan := Reconcile(snapshot, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft v1")}, opts(PolicyAuthoritative))

	require.Len(t, plan.Items, 3)
	assert.Equal(t, ActionNone, plan.Items[0].Action)

	archived := plan.Items[1]
	assert.Equal(t, "B1", archived.PromptID)
	assert.Equal(t, ActionArchive, archived.Action)
	assert.Equal(t, 4, archived.ExpectedVersion)
	assert.Equal(t, 5, archived.NewVersion)
	assert.False(t, archived.Record.IsActive)
	assert.Equal(t, "Sketch", archived.Record.Text)
	assert.Equal(t, models.ChangeArchived, archived.History.ChangeType)
	assert.Equal(t, 4, *archived.History.PreviousVersion)
	assert.Nil(t, archived.Candidate)

	assert.Equal(t, "C1", plan.Items[2].PromptID)
	assert.Equal(t, ActionArchive, plan.Items[2].Action)
	assert.True(t, snapshot["B1"].IsActive, "snapshot must not be mutated")
}

func TestReconcile_PhaseScopedPolicyOnlyArchivesBatchPhases(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{
		"A1": record("A1", models.PhaseAnalysis, "Draft v1", 1, true),
		"A2": record("A2", models.PhaseAnalysis, "Interview", 1, true),
		"B1": record("B1", models.PhaseDesign, "Sketch", 1, true),
	}
	plan := Reconcile(snapshot, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft v1")}, opts(PolicyPhaseScoped))

	counts := plan.Counts()
	assert.Equal(t, 1, counts[ActionArchive])
	assert.Equal(t, "A2", plan.Items[1].PromptID)
	assert.True(t, plan.Scope.Phases[models.PhaseAnalysis])
	assert.False(t, plan.Scope.Phases[models.PhaseDesign])
}

func TestReconcile_SkipArchive(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{"B1": record("B1", models.PhaseDesign, "Sketch", 1, true)}
	o := opts(PolicyAuthoritative)
	o.SkipArchive = true

	plan := Reconcile(snapshot, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft v1")}, o)
	assert.Equal(t, 0, plan.Counts()[ActionArchive])
}

func TestReconcile_IsDeterministic(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{
		"A1": record("A1", models.PhaseAnalysis, "Draft v1", 1, true),
		"B1": record("B1", models.PhaseDesign, "Sketch", 1, true),
		"B2": record("B2", models.PhaseDesign, "Wireframe", 1, true),
	}
	batch := []models.Candidate{
		cand("N1", models.PhaseDesign, "New"),
		cand("A1", models.PhaseAnalysis, "Draft v2"),
	}

	first := Reconcile(snapshot, batch, opts(PolicyAuthoritative))
	second := Reconcile(snapshot, batch, opts(PolicyAuthoritative))
	assert.Equal(t, first.Items, second.Items)

	ids := make([]string, 0, len(first.Items))
	for _, item := range first.Items {
		ids = append(ids, item.PromptID)
	}
	assert.Equal(t, []string{"N1", "A1", "B1", "B2"}, ids)
}

func TestReconcile_ApplyingPlanTwiceYieldsNoChanges(t *testing.T) {
	batch := []models.Candidate{
		cand("A1", models.PhaseAnalysis, "Draft v1"),
		cand("B1", models.PhaseDesign, "Sketch"),
	}
	first := Reconcile(nil, batch, opts(PolicyAuthoritative))

	snapshot := make(map[string]*models.PromptRecord)
	for _, item := range first.Items {
		snapshot[item.PromptID] = item.Record
	}

	second := Reconcile(snapshot, batch, opts(PolicyAuthoritative))
	counts := second.Counts()
	assert.Equal(t, 2, counts[ActionNone])
	assert.Equal(t, 0, counts[ActionInsert]+counts[ActionUpdate]+counts[ActionArchive])
}

func TestPlan_ReclassifyAfterLostRace(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{"A1": record("A1", models.PhaseAnalysis, "Draft v1", 1, true)}
	plan := Reconcile(snapshot, []models.Candidate{cand("A1", models.PhaseAnalysis, "Draft from batch Y")}, opts(PolicyMerge))
	stale := plan.Items[0]
	require.Equal(t, 2, stale.NewVersion)

	winner := record("A1", models.PhaseAnalysis, "Draft from batch X", 2, true)
	fresh := plan.Reclassify(stale, winner)

	assert.Equal(t, ActionUpdate, fresh.Action)
	assert.Equal(t, 2, fresh.ExpectedVersion)
	assert.Equal(t, 3, fresh.NewVersion)
	assert.Equal(t, 2, *fresh.History.PreviousVersion)
	assert.NotEqual(t, stale.History.HistoryID, fresh.History.HistoryID)
}

func TestPlan_ReclassifyArchiveAfterReactivation(t *testing.T) {
	snapshot := map[string]*models.PromptRecord{"B1": record("B1", models.PhaseDesign, "Sketch", 1, true)}
	plan := Reconcile(snapshot, nil, opts(PolicyAuthoritative))
	require.Len(t, plan.Items, 1)

	alreadyArchived := record("B1", models.PhaseDesign, "Sketch", 2, false)
	fresh := plan.Reclassify(plan.Items[0], alreadyArchived)
	assert.Equal(t, ActionNone, fresh.Action)
}

func TestHistoryID_StablePerVersion(t *testing.T) {
	assert.Equal(t, HistoryID("A1", 1), HistoryID("A1", 1))
	assert.NotEqual(t, HistoryID("A1", 1), HistoryID("A1", 2))
	assert.NotEqual(t, HistoryID("A1", 1), HistoryID("A11", 1))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMerge, p)

	p, err = ParsePolicy("phase_scoped")
	require.NoError(t, err)
	assert.Equal(t, PolicyPhaseScoped, p)

	_, err = ParsePolicy("replace")
	assert.Error(t, err)
}
