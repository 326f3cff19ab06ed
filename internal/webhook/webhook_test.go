package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
	catalogstore "github.com/gstripling00/prompt-system/internal/catalog/store"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/db/dbtest"
	usageservice "github.com/gstripling00/prompt-system/internal/usage/service"
	usagestore "github.com/gstripling00/prompt-system/internal/usage/store"
)

func strPtr(s string) *string { return &s }

func prompt(id, name string, rating *float64, usage int64, tags ...string) *models.PromptRecord {
	return &models.PromptRecord{
		PromptID:   id,
		Phase:      models.PhaseDesign,
		Name:       name,
		Text:       "Text of " + id,
		Tags:       tags,
		Version:    1,
		IsActive:   true,
		AvgRating:  rating,
		UsageCount: &usage,
	}
}

func ids(prompts []*models.PromptRecord) []string {
	out := make([]string, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, p.PromptID)
	}
	return out
}

func rating(v float64) *float64 { return &v }

func TestRank_WithoutQueryOrdersByPopularity(t *testing.T) {
	prompts := []*models.PromptRecord{
		prompt("P1", "Bravo", nil, 10),
		prompt("P2", "Alpha", rating(4.5), 1),
		prompt("P3", "Charlie", rating(4.5), 7),
		prompt("P4", "Delta", rating(3), 50),
		prompt("P5", "Aardvark", rating(3), 50),
	}
	assert.Equal(t, []string{"P3", "P2", "P5", "P4", "P1"}, ids(Rank(prompts, "")))
}

func TestRank_QueryKeepsMatchesOnly(t *testing.T) {
	prompts := []*models.PromptRecord{
		prompt("P1", "Rubric builder", nil, 0, "assessment"),
		prompt("P2", "Learner persona", nil, 0, "audience"),
		prompt("P3", "Storyboard outline", nil, 0, "media"),
	}
	assert.Equal(t, []string{"P1"}, ids(Rank(prompts, "rubric")))
	assert.Empty(t, Rank(prompts, "zzzz"))
}

func TestRank_QueryMatchesTagsAndSubCategory(t *testing.T) {
	withSub := prompt("P2", "Learner persona", nil, 0)
	withSub.SubCategory = strPtr("Audience analysis")
	prompts := []*models.PromptRecord{
		prompt("P1", "Rubric builder", nil, 0, "assessment"),
		withSub,
	}
	assert.Equal(t, []string{"P1"}, ids(Rank(prompts, "assessment")))
	assert.Equal(t, []string{"P2"}, ids(Rank(prompts, "audience")))
}

func TestRank_EqualScoresFallBackToPopularity(t *testing.T) {
	prompts := []*models.PromptRecord{
		prompt("P1", "Rubric builder", rating(2), 0),
		prompt("P2", "Rubric builder", rating(4), 0),
		prompt("P3", "Rubric builder", rating(4), 9),
	}
	assert.Equal(t, []string{"P3", "P2", "P1"}, ids(Rank(prompts, "rubric")))
}

type fixture struct {
	router  *gin.Engine
	catalog catalogstore.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pool := dbtest.NewPool(t)
	catalog, _, err := catalogstore.Provide(pool)
	require.NoError(t, err)
	usageRepo, _, err := usagestore.Provide(pool)
	require.NoError(t, err)

	log := logger.NewNop()
	router := gin.New()
	RegisterRoutes(router, NewService(catalog, usageservice.NewService(usageRepo, nil, log), log), log)
	return &fixture{router: router, catalog: catalog}
}

func (f *fixture) seed(t *testing.T, id string, phase models.Phase, name string, active bool) {
	t.Helper()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rec := &models.PromptRecord{
		PromptID: id, Phase: phase, Name: name, Text: "Text of " + id,
		Version: 1, LastModifiedDate: now, IsActive: active,
	}
	require.NoError(t, f.catalog.ApplyChange(context.Background(), catalogstore.Change{
		Type:   models.ChangeInsert,
		Record: rec,
		History: &models.HistoryEntry{
			HistoryID: id + "-1", PromptID: id, Version: 1, Phase: phase, Text: rec.Text,
			ChangedBy: "test", ChangedDate: now, ChangeType: models.ChangeInsert,
		},
	}))
}

func (f *fixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_PhaseFilterAndActiveOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D1", models.PhaseDesign, "Objectives writer", true)
	f.seed(t, "D2", models.PhaseDesign, "Old objectives", false)
	f.seed(t, "A1", models.PhaseAnalysis, "Needs survey", true)

	rec := f.post(t, `{"phase":"design"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"D1"}, ids(resp.Prompts))
	assert.Equal(t, 1, resp.Total)
	assert.Nil(t, resp.UsageResult)
}

func TestWebhook_QueryAndUsage(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D1", models.PhaseDesign, "Objectives writer", true)
	f.seed(t, "A1", models.PhaseAnalysis, "Needs survey", true)

	rec := f.post(t, `{"query":"survey","usage":{"prompt_id":"A1","feedback_rating":5,"generation_successful":true}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"A1"}, ids(resp.Prompts))
	require.NotNil(t, resp.UsageResult)
	assert.True(t, resp.UsageResult.CountersUpdated)
	require.NotNil(t, resp.UsageResult.UsageCount)
	assert.Equal(t, int64(1), *resp.UsageResult.UsageCount)
}

func TestWebhook_RejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.post(t, `{"phase":"Deployment"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(t, `{"limit":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(t, `{"usage":{"prompt_id":""}}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(t, `{not json`).Code)
}

func TestWebhook_EmptyBodyListsEverything(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "D1", models.PhaseDesign, "Objectives writer", true)
	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"D1"`)
}
