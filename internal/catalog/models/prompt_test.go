package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParsePhase(t *testing.T) {
	p, ok := ParsePhase("  analysis ")
	require.True(t, ok)
	assert.Equal(t, PhaseAnalysis, p)

	p, ok = ParsePhase("IMPLEMENTATION")
	require.True(t, ok)
	assert.Equal(t, PhaseImplementation, p)

	_, ok = ParsePhase("Deployment")
	assert.False(t, ok)
}

func baseRecord() *PromptRecord {
	count := int64(7)
	rating := 4.2
	return &PromptRecord{
		PromptID:    "A1",
		Phase:       PhaseAnalysis,
		SubCategory: strPtr("Needs"),
		Name:        "Learner survey",
		Text:        "Draft v1",
		Tags:        StringList{"survey", "learners"},
		Version:     3,
		UsageCount:  &count,
		AvgRating:   &rating,
		Embedding:   FloatList{0.1, 0.2},
		IsActive:    true,
	}
}

func baseCandidate() *Candidate {
	return &Candidate{
		PromptID:    "A1",
		Phase:       PhaseAnalysis,
		SubCategory: strPtr("Needs"),
		Name:        "Learner survey",
		Text:        "Draft v1",
		Tags:        []string{"learners", "survey"},
	}
}

func TestSameContent_IgnoresDerivedFieldsAndTagOrder(t *testing.T) {
	rec := baseRecord()
	rec.LastModifiedDate = time.Now()
	assert.True(t, SameContent(rec, baseCandidate()))
}

func TestSameContent_DetectsChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Candidate)
	}{
		{"text", func(c *Candidate) { c.Text = "Draft v2" }},
		{"phase", func(c *Candidate) { c.Phase = PhaseDesign }},
		{"sub category cleared", func(c *Candidate) { c.SubCategory = nil }},
		{"tag added", func(c *Candidate) { c.Tags = append(c.Tags, "new") }},
		{"author set", func(c *Candidate) { c.Author = strPtr("kim") }},
		{"notes set", func(c *Candidate) { c.VersionNotes = strPtr("tightened wording") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := baseCandidate()
			tt.mutate(cand)
			assert.False(t, SameContent(baseRecord(), cand))
		})
	}
}

func TestCandidateApply_CarriesDerivedFields(t *testing.T) {
	prev := baseRecord()
	created := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	prev.CreatedDate = &created
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	cand := baseCandidate()
	cand.Text = "Draft v2"
	rec := cand.Apply(prev, 4, now)

	assert.Equal(t, 4, rec.Version)
	assert.Equal(t, "Draft v2", rec.Text)
	assert.True(t, rec.IsActive)
	assert.Equal(t, now, rec.LastModifiedDate)
	assert.Equal(t, prev.UsageCount, rec.UsageCount)
	assert.Equal(t, prev.AvgRating, rec.AvgRating)
	assert.Equal(t, prev.Embedding, rec.Embedding)
	assert.Equal(t, &created, rec.CreatedDate)
}

func TestStringList_RoundTripsThroughColumn(t *testing.T) {
	v, err := StringList{"a", "b"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	var got StringList
	require.NoError(t, got.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, StringList{"a", "b"}, got)

	require.NoError(t, got.Scan(nil))
	assert.Nil(t, got)
}

func TestFloatList_EmptyIsNull(t *testing.T) {
	v, err := FloatList(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var got FloatList
	require.NoError(t, got.Scan("[0.5,1]"))
	assert.Equal(t, FloatList{0.5, 1}, got)
}
