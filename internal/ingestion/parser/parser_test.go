package parser

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	catalogmodels "github.com/gstripling00/prompt-system/internal/catalog/models"
	"github.com/gstripling00/prompt-system/internal/ingestion/models"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(Options{})
	require.NoError(t, err)
	return p
}

func parseCSV(t *testing.T, body string) *Result {
	t.Helper()
	res, err := newParser(t).Parse(strings.NewReader(body), "batches/upload.csv")
	require.NoError(t, err)
	return res
}

func TestParse_ValidCSV(t *testing.T) {
	res := parseCSV(t, strings.Join([]string{
		"prompt_id,phase,sub_category,prompt_name,prompt_text,tags,author,created_date",
		`A1,analysis,Needs,Learner survey,Draft v1,"survey, learners ,survey",kim,2024-03-01`,
		"A2,Design,,Storyboard,Sketch the flow,,,",
	}, "\n"))

	require.False(t, res.Rejected())
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Rows)
	require.Len(t, res.Candidates, 2)

	first := res.Candidates[0]
	assert.Equal(t, "A1", first.PromptID)
	assert.Equal(t, catalogmodels.PhaseAnalysis, first.Phase)
	assert.Equal(t, "Needs", *first.SubCategory)
	assert.Equal(t, []string{"survey", "learners"}, first.Tags)
	assert.Equal(t, "kim", *first.Author)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *first.CreatedDate)
	assert.Equal(t, 1, first.Row)
	assert.False(t, first.GeneratedID)

	second := res.Candidates[1]
	assert.Nil(t, second.SubCategory)
	assert.Nil(t, second.Tags)
	assert.Nil(t, second.CreatedDate)
	assert.Equal(t, 2, second.Row)
}

func TestParse_RowErrorsDoNotAbortBatch(t *testing.T) {
	res := parseCSV(t, strings.Join([]string{
		"prompt_id,phase,prompt_name,prompt_text,created_date",
		"A1,Analysis,Survey,Draft v1,",
		"B1,Deployment,Rollout,Ship it,",
		"C1,Design,,Missing name,",
		"D1,Design,Dated,Bad date,03/01/2024",
		"E1,Evaluation,Rubric,Score it,",
	}, "\n"))

	require.False(t, res.Rejected())
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "A1", res.Candidates[0].PromptID)
	assert.Equal(t, "E1", res.Candidates[1].PromptID)

	require.Len(t, res.Errors, 3)
	for _, e := range res.Errors {
		assert.Equal(t, models.KindValidation, e.Kind)
	}
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Equal(t, "B1", res.Errors[0].PromptID)
	assert.Contains(t, res.Errors[0].Message, "phase")
	assert.Equal(t, 3, res.Errors[1].Row)
	assert.Contains(t, res.Errors[1].Message, "prompt_name")
	assert.Equal(t, 4, res.Errors[2].Row)
	assert.Contains(t, res.Errors[2].Message, "created_date")
}

func TestParse_DuplicateIDRejectsBatch(t *testing.T) {
	res := parseCSV(t, strings.Join([]string{
		"prompt_id,phase,prompt_name,prompt_text",
		"A1,Analysis,Survey,Draft v1",
		"B1,Design,Storyboard,Sketch",
		"A1,Analysis,Survey,Draft v2",
	}, "\n"))

	require.True(t, res.Rejected())
	assert.Equal(t, models.KindDuplicateID, res.BatchErr.Kind)
	assert.Equal(t, "A1", res.BatchErr.PromptID)
	assert.Equal(t, 3, res.BatchErr.Row)
	assert.Contains(t, res.BatchErr.Message, "row 1")
	assert.Empty(t, res.Candidates)
}

func TestParse_GeneratedIDsAreDeterministic(t *testing.T) {
	body := "phase,sub_category,prompt_name,prompt_text\nAnalysis,Needs,Survey,Draft v1\n"
	first := parseCSV(t, body)
	second := parseCSV(t, body)

	require.Len(t, first.Candidates, 1)
	assert.True(t, first.Candidates[0].GeneratedID)
	assert.NotEmpty(t, first.Candidates[0].PromptID)
	assert.Equal(t, first.Candidates[0].PromptID, second.Candidates[0].PromptID)
}

func TestParse_GeneratedIDCollisionIsDuplicate(t *testing.T) {
	res := parseCSV(t, strings.Join([]string{
		"phase,prompt_name,prompt_text",
		"Analysis,Survey,Draft v1",
		"analysis,Survey,Draft v2",
	}, "\n"))
	require.True(t, res.Rejected())
	assert.Equal(t, models.KindDuplicateID, res.BatchErr.Kind)
}

func TestParse_UnrecognizedColumnReported(t *testing.T) {
	res := parseCSV(t, strings.Join([]string{
		"Prompt ID,Phase,Prompt Name,Prompt Text,Owner Team",
		"A1,Analysis,Survey,Draft v1,platform",
	}, "\n"))

	require.False(t, res.Rejected())
	require.Len(t, res.Candidates, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, models.KindUnrecognizedField, res.Errors[0].Kind)
	assert.Equal(t, 0, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "Owner Team")
}

func TestParse_MissingRequiredColumnRejectsBatch(t *testing.T) {
	res := parseCSV(t, "prompt_id,phase,prompt_name\nA1,Analysis,Survey\n")
	require.True(t, res.Rejected())
	assert.Equal(t, models.KindValidation, res.BatchErr.Kind)
	assert.Contains(t, res.BatchErr.Message, "prompt_text")
}

func TestParse_BlankRowsSkipped(t *testing.T) {
	res := parseCSV(t, "prompt_id,phase,prompt_name,prompt_text\n,,,\nA1,Analysis,Survey,Draft v1\n  ,  ,,\n")
	assert.Equal(t, 1, res.Rows)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 2, res.Candidates[0].Row)
}

func TestParse_CustomTagDelimiter(t *testing.T) {
	p, err := New(Options{TagDelimiter: "|"})
	require.NoError(t, err)
	res, err := p.Parse(strings.NewReader("phase,prompt_name,prompt_text,tags\nDesign,Flow,Sketch,\"a|b, c|a\"\n"), "x.csv")
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, []string{"a", "b, c"}, res.Candidates[0].Tags)
}

func TestParse_UnsupportedFormatRejected(t *testing.T) {
	res, err := newParser(t).Parse(strings.NewReader("{}"), "batch.json")
	require.NoError(t, err)
	assert.True(t, res.Rejected())
}

func TestParse_MalformedCSVRejected(t *testing.T) {
	res := parseCSV(t, "phase,prompt_name,prompt_text\nAnalysis,\"unterminated,Draft\n")
	assert.True(t, res.Rejected())
	assert.Equal(t, models.KindValidation, res.BatchErr.Kind)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestParse_ReaderFailureIsSystemic(t *testing.T) {
	_, err := newParser(t).Parse(failingReader{}, "batch.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestParse_XLSXPrefersPromptsSheet(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	_, err := f.NewSheet("prompts")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"notes"}))
	require.NoError(t, f.SetSheetRow("prompts", "A1", &[]any{"prompt_id", "phase", "prompt_name", "prompt_text", "tags"}))
	require.NoError(t, f.SetSheetRow("prompts", "A2", &[]any{"X1", "Evaluation", "Rubric", "Score the work", "rubric,grading"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	res, err := newParser(t).Parse(&buf, "batches/q3.XLSX")
	require.NoError(t, err)
	require.False(t, res.Rejected())
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "X1", res.Candidates[0].PromptID)
	assert.Equal(t, catalogmodels.PhaseEvaluation, res.Candidates[0].Phase)
	assert.Equal(t, []string{"rubric", "grading"}, res.Candidates[0].Tags)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a/b.csv"))
	assert.True(t, Supported("a/b.XLSX"))
	assert.False(t, Supported("a/b.json"))
}
