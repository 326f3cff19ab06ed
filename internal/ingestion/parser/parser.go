// Package parser turns an uploaded batch file into validated, typed candidates.
// It never consults catalog state.
package parser

import (
	_ "embed"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	catalogmodels "github.com/gstripling00/prompt-system/internal/catalog/models"
	"github.com/gstripling00/prompt-system/internal/ingestion/models"
)

//go:embed row_schema.json
var rowSchemaJSON string

// promptNamespace seeds the deterministic ids given to rows without a prompt_id.
var promptNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://prompt-catalog/prompt"))

const dateLayout = "2006-01-02"

// Options tunes parsing.
type Options struct {
	// TagDelimiter separates tags inside the tags cell. Defaults to ",".
	TagDelimiter string
}

// Result is the parser output for one batch.
type Result struct {
	Candidates []catalogmodels.Candidate
	// Errors holds row-level and header errors; the batch still proceeds.
	Errors []models.RowError
	// BatchErr, when set, rejects the whole batch.
	BatchErr *models.RowError
	// Rows counts non-blank data rows.
	Rows int
}

// Rejected reports whether the batch must not be applied.
func (r *Result) Rejected() bool {
	return r.BatchErr != nil
}

// Parser validates rows against the embedded row schema.
type Parser struct {
	opts   Options
	schema *gojsonschema.Schema
}

// New compiles the row schema.
func New(opts Options) (*Parser, error) {
	if opts.TagDelimiter == "" {
		opts.TagDelimiter = ","
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(rowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile row schema: %w", err)
	}
	return &Parser{opts: opts, schema: schema}, nil
}

// Supported reports whether name has an extension the parser can read.
func Supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Parse reads the whole batch. Problems with the file itself are reported as a
// batch-level error in the Result; the returned error is reserved for read failures
// of r, which are systemic.
func (p *Parser) Parse(r io.Reader, name string) (*Result, error) {
	var (
		records [][]string
		err     error
	)
	src := sourceReader{r: r}
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		records, err = readCSV(src)
	case ".xlsx":
		records, err = readXLSX(src)
	default:
		return rejected(models.KindValidation, fmt.Sprintf("unsupported batch format %q", path.Ext(name))), nil
	}
	if err != nil {
		if isReadFailure(err) {
			return nil, err
		}
		return rejected(models.KindValidation, err.Error()), nil
	}
	return p.parseRecords(records), nil
}

func rejected(kind models.ErrorKind, msg string) *Result {
	batchErr := models.RowError{Kind: kind, Message: msg}
	return &Result{BatchErr: &batchErr, Errors: []models.RowError{batchErr}}
}

func (p *Parser) parseRecords(records [][]string) *Result {
	res := &Result{}
	if len(records) == 0 {
		return res
	}

	hdr := resolveHeader(records[0])
	for _, col := range hdr.unrecognized {
		res.Errors = append(res.Errors, models.RowError{
			Kind:    models.KindUnrecognizedField,
			Message: fmt.Sprintf("column %q is not a catalog field; its values are ignored", col),
		})
	}
	if len(hdr.duplicated) > 0 || len(hdr.missing) > 0 {
		var problems []string
		if len(hdr.missing) > 0 {
			problems = append(problems, "missing required columns: "+strings.Join(hdr.missing, ", "))
		}
		if len(hdr.duplicated) > 0 {
			problems = append(problems, "columns given more than once: "+strings.Join(hdr.duplicated, ", "))
		}
		batchErr := models.RowError{Kind: models.KindValidation, Message: strings.Join(problems, "; ")}
		res.BatchErr = &batchErr
		res.Errors = append(res.Errors, batchErr)
		return res
	}

	firstRow := make(map[string]int)
	for i, record := range records[1:] {
		row := i + 1
		if isBlank(record) {
			continue
		}
		res.Rows++

		cand, rowErr := p.parseRow(hdr.cells(record), row)
		if rowErr != nil {
			res.Errors = append(res.Errors, *rowErr)
			continue
		}

		if prev, dup := firstRow[cand.PromptID]; dup {
			dupErr := models.RowError{
				Row:      row,
				PromptID: cand.PromptID,
				Kind:     models.KindDuplicateID,
				Message:  fmt.Sprintf("prompt_id also appears on row %d", prev),
			}
			res.Errors = append(res.Errors, dupErr)
			if res.BatchErr == nil {
				res.BatchErr = &dupErr
			}
			continue
		}
		firstRow[cand.PromptID] = row
		res.Candidates = append(res.Candidates, *cand)
	}

	if res.BatchErr != nil {
		res.Candidates = nil
	}
	return res
}

func (p *Parser) parseRow(cells map[string]string, row int) (*catalogmodels.Candidate, *models.RowError) {
	doc := make(map[string]any, len(cells))
	for col, v := range cells {
		doc[col] = v
	}
	if raw, ok := cells[colPhase]; ok {
		if phase, ok := catalogmodels.ParsePhase(raw); ok {
			doc[colPhase] = string(phase)
		}
	}

	result, err := p.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, &models.RowError{Row: row, PromptID: cells[colPromptID], Kind: models.KindValidation, Message: err.Error()}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, describe(e))
		}
		sort.Strings(msgs)
		return nil, &models.RowError{
			Row:      row,
			PromptID: cells[colPromptID],
			Kind:     models.KindValidation,
			Message:  strings.Join(msgs, "; "),
		}
	}

	cand := &catalogmodels.Candidate{
		PromptID:       cells[colPromptID],
		Phase:          catalogmodels.Phase(doc[colPhase].(string)),
		SubCategory:    optional(cells, colSubCategory),
		Name:           cells[colPromptName],
		Text:           cells[colPromptText],
		Tags:           splitTags(cells[colTags], p.opts.TagDelimiter),
		Prerequisites:  optional(cells, colPrerequisites),
		ExpectedOutput: optional(cells, colExpectedOutput),
		VersionNotes:   optional(cells, colVersionNotes),
		Author:         optional(cells, colAuthor),
		Row:            row,
	}
	if raw, ok := cells[colCreatedDate]; ok {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, &models.RowError{Row: row, PromptID: cand.PromptID, Kind: models.KindValidation, Message: "created_date: must be YYYY-MM-DD"}
		}
		cand.CreatedDate = &d
	}
	if cand.PromptID == "" {
		cand.PromptID = GenerateID(cand.Phase, cand.SubCategory, cand.Name)
		cand.GeneratedID = true
	}
	return cand, nil
}

// GenerateID derives a stable prompt_id from phase, sub-category and name, so
// redelivering a batch without ids resolves to the same prompts.
func GenerateID(phase catalogmodels.Phase, subCategory *string, name string) string {
	sub := ""
	if subCategory != nil {
		sub = *subCategory
	}
	key := strings.Join([]string{string(phase), strings.ToLower(sub), strings.ToLower(name)}, "\x1f")
	return uuid.NewSHA1(promptNamespace, []byte(key)).String()
}

// splitTags splits, trims and de-duplicates tags, keeping first occurrences in order.
func splitTags(raw, delim string) []string {
	if raw == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var tags []string
	for _, part := range strings.Split(raw, delim) {
		tag := strings.TrimSpace(part)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

func optional(cells map[string]string, col string) *string {
	v, ok := cells[col]
	if !ok {
		return nil
	}
	return &v
}

// describe renders a schema error as "field: reason".
func describe(e gojsonschema.ResultError) string {
	field := e.Field()
	if field == "(root)" {
		if prop, ok := e.Details()["property"].(string); ok {
			field = prop
		}
	}
	return fmt.Sprintf("%s: %s", field, e.Description())
}
