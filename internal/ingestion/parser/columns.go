package parser

import "strings"

// Canonical batch columns.
const (
	colPromptID       = "prompt_id"
	colPhase          = "phase"
	colSubCategory    = "sub_category"
	colPromptName     = "prompt_name"
	colPromptText     = "prompt_text"
	colTags           = "tags"
	colPrerequisites  = "prerequisites"
	colExpectedOutput = "expected_output"
	colVersionNotes   = "version_notes"
	colAuthor         = "author"
	colCreatedDate    = "created_date"
)

var requiredColumns = []string{colPhase, colPromptName, colPromptText}

// columnAliases maps normalized header text to its canonical column.
var columnAliases = map[string]string{
	"prompt_id":       colPromptID,
	"id":              colPromptID,
	"phase":           colPhase,
	"addie_phase":     colPhase,
	"sub_category":    colSubCategory,
	"subcategory":     colSubCategory,
	"prompt_name":     colPromptName,
	"name":            colPromptName,
	"prompt_text":     colPromptText,
	"text":            colPromptText,
	"tags":            colTags,
	"prerequisites":   colPrerequisites,
	"expected_output": colExpectedOutput,
	"version_notes":   colVersionNotes,
	"author":          colAuthor,
	"created_date":    colCreatedDate,
}

// normalizeHeader lowercases, trims and folds spaces and dashes to underscores.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// header is the resolved column layout of one batch.
type header struct {
	index        map[string]int // canonical column -> cell index
	unrecognized []string
	duplicated   []string
	missing      []string
}

func resolveHeader(cells []string) header {
	h := header{index: make(map[string]int)}
	for i, raw := range cells {
		name := normalizeHeader(raw)
		if name == "" {
			continue
		}
		canonical, ok := columnAliases[name]
		if !ok {
			h.unrecognized = append(h.unrecognized, strings.TrimSpace(raw))
			continue
		}
		if _, seen := h.index[canonical]; seen {
			h.duplicated = append(h.duplicated, canonical)
			continue
		}
		h.index[canonical] = i
	}
	for _, col := range requiredColumns {
		if _, ok := h.index[col]; !ok {
			h.missing = append(h.missing, col)
		}
	}
	return h
}

// cells extracts the trimmed values of the known columns from one record.
func (h header) cells(record []string) map[string]string {
	out := make(map[string]string, len(h.index))
	for col, i := range h.index {
		if i < len(record) {
			if v := strings.TrimSpace(record[i]); v != "" {
				out[col] = v
			}
		}
	}
	return out
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
