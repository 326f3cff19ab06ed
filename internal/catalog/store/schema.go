package store

import (
	"fmt"
	"strings"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
)

func phaseCheck() string {
	quoted := make([]string, len(models.Phases))
	for i, p := range models.Phases {
		quoted[i] = "'" + string(p) + "'"
	}
	return strings.Join(quoted, ", ")
}

func schemaStatements() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS prompts (
			prompt_id TEXT PRIMARY KEY,
			addie_phase TEXT NOT NULL CHECK (addie_phase IN (%s)),
			sub_category TEXT,
			prompt_name TEXT NOT NULL,
			prompt_text TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			prerequisites TEXT,
			expected_output TEXT,
			version INTEGER NOT NULL CHECK (version >= 1),
			version_notes TEXT,
			author TEXT,
			created_date DATE,
			last_modified_date TIMESTAMP NOT NULL,
			is_active BOOLEAN NOT NULL,
			usage_count INTEGER,
			avg_rating DOUBLE PRECISION,
			embedding TEXT
		)`, phaseCheck()),
		`CREATE INDEX IF NOT EXISTS idx_prompts_phase_active ON prompts(addie_phase, is_active)`,
		`CREATE TABLE IF NOT EXISTS prompt_history (
			history_id TEXT PRIMARY KEY,
			prompt_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			addie_phase TEXT NOT NULL,
			prompt_text TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			changed_date TIMESTAMP NOT NULL,
			change_type TEXT NOT NULL CHECK (change_type IN ('INSERT', 'UPDATE', 'DELETE', 'ARCHIVED')),
			version_notes TEXT,
			previous_version INTEGER,
			UNIQUE (prompt_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prompt_history_changed_date ON prompt_history(changed_date)`,
	}
}

const promptColumns = `prompt_id, addie_phase, sub_category, prompt_name, prompt_text, tags,
	prerequisites, expected_output, version, version_notes, author, created_date,
	last_modified_date, is_active, usage_count, avg_rating, embedding`

const historyColumns = `history_id, prompt_id, version, addie_phase, prompt_text, changed_by,
	changed_date, change_type, version_notes, previous_version`
