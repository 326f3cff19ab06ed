package models

import "time"

// Candidate is a validated batch row, typed and ready for reconciliation.
type Candidate struct {
	PromptID       string
	Phase          Phase
	SubCategory    *string
	Name           string
	Text           string
	Tags           []string
	Prerequisites  *string
	ExpectedOutput *string
	VersionNotes   *string
	Author         *string
	CreatedDate    *time.Time

	// Row is the 1-based data row the candidate came from.
	Row int
	// GeneratedID is set when PromptID was derived rather than supplied.
	GeneratedID bool
}

// SameContent reports whether applying cand to rec would change any ingestible field.
// Derived usage metrics, the embedding and both timestamps are ignored; tags compare as a set.
func SameContent(rec *PromptRecord, cand *Candidate) bool {
	return rec.Phase == cand.Phase &&
		equalOpt(rec.SubCategory, cand.SubCategory) &&
		rec.Name == cand.Name &&
		rec.Text == cand.Text &&
		sameTagSet(rec.Tags, cand.Tags) &&
		equalOpt(rec.Prerequisites, cand.Prerequisites) &&
		equalOpt(rec.ExpectedOutput, cand.ExpectedOutput) &&
		equalOpt(rec.VersionNotes, cand.VersionNotes) &&
		equalOpt(rec.Author, cand.Author)
}

// Apply returns the record that results from writing cand at version onto prev.
// prev may be nil for a new prompt. Usage counters and the embedding are carried over.
func (c *Candidate) Apply(prev *PromptRecord, version int, now time.Time) *PromptRecord {
	rec := &PromptRecord{
		PromptID:         c.PromptID,
		Phase:            c.Phase,
		SubCategory:      c.SubCategory,
		Name:             c.Name,
		Text:             c.Text,
		Tags:             StringList(append([]string(nil), c.Tags...)),
		Prerequisites:    c.Prerequisites,
		ExpectedOutput:   c.ExpectedOutput,
		Version:          version,
		VersionNotes:     c.VersionNotes,
		Author:           c.Author,
		CreatedDate:      c.CreatedDate,
		LastModifiedDate: now,
		IsActive:         true,
	}
	if prev != nil {
		rec.UsageCount = prev.UsageCount
		rec.AvgRating = prev.AvgRating
		rec.Embedding = prev.Embedding
		if rec.CreatedDate == nil {
			rec.CreatedDate = prev.CreatedDate
		}
	}
	return rec
}

func equalOpt(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameTagSet(a, b []string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for t := range setA {
		if _, ok := setB[t]; !ok {
			return false
		}
	}
	return true
}
