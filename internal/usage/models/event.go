// Package models defines usage analytics events.
package models

import "time"

// Event is one append-only usage record. PromptID is a referential intent only;
// the prompt may be unknown or inactive.
type Event struct {
	UsageID              string    `db:"usage_id" json:"usage_id"`
	PromptID             string    `db:"prompt_id" json:"prompt_id"`
	UserEmail            *string   `db:"user_email" json:"user_email,omitempty"`
	Timestamp            time.Time `db:"timestamp" json:"timestamp"`
	PhaseContext         *string   `db:"addie_phase_context" json:"addie_phase_context,omitempty"`
	CourseContext        *string   `db:"course_context" json:"course_context,omitempty"`
	FeedbackRating       *int      `db:"feedback_rating" json:"feedback_rating,omitempty"`
	FeedbackText         *string   `db:"feedback_text" json:"feedback_text,omitempty"`
	GenerationSuccessful bool      `db:"generation_successful" json:"generation_successful"`
}

// Result describes what Record did.
type Result struct {
	UsageID         string   `json:"usage_id"`
	Duplicate       bool     `json:"duplicate,omitempty"`
	CountersUpdated bool     `json:"counters_updated"`
	UsageCount      *int64   `json:"usage_count,omitempty"`
	AvgRating       *float64 `json:"avg_rating,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Summary aggregates the recorded events of one prompt.
type Summary struct {
	PromptID   string   `db:"prompt_id" json:"prompt_id"`
	Events     int64    `db:"events" json:"events"`
	Rated      int64    `db:"rated" json:"rated"`
	Successful int64    `db:"successful" json:"successful"`
	AvgRating  *float64 `db:"avg_rating" json:"avg_rating,omitempty"`
}
