package model

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Email is immutable after ingest. Analysis is only filled on reads.
type Email struct {
	ID         int            `json:"id"`
	From       string         `json:"from"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Analysis   *EmailAnalysis `json:"analysis"`
}

// EmailAnalysis holds everything derived from one email; at most one row per email.
//
// A row created by a draft or suggestion request before categorization ran has
// AnalyzedAt == nil and an empty category. Only rows with AnalyzedAt set count as analyzed.
type EmailAnalysis struct {
	ID            int          `json:"id"`
	EmailID       int          `json:"emailId"`
	Category      string       `json:"category"`
	Summary       string       `json:"summary"`
	ActionItems   []ActionItem `json:"actionItems"`
	ResponseDraft *string      `json:"responseDraft"`
	Suggestions   []string     `json:"suggestions,omitempty"`
	AnalyzedAt    *time.Time   `json:"analyzedAt"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func (a *EmailAnalysis) IsAnalyzed() bool {
	return a != nil && a.AnalyzedAt != nil
}

type ActionItem struct {
	Task     string `json:"task"`
	Deadline string `json:"deadline,omitempty"`
}

// UnmarshalJSON accepts {"task": ..., "deadline": ...} as well as a bare string task.
func (a *ActionItem) UnmarshalJSON(data []byte) error {
	var task string
	if err := json.Unmarshal(data, &task); err == nil {
		*a = ActionItem{Task: strings.TrimSpace(task)}
		return nil
	}

	type plain ActionItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = ActionItem{Task: strings.TrimSpace(p.Task), Deadline: strings.TrimSpace(p.Deadline)}
	return nil
}

// AnalysisPatch updates only the non-nil fields of an analysis row.
type AnalysisPatch struct {
	Category      *string
	Summary       *string
	ActionItems   *[]ActionItem
	ResponseDraft *string
	Suggestions   *[]string
	AnalyzedAt    *time.Time
}

func (p AnalysisPatch) IsEmpty() bool {
	return p.Category == nil && p.Summary == nil && p.ActionItems == nil &&
		p.ResponseDraft == nil && p.Suggestions == nil && p.AnalyzedAt == nil
}

// Apply copies the set fields of p onto a.
func (p AnalysisPatch) Apply(a *EmailAnalysis) {
	if p.Category != nil {
		a.Category = *p.Category
	}
	if p.Summary != nil {
		a.Summary = *p.Summary
	}
	if p.ActionItems != nil {
		a.ActionItems = *p.ActionItems
	}
	if p.ResponseDraft != nil {
		draft := *p.ResponseDraft
		a.ResponseDraft = &draft
	}
	if p.Suggestions != nil {
		a.Suggestions = *p.Suggestions
	}
	if p.AnalyzedAt != nil {
		at := *p.AnalyzedAt
		a.AnalyzedAt = &at
	}
}

// BatchSummary is the result of one batch run. Processed + Failed == Total.
type BatchSummary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

func (s BatchSummary) NothingToDo() bool {
	return s.Total == 0
}
