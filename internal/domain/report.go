package domain

import "time"

// ReportRow is one application's line in a batch report.
type ReportRow struct {
	Application         *Application `json:"application"`
	CurrentStatusID     string       `json:"currentStatusId"`
	RecommendedStatusID string       `json:"recommendedStatusId"`
	Changed             bool         `json:"changed"`
}

// RuleSummary groups the changed rows whose recommendation equals the
// rule's target status.
type RuleSummary struct {
	RuleID         string      `json:"ruleId"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	TargetStatusID string      `json:"targetStatusId"`
	Applications   []ReportRow `json:"changedApplications"`
	Count          int         `json:"changedCount"`
}

// BatchReport is the full output of a batch pass. It is a recommendation
// only: nothing in it has been written back to storage.
type BatchReport struct {
	Rows         []ReportRow    `json:"results"`
	Rules        []RuleSummary  `json:"rules"`
	ChangedCount int            `json:"changedCount"`
	GeneratedAt  time.Time      `json:"generatedAt"`
	Metadata     ReportMetadata `json:"metadata"`
}

// ReportMetadata contains processing information.
type ReportMetadata struct {
	TraceID          string `json:"traceId,omitempty"`
	RulesEvaluated   int    `json:"rulesEvaluated"`
	EvaluationErrors int    `json:"evaluationErrors"`
	TotalMs          int64  `json:"totalMs"`
}

// Recommendation is the event payload published when the engine computes a
// status for a single application.
type Recommendation struct {
	ApplicationID       string    `json:"applicationId"`
	CurrentStatusID     string    `json:"currentStatusId"`
	RecommendedStatusID string    `json:"recommendedStatusId"`
	Changed             bool      `json:"changed"`
	ComputedAt          time.Time `json:"computedAt"`
}
