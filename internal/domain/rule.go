package domain

import "time"

// ConditionType selects which predicate a rule applies.
type ConditionType string

// Supported condition types.
const (
	ConditionDateCompare ConditionType = "date_compare"
	ConditionRoleCheck   ConditionType = "role_check"
	ConditionTextLength  ConditionType = "text_length"
	ConditionCombined    ConditionType = "combined"
)

// ConditionTypes lists every supported condition type.
var ConditionTypes = []ConditionType{
	ConditionDateCompare,
	ConditionRoleCheck,
	ConditionTextLength,
	ConditionCombined,
}

// Rule is a prioritized, toggleable classification rule as it is stored.
// Parameters that do not apply to ConditionType are ignored.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name" validate:"required,max=100"`
	Description string `json:"description" yaml:"description"`

	// Priority orders evaluation: higher first, ties by Name ascending.
	Priority int  `json:"priority" yaml:"priority"`
	Active   bool `json:"active" yaml:"active"`

	ConditionType ConditionType `json:"conditionType" yaml:"condition_type" validate:"required"`

	// DaysThreshold is used by date_compare and combined.
	DaysThreshold *int `json:"daysThreshold,omitempty" yaml:"days_threshold,omitempty"`

	// Roles is used by role_check and combined.
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`

	// MinTextLength is used by text_length and combined.
	MinTextLength *int `json:"minTextLength,omitempty" yaml:"min_text_length,omitempty"`

	TargetStatusID string `json:"targetStatusId" yaml:"target_status" validate:"required"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// Status is an approval stage. The engine compares statuses by ID only.
type Status struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required,max=32"`
	Description string `json:"description" validate:"max=512"`
	Stage       int    `json:"stage"`
}

// Role is a participatory role of an event.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=512"`
}
