package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput marks malformed requests to a store or service.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("invalid rule configuration")
)

// ConfigurationError is returned when a rule is saved without a parameter
// its condition type requires. It is fatal to the write path.
type ConfigurationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("rule configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("rule %s configuration: %s: %s", e.RuleID, e.Field, e.Reason)
}

// Is lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// EvaluationError describes a failure while evaluating one rule against one
// application. The engine logs it and treats the rule as not matching.
type EvaluationError struct {
	RuleID        string
	ApplicationID string
	Err           error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate rule %s for application %s: %v", e.RuleID, e.ApplicationID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
