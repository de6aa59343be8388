package rules

import (
	"fmt"

	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/opensource-finance/cogsolver/internal/validation"
)

// Validate checks that rule is complete enough to be persisted. It returns
// a *domain.ConfigurationError naming the first offending field, or nil.
func Validate(rule *domain.Rule) error {
	if rule == nil {
		return &domain.ConfigurationError{Field: "rule", Reason: "is required"}
	}

	if err := validation.Struct(rule); err != nil {
		fe := validation.Fields(err)[0]
		return &domain.ConfigurationError{RuleID: rule.ID, Field: fe.Field, Reason: fe.Reason}
	}

	cond, err := ConditionOf(rule)
	if err != nil {
		return err
	}

	missing := func(field string) error {
		return &domain.ConfigurationError{
			RuleID: rule.ID,
			Field:  field,
			Reason: fmt.Sprintf("is required for %s rules", cond.Type()),
		}
	}

	switch c := cond.(type) {
	case DateCompare:
		if c.DaysThreshold == nil {
			return missing("daysThreshold")
		}
	case RoleCheck:
		if len(c.Roles) == 0 {
			return missing("roles")
		}
	case TextLength:
		if c.MinLength == nil {
			return missing("minTextLength")
		}
	}

	if d := rule.DaysThreshold; d != nil && (*d > maxThresholdDays || *d < -maxThresholdDays) {
		return &domain.ConfigurationError{
			RuleID: rule.ID,
			Field:  "daysThreshold",
			Reason: fmt.Sprintf("must be between %d and %d", -maxThresholdDays, maxThresholdDays),
		}
	}
	if m := rule.MinTextLength; m != nil && *m < 0 {
		return &domain.ConfigurationError{RuleID: rule.ID, Field: "minTextLength", Reason: "must not be negative"}
	}
	for i, role := range rule.Roles {
		if role == "" {
			return &domain.ConfigurationError{RuleID: rule.ID, Field: fmt.Sprintf("roles[%d]", i), Reason: "is required"}
		}
	}

	return nil
}
