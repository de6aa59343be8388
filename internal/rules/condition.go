package rules

import (
	"strings"

	"github.com/opensource-finance/cogsolver/internal/domain"
)

// Condition is the predicate of a rule. It is a closed set: DateCompare,
// RoleCheck, TextLength and Combined are the only implementations, and each
// carries only the parameters its kind uses.
type Condition interface {
	Type() domain.ConditionType
	sealed()
}

// DateCompare matches when every scheduled window starts no later than
// DaysThreshold days after submission. Applications without windows never match.
type DateCompare struct {
	DaysThreshold *int
}

// RoleCheck matches when the application lists at least one of Roles.
type RoleCheck struct {
	Roles []string
}

// TextLength matches when the description is shorter than MinLength runes.
type TextLength struct {
	MinLength *int
}

// Combined is the conjunction of the three checks above. A check without a
// configured parameter is true, so an empty Combined matches everything.
type Combined struct {
	DaysThreshold *int
	Roles         []string
	MinLength     *int
}

func (DateCompare) Type() domain.ConditionType { return domain.ConditionDateCompare }
func (RoleCheck) Type() domain.ConditionType   { return domain.ConditionRoleCheck }
func (TextLength) Type() domain.ConditionType  { return domain.ConditionTextLength }
func (Combined) Type() domain.ConditionType    { return domain.ConditionCombined }

func (DateCompare) sealed() {}
func (RoleCheck) sealed()   {}
func (TextLength) sealed()  {}
func (Combined) sealed()    {}

// ConditionOf builds the condition variant described by a stored rule.
func ConditionOf(rule *domain.Rule) (Condition, error) {
	switch rule.ConditionType {
	case domain.ConditionDateCompare:
		return DateCompare{DaysThreshold: rule.DaysThreshold}, nil
	case domain.ConditionRoleCheck:
		return RoleCheck{Roles: rule.Roles}, nil
	case domain.ConditionTextLength:
		return TextLength{MinLength: rule.MinTextLength}, nil
	case domain.ConditionCombined:
		return Combined{
			DaysThreshold: rule.DaysThreshold,
			Roles:         rule.Roles,
			MinLength:     rule.MinTextLength,
		}, nil
	default:
		return nil, &domain.ConfigurationError{
			RuleID: rule.ID,
			Field:  "conditionType",
			Reason: "unknown condition type " + string(rule.ConditionType),
		}
	}
}

// CEL clauses. Variables are declared in newEnv.
const (
	dateClause = `size(window_starts) > 0 && window_starts.all(s, s <= submitted_at + threshold)`
	roleClause = `rule_roles.exists(r, r in app_roles)`
	textClause = `size(description) < min_length`
)

// source renders the CEL expression for a condition. A standalone check
// whose parameter is missing compiles to false; a missing parameter inside
// Combined drops that clause.
func source(c Condition) string {
	switch c := c.(type) {
	case DateCompare:
		if c.DaysThreshold == nil {
			return "false"
		}
		return dateClause
	case RoleCheck:
		if len(c.Roles) == 0 {
			return "false"
		}
		return roleClause
	case TextLength:
		if c.MinLength == nil {
			return "false"
		}
		return textClause
	case Combined:
		var clauses []string
		if c.DaysThreshold != nil {
			clauses = append(clauses, "("+dateClause+")")
		}
		if len(c.Roles) > 0 {
			clauses = append(clauses, "("+roleClause+")")
		}
		if c.MinLength != nil {
			clauses = append(clauses, "("+textClause+")")
		}
		if len(clauses) == 0 {
			return "true"
		}
		return strings.Join(clauses, " && ")
	}
	return "false"
}

// params extracts the rule-side activation values of a condition.
func params(c Condition) (days *int, roles []string, minLength *int) {
	switch c := c.(type) {
	case DateCompare:
		return c.DaysThreshold, nil, nil
	case RoleCheck:
		return nil, c.Roles, nil
	case TextLength:
		return nil, nil, c.MinLength
	case Combined:
		return c.DaysThreshold, c.Roles, c.MinLength
	}
	return nil, nil, nil
}
