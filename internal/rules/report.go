package rules

import "github.com/opensource-finance/cogsolver/internal/domain"

// Summarize groups changed rows under each rule whose target status they
// were moved to. Rules keep their evaluation order; rules that changed
// nothing are listed with an empty group.
func Summarize(rows []domain.ReportRow, rules []*domain.Rule) []domain.RuleSummary {
	summaries := make([]domain.RuleSummary, 0, len(rules))
	for _, rule := range rules {
		s := domain.RuleSummary{
			RuleID:         rule.ID,
			Name:           rule.Name,
			Description:    rule.Description,
			TargetStatusID: rule.TargetStatusID,
			Applications:   []domain.ReportRow{},
		}
		for _, row := range rows {
			if row.Changed && row.RecommendedStatusID == rule.TargetStatusID {
				s.Applications = append(s.Applications, row)
			}
		}
		s.Count = len(s.Applications)
		summaries = append(summaries, s)
	}
	return summaries
}
