package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/opensource-finance/cogsolver/internal/rules"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML layout accepted by `rules import` and `rules validate`.
//
//	rules:
//	  - id: short-notice
//	    name: Short notice
//	    priority: 10
//	    active: true
//	    condition_type: date_compare
//	    days_threshold: 2
//	    target_status: urgent
type ruleFile struct {
	Rules []*domain.Rule `yaml:"rules"`
}

func readRuleFile(path string) ([]*domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%s defines no rules", path)
	}
	return f.Rules, nil
}

// validateRules checks every rule and reports each problem on w. IDs must
// be unique within the file.
func validateRules(w io.Writer, defs []*domain.Rule) error {
	var errs []error
	seen := make(map[string]bool)
	for i, rule := range defs {
		label := rule.ID
		if label == "" {
			label = fmt.Sprintf("#%d (%s)", i+1, rule.Name)
		}
		if rule.ID != "" && seen[rule.ID] {
			err := fmt.Errorf("rule %s: duplicate id", rule.ID)
			errs = append(errs, err)
			fmt.Fprintf(w, "FAIL %s: duplicate id\n", label)
			continue
		}
		seen[rule.ID] = true

		if err := rules.Validate(rule); err != nil {
			errs = append(errs, err)
			fmt.Fprintf(w, "FAIL %s: %v\n", label, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", label)
	}
	return errors.Join(errs...)
}

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage classification rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file.yaml>",
		Short: "Check a rule file without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := readRuleFile(args[0])
			if err != nil {
				return err
			}
			return validateRules(cmd.OutOrStdout(), defs)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Validate and store every rule in a file",
		Long: `Rules are only stored when the whole file is valid and every referenced
status and role exists. Existing rules with the same ID are replaced. The
configured cache is invalidated and running servers are notified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			defs, err := readRuleFile(args[0])
			if err != nil {
				return err
			}
			if err := validateRules(io.Discard, defs); err != nil {
				return err
			}

			repo, err := a.openRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			cat, closeShared, err := a.sharedCatalog(ctx, repo)
			if err != nil {
				return err
			}
			defer closeShared()

			if err := cat.SaveRules(ctx, defs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules\n", len(defs))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored rules in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := a.openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			all, err := repo.ListRules(cmd.Context())
			if err != nil {
				return err
			}
			renderRules(cmd.OutOrStdout(), all)
			return nil
		},
	})

	return cmd
}

func renderRules(w io.Writer, all []*domain.Rule) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Priority", "Active", "Condition", "Target"})
	for _, rule := range all {
		t.AppendRow(table.Row{rule.ID, rule.Name, rule.Priority, rule.Active, rule.ConditionType, rule.TargetStatusID})
	}
	t.Render()
}
