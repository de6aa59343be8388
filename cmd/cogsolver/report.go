package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/spf13/cobra"
)

func newReportCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Recommend a status for every stored application",
		Long: `Runs every active rule against every stored application and prints the
recommended statuses. Nothing is written back.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			repo, err := a.openRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			_, engine, err := a.offlineEngine(repo)
			if err != nil {
				return err
			}

			report, err := engine.BatchApply(ctx)
			if err != nil {
				return err
			}
			return renderReport(cmd.OutOrStdout(), report, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table|json)")
	return cmd
}

func renderReport(w io.Writer, report *domain.BatchReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "table", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if len(report.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(no applications)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Application", "Title", "Current", "Recommended", "Changed"})
	for _, row := range report.Rows {
		changed := ""
		if row.Changed {
			changed = "yes"
		}
		t.AppendRow(table.Row{row.Application.ID, row.Application.Title, row.CurrentStatusID, row.RecommendedStatusID, changed})
	}
	t.Render()

	if len(report.Rules) > 0 {
		rt := table.NewWriter()
		rt.SetOutputMirror(w)
		rt.SetStyle(table.StyleLight)
		rt.AppendHeader(table.Row{"Rule", "Target", "Changed", "Applications"})
		for _, summary := range report.Rules {
			ids := make([]string, len(summary.Applications))
			for i, row := range summary.Applications {
				ids[i] = row.Application.ID
			}
			rt.AppendRow(table.Row{summary.Name, summary.TargetStatusID, summary.Count, strings.Join(ids, ", ")})
		}
		rt.Render()
	}

	_, _ = fmt.Fprintf(w, "%d of %d applications would change status", report.ChangedCount, len(report.Rows))
	if n := report.Metadata.EvaluationErrors; n > 0 {
		_, _ = fmt.Fprintf(w, " (%d rule evaluation errors, see logs)", n)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
