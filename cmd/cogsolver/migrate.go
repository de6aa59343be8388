package main

import (
	"fmt"

	"github.com/opensource-finance/cogsolver/internal/repository"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := a.openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			version, err := repository.MigrationVersion(repo.DB(), a.cfg.Repository.Driver)
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema is at version %d\n", version)
			return nil
		},
	}
}
