package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/cogsolver/internal/bus"
	"github.com/opensource-finance/cogsolver/internal/cache"
	"github.com/opensource-finance/cogsolver/internal/catalog"
	"github.com/opensource-finance/cogsolver/internal/config"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/opensource-finance/cogsolver/internal/repository"
	"github.com/opensource-finance/cogsolver/internal/rules"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgFile string
	debug   bool

	cfg    *domain.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:     "cogsolver",
		Short:   "Rule-based approval recommendations for event applications",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(config.Options{File: a.cfgFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			if a.debug {
				cfg.Logging.Level = "debug"
			}
			a.cfg = cfg
			a.logger = config.NewLogger(cfg.Logging, cmd.ErrOrStderr())
			slog.SetDefault(a.logger)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.String("tier", "", "deployment tier (community|pro)")
	flags.String("db-driver", "", "database driver (sqlite|postgres)")
	flags.String("sqlite-path", "", "path to the SQLite database")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-format", "", "log format (json|text)")

	root.AddCommand(
		newServeCmd(a),
		newReportCmd(a),
		newMigrateCmd(a),
		newRulesCmd(a),
	)
	return root
}

// openRepository opens the configured store, migrating it on the way.
func (a *app) openRepository(ctx context.Context) (*repository.SQLRepository, error) {
	repo, err := repository.New(ctx, a.cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.logger.Debug("repository initialized", "driver", a.cfg.Repository.Driver)
	return repo, nil
}

// sharedCatalog builds a catalog on the configured cache and event bus, so
// rule writes from the CLI invalidate the cache running servers read and
// announce the change to them. release closes both.
func (a *app) sharedCatalog(ctx context.Context, repo domain.Repository) (cat *catalog.Catalog, release func(), err error) {
	c, err := cache.New(ctx, a.cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	b, err := bus.New(a.cfg.EventBus, a.logger)
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	cat = catalog.New(repo, c, b, a.cfg.Cache.RulesTTL, a.logger)
	return cat, func() {
		b.Close()
		c.Close()
	}, nil
}

// offlineEngine builds an engine reading straight from repo, for one-shot
// commands that need no cache or bus.
func (a *app) offlineEngine(repo domain.Repository) (*catalog.Catalog, *rules.Engine, error) {
	cat := catalog.New(repo, nil, nil, time.Minute, a.logger)
	engine, err := rules.NewEngine(cat, repo, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	return cat, engine, nil
}
