package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/cogsolver/internal/api"
	"github.com/opensource-finance/cogsolver/internal/bus"
	"github.com/opensource-finance/cogsolver/internal/cache"
	"github.com/opensource-finance/cogsolver/internal/catalog"
	"github.com/opensource-finance/cogsolver/internal/rules"
	"github.com/opensource-finance/cogsolver/internal/worker"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().String("host", "", "listen host")
	cmd.Flags().Int("port", 0, "listen port")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	logger.Info("starting cogsolver",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	cacheImpl, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()

	cat := catalog.New(repo, cacheImpl, busImpl, cfg.Cache.RulesTTL, logger)
	watch, err := cat.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch rule changes: %w", err)
	}
	defer watch.Unsubscribe()

	engine, err := rules.NewEngine(cat, repo, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	active, err := cat.ListActiveRules(ctx)
	if err != nil {
		logger.Warn("failed to list active rules", "error", err)
	} else if len(active) == 0 {
		logger.Info("no active rules - configure via POST /rules or cogsolver rules import")
	} else {
		logger.Info("rule engine initialized", "active_rules", len(active))
	}

	var recommender *worker.Worker
	if cfg.Workflow.RecommendOnSubmit {
		recommender = worker.NewWorker(busImpl, engine, logger)
		if err := recommender.Start(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:            repo,
		Catalog:         cat,
		Engine:          engine,
		Cache:           cacheImpl,
		Bus:             busImpl,
		Logger:          logger,
		Version:         Version,
		DefaultStatusID: cfg.Workflow.DefaultStatusID,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("cogsolver is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	if recommender != nil {
		if err := recommender.Stop(); err != nil {
			logger.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("cogsolver shutdown complete")
	return nil
}
