package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/examlens/internal/api"
	"github.com/seantiz/examlens/internal/config"
	"github.com/seantiz/examlens/internal/dispatch"
	"github.com/seantiz/examlens/internal/engine"
	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/remote"
	"github.com/seantiz/examlens/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("examlens: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"remote_url", cfg.RemoteURL,
		"poll_interval", cfg.PollInterval.String(),
	)

	models, err := loadModels(cfg.ModelsFile, logger)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	remotes := newRemotes(cfg, logger)
	planner := dispatch.NewPlanner(remotes, db, logger)
	eng := engine.NewEngine(engine.Config{
		PollInterval:    cfg.PollInterval,
		PollConcurrency: cfg.PollConcurrency,
		TaskTimeout:     cfg.TaskTimeout,
	}, planner, remotes, db, logger)
	eng.Start(ctx)
	defer eng.Stop()

	srv := api.NewServer(cfg.ListenAddr, db, remotes, eng, models, logger)
	return srv.Run()
}

// loadModels reads the models file. A missing file leaves the server
// without defaults; batches then have to name their models.
func loadModels(path string, logger *slog.Logger) ([]model.ModelConfig, error) {
	models, err := config.LoadModels(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("models file not found, batches must name their models", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("models loaded", "path", path, "count", len(models))
	return models, nil
}

// newRemotes registers the HTTP job service when a remote URL is configured
// and the in-process memory service otherwise.
func newRemotes(cfg config.Config, logger *slog.Logger) *remote.Registry {
	reg := remote.NewRegistry()
	if cfg.RemoteURL != "" {
		reg.Register("http", remote.NewHTTPService(remote.HTTPConfig{
			Name:           "http",
			BaseURL:        cfg.RemoteURL,
			RPS:            cfg.RemoteRPS,
			MaxConcurrency: cfg.PollConcurrency,
		}))
		return reg
	}
	logger.Warn("no remote URL configured, using the in-process memory job service")
	reg.Register("memory", remote.NewMemoryService(remote.MemoryConfig{Steps: 2, Batch: true}))
	return reg
}
