package main

import (
	"log"
	"os"

	"scoreforge/internal/api"
	"scoreforge/internal/config"
	"scoreforge/internal/orchestrator"
	"scoreforge/internal/renderer"
	"scoreforge/internal/results"
	"scoreforge/internal/store"
	"scoreforge/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel())

	logger.Info("scoreforge: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"engine_bin", cfg.EngineBin,
		"workers", cfg.Workers,
	)

	if cfg.EngineBin == "" {
		log.Fatal("no engine binary found; set SCOREFORGE_ENGINE_BIN or install MuseScore")
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	spaces, err := workspace.NewManager(cfg.WorkspaceRoot, logger)
	if err != nil {
		log.Fatalf("failed to initialize workspace root: %v", err)
	}
	defer spaces.Close()

	res := results.New(cfg.Retention(), cfg.SweepInterval(), logger)
	defer res.Close()

	sup := renderer.New(cfg.EngineBin, cfg.GracePeriod(), cfg.MaxCaptureBytes, logger)

	orch := orchestrator.New(orchestrator.Config{
		Workers:    cfg.Workers,
		JobTimeout: cfg.JobTimeout(),
	}, db, spaces, sup, res, logger)
	defer orch.Close()

	srv := api.NewServer(cfg.ListenAddr, db, orch, cfg.MaxInputBytes, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
