// testserver starts a scoreforge API server with a shell-script engine stub
// for E2E testing, so no MuseScore installation is needed.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"scoreforge/internal/api"
	"scoreforge/internal/orchestrator"
	"scoreforge/internal/renderer"
	"scoreforge/internal/results"
	"scoreforge/internal/store"
	"scoreforge/internal/workspace"
)

// stubEngine copies the input to the requested output path after a short
// delay, standing in for a real conversion.
const stubEngine = `#!/bin/sh
sleep 0.1
cp "$4" "$3"
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	tmp, err := os.MkdirTemp("", "scoreforge-testserver-")
	if err != nil {
		log.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(tmp)

	stub := filepath.Join(tmp, "mscore-stub")
	if err := os.WriteFile(stub, []byte(stubEngine), 0o755); err != nil {
		log.Fatalf("write stub engine: %v", err)
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	spaces, err := workspace.NewManager(filepath.Join(tmp, "ws"), logger)
	if err != nil {
		log.Fatalf("workspace root: %v", err)
	}
	defer spaces.Close()

	res := results.New(15*time.Minute, time.Minute, logger)
	defer res.Close()

	sup := renderer.New(stub, 2*time.Second, 0, logger)

	orch := orchestrator.New(orchestrator.Config{
		Workers:    2,
		JobTimeout: 30 * time.Second,
	}, db, spaces, sup, res, logger)
	defer orch.Close()

	srv := api.NewServer(":8080", db, orch, 20<<20, logger)

	logger.Info("testserver ready", "addr", ":8080", "engine", stub)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
