package main

import (
	"log"
	"os"

	"github.com/spatialops/moran/internal/api"
	"github.com/spatialops/moran/internal/config"
	"github.com/spatialops/moran/internal/invoke"
	"github.com/spatialops/moran/internal/jobs"
	"github.com/spatialops/moran/internal/pipeline"
	"github.com/spatialops/moran/internal/runner"
	"github.com/spatialops/moran/internal/store"
	"github.com/spatialops/moran/internal/workdir"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("morand: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"scripts_dir", cfg.ScriptsDir,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	p := pipeline.New(
		invoke.NewDefaultRegistry(cfg.ScriptsDir),
		runner.New(logger),
		workdir.New(logger, cfg.WorkdirRoot),
		cfg.Timeouts,
		logger,
	)
	eng := jobs.NewEngine(db, p, settings, cfg.ResultsDir, logger)

	srv := api.NewServer(cfg.ListenAddr, db, eng, p, settings, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	// Let in-flight analyses finish before closing the store.
	eng.Wait()
}
