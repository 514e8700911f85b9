package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"

	"courier/internal/app"
	"courier/pkg/config"
	"courier/pkg/logger"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func abort(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	logger.Error("startup_aborted", "msg", msg, "error", err)
	logger.Sync()
	os.Exit(1)
}

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	flags, err := config.ParseConfigFlags(os.Args[1:])
	if err != nil {
		abort("invalid flags", err)
	}

	eff, err := config.LoadEffectiveConfig(flags)
	if err != nil {
		abort("failed to build effective config", err)
	}
	config.SetConfig(eff.Config)

	// initialize logger after config is fully loaded
	logger.Init(eff.Config.Logging.Level)
	defer logger.Sync()

	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)
	logger.Info("system_logical_cores", "logical_cores", runtime.NumCPU())

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		abort("failed to initialize app", err)
	}

	ctx, cancel := app.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)
	if runErr != nil {
		logger.Error("app_run_failed", "error", runErr)
	}

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		logger.Sync()
		os.Exit(1)
	}
}
