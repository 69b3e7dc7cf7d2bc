// Kanban page verifier.
// Opens the local Kanban board in a headless browser, prints its title and
// saves a screenshot for a quick visual check.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nikshitha/kanban-verifier/browser"
	"github.com/nikshitha/kanban-verifier/config"
	"github.com/nikshitha/kanban-verifier/logger"
	"github.com/nikshitha/kanban-verifier/storage"
	"github.com/nikshitha/kanban-verifier/verifier"
)

const defaultConfigPath = "verify.yaml"

func main() {
	os.Exit(run())
}

// run returns the process exit code. Failures are reported on stdout and
// exit 0 unless strict_exit is set.
func run() int {
	// A missing .env is normal
	envErr := godotenv.Load()

	configPath := os.Getenv("VERIFY_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Error: failed to load configuration: %v\n", err)
		if config.StrictExitFromEnv() {
			return 1
		}
		return 0
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		OutputFile: cfg.Logging.OutputFile,
	})
	if err != nil {
		fmt.Printf("Error: failed to initialize logger: %v\n", err)
		return exitCode(cfg, false)
	}
	if envErr != nil {
		log.Debug("No .env file found, using environment variables")
	}

	log.WithFields(map[string]interface{}{
		"url":    cfg.Target.URL,
		"driver": cfg.Browser.Driver,
	}).Info("Page verifier starting")

	driver, err := browser.New(&cfg.Browser, log)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return exitCode(cfg, false)
	}

	v := verifier.New(cfg, driver, log)
	if cfg.Storage.DatabasePath != "" {
		db, err := storage.NewDatabase(cfg.Storage.DatabasePath, log)
		if err != nil {
			log.WithError(err).Warn("History disabled")
		} else {
			defer db.Close()
			logHistory(db, log)
			v.SetRecorder(db)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, log)

	outcome := v.Run(ctx)
	return exitCode(cfg, outcome.OK())
}

func exitCode(cfg *config.Config, ok bool) int {
	if !ok && cfg.StrictExit {
		return 1
	}
	return 0
}

// logHistory summarises earlier runs from the history database
func logHistory(db *storage.Database, log *logger.Logger) {
	stats, err := db.GetVerificationStats()
	if err != nil {
		log.WithError(err).Warn("Failed to read verification history")
		return
	}

	fields := map[string]interface{}{
		"total":     stats.Total,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
	}
	if stats.LastSuccess != nil {
		fields["last_success"] = stats.LastSuccess.Format(time.RFC3339)
	}

	recent, err := db.GetRecentVerifications(1)
	if err != nil {
		log.WithError(err).Debug("Failed to read previous verification")
	} else if len(recent) > 0 {
		fields["previous_status"] = recent[0].Status
	}

	log.WithFields(fields).Info("Verification history")
}

// setupGracefulShutdown cancels the run on SIGINT/SIGTERM so the browser is still closed
func setupGracefulShutdown(cancel context.CancelFunc, log *logger.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Infof("Received signal: %v", sig)
		cancel()
	}()
}
