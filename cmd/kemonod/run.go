package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"kemonod/pkg/auth"
	"kemonod/pkg/config"
	"kemonod/pkg/download"
	"kemonod/pkg/kemono"
	"kemonod/pkg/logger"
	"kemonod/pkg/registry"
	"kemonod/pkg/scheduler"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor loop",
	Long: `Run the scheduling loop. Every tick each tracked creator's timer is
evaluated against the wall clock; due creators are checked one at a
time: new posts are listed down to the last known one, filtered, and
their files downloaded.

The loop runs until interrupted. An interrupt finishes the current
chunk write and exits; partially downloaded files are resumed on the
next run.`,
	Example: `  # Run with defaults
  kemonod run

  # Run with a specific config and registry
  kemonod run -c /etc/kemonod.yaml --registry /var/lib/kemonod/artists.json`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	orch, store, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	if store.Len() == 0 {
		fmt.Println("No creators tracked yet. Add one with: kemonod artist add <url>")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.InfoWithFields("kemonod starting", map[string]interface{}{
		"version":  version,
		"creators": store.Len(),
	})

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

// buildOrchestrator wires the client, engine and registry together.
func buildOrchestrator(cfg *config.Config, log logger.Logger) (*scheduler.Orchestrator, *registry.Store, error) {
	fs := afero.NewOsFs()

	store, err := registry.NewStore(fs, registryPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open registry: %w", err)
	}

	client := kemono.NewClient(cfg.Platform.BaseURL, cfg.Platform.RequestTimeout, log)
	client.SetRateLimit(cfg.Platform.RequestsPerMinute)
	if cfg.Platform.UserAgent != "" {
		client.SetUserAgent(cfg.Platform.UserAgent)
	}
	attachSession(client, log)

	engine := download.NewEngine(fs, client, download.Options{
		MaxAttempts:  cfg.Download.MaxRetries,
		RetryDelay:   cfg.Download.RetryDelay,
		PacingDelay:  cfg.Download.PacingDelay,
		SkipExisting: cfg.Download.SkipExisting,
	}, log)

	return scheduler.New(cfg, store, client, engine, fs, log), store, nil
}

// attachSession applies a stored session cookie when one exists. The
// platform serves public content without one, so absence is not fatal.
func attachSession(client *kemono.Client, log logger.Logger) {
	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("session store unavailable, continuing without session")
		return
	}

	session, err := manager.Retrieve()
	if err != nil {
		log.Debug("no stored session, continuing without one")
		return
	}

	client.SetSessionCookie(session.Cookie)
	if session.UserAgent != "" {
		client.SetUserAgent(session.UserAgent)
	}
	log.WithField("stored", session.LastModified.Format(time.RFC3339)).Info("using stored session")
}
