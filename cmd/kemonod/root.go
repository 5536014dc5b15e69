package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"kemonod/pkg/config"
	"kemonod/pkg/logger"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile   string
	logLevel     string
	downloadDir  string
	baseURL      string
	registryFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kemonod",
	Short: "A periodic post monitor and downloader for kemono",
	Long: `kemonod tracks creators on kemono and periodically downloads their
new posts.

Features:
  - Per-creator check schedules (daily, weekly, monthly)
  - Keyword and date filters, global or per creator
  - Resumable downloads that skip already complete files
  - Automatic retry with exponential backoff
  - Secure session cookie storage using the system keychain`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .kemonod.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&downloadDir, "download-dir", "d", "", "download directory")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "platform base URL")
	rootCmd.PersistentFlags().StringVar(&registryFile, "registry", "", "tracked creators file (default is artists.json next to the config)")

	rootCmd.SetVersionTemplate(`kemonod {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig builds the effective configuration from file, environment
// and flags.
func loadConfig() (*config.Config, error) {
	flags := make(map[string]interface{})
	if downloadDir != "" {
		flags["download-dir"] = downloadDir
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if baseURL != "" {
		flags["base-url"] = baseURL
	}

	return config.Load(configFile, flags)
}

// setupLogger initializes the global logger from the loaded config.
func setupLogger(cfg *config.Config) (logger.Logger, error) {
	if err := logger.Initialize(logger.Config{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	}); err != nil {
		return nil, err
	}
	return logger.GetLogger(), nil
}

// registryPath resolves the tracked creators file location.
func registryPath() string {
	if registryFile != "" {
		return registryFile
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "kemonod", "artists.json")
	}
	return "artists.json"
}
