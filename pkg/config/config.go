package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"kemonod/pkg/filter"
	"kemonod/pkg/timer"
)

// Config holds all configuration options for the monitor
type Config struct {
	// Platform connection settings
	Platform PlatformConfig `yaml:"platform" json:"platform"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Folder and file naming settings
	Naming NamingConfig `yaml:"naming" json:"naming"`

	// Scheduling loop settings
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// GlobalFilter applies to every tracked creator unless it opts out
	GlobalFilter filter.Spec `yaml:"global_filter" json:"global_filter"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PlatformConfig holds platform-specific configuration
type PlatformConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// DownloadConfig holds download engine configuration
type DownloadConfig struct {
	Directory     string        `yaml:"directory" json:"directory"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`
	PacingDelay   time.Duration `yaml:"pacing_delay" json:"pacing_delay"`
	SaveContent   bool          `yaml:"save_content" json:"save_content"`
	SkipExisting  bool          `yaml:"skip_existing" json:"skip_existing"`
}

// NamingConfig holds folder and file naming configuration. Formats use
// {name}/{service}/{id} for artist folders, {id}/{title}/{published}
// for post folders and {idx}/{name} for file names.
type NamingConfig struct {
	DateFormat         string            `yaml:"date_format" json:"date_format"`
	ArtistFolderFormat string            `yaml:"artist_folder_format" json:"artist_folder_format"`
	PostFolderFormat   string            `yaml:"post_folder_format" json:"post_folder_format"`
	FileNameFormat     string            `yaml:"file_name_format" json:"file_name_format"`
	RenameImagesOnly   bool              `yaml:"rename_images_only" json:"rename_images_only"`
	ImageExtensions    []string          `yaml:"image_extensions" json:"image_extensions"`
	CharReplacement    map[string]string `yaml:"char_replacement" json:"char_replacement"`
}

// SchedulerConfig holds scheduling loop configuration
type SchedulerConfig struct {
	TickInterval time.Duration  `yaml:"tick_interval" json:"tick_interval"`
	GlobalTimer  timer.Schedule `yaml:"global_timer" json:"global_timer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			BaseURL:           "https://kemono.cr",
			RequestTimeout:    30 * time.Second,
			RequestsPerMinute: 60,
		},
		Download: DownloadConfig{
			Directory:    "./downloads",
			MaxRetries:   5,
			RetryDelay:   2 * time.Second,
			PacingDelay:  time.Second,
			SaveContent:  true,
			SkipExisting: true,
		},
		Naming: NamingConfig{
			DateFormat:         "2006.01.02",
			ArtistFolderFormat: "{name}",
			PostFolderFormat:   "[{published}] {title}",
			FileNameFormat:     "{idx}",
			RenameImagesOnly:   true,
			ImageExtensions:    []string{".jpe", ".jpg", ".jpeg", ".png", ".gif", ".webp"},
			CharReplacement: map[string]string{
				"/":  "／",
				"\\": "＼",
				":":  "：",
				"*":  "＊",
				"?":  "？",
				"\"": "＂",
				"<":  "＜",
				">":  "＞",
				"|":  "｜",
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval: 60 * time.Second,
			GlobalTimer: timer.Schedule{
				Type: timer.Daily,
				Time: "02:00",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if baseURL := os.Getenv("KEMONOD_BASE_URL"); baseURL != "" {
		c.Platform.BaseURL = baseURL
	}
	if userAgent := os.Getenv("KEMONOD_USER_AGENT"); userAgent != "" {
		c.Platform.UserAgent = userAgent
	}
	if dir := os.Getenv("KEMONOD_DOWNLOAD_DIR"); dir != "" {
		c.Download.Directory = dir
	}
	if level := os.Getenv("KEMONOD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if file := os.Getenv("KEMONOD_LOG_FILE"); file != "" {
		c.Logging.File = file
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".kemonod.yaml",
		".kemonod.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "kemonod", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "kemonod", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".kemonod.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Platform.BaseURL == "" {
		errs = append(errs, errors.New("platform base URL is required"))
	}
	if c.Platform.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Platform.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	if c.Download.Directory == "" {
		errs = append(errs, errors.New("download directory is required"))
	}
	if c.Download.MaxRetries < 1 {
		errs = append(errs, errors.New("max retries must be at least 1"))
	}
	if c.Download.PacingDelay < 0 {
		errs = append(errs, errors.New("pacing delay cannot be negative"))
	}

	if c.Naming.DateFormat == "" {
		errs = append(errs, errors.New("date format is required"))
	}
	if c.Naming.ArtistFolderFormat == "" {
		errs = append(errs, errors.New("artist folder format is required"))
	}
	if c.Naming.PostFolderFormat == "" {
		errs = append(errs, errors.New("post folder format is required"))
	}

	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if err := c.Scheduler.GlobalTimer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("global timer: %w", err))
	}
	if err := c.GlobalFilter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("global filter: %w", err))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if dir, ok := flags["download-dir"].(string); ok && dir != "" {
		c.Download.Directory = dir
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if baseURL, ok := flags["base-url"].(string); ok && baseURL != "" {
		c.Platform.BaseURL = baseURL
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".kemonod.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
