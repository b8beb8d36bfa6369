package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"kartka/internal/logger"
	"kartka/internal/retry"
)

// DefaultPath is the configuration file read when --config is not given.
const DefaultPath = "kartka.yaml"

// Config is the whole kartka configuration.
type Config struct {
	Layout  LayoutConfig  `yaml:"layout"`
	Search  SearchConfig  `yaml:"search"`
	Store   StoreConfig   `yaml:"store"`
	OCR     OCRConfig     `yaml:"ocr"`
	Hydrate HydrateConfig `yaml:"hydrate"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LoggingConfig `yaml:"logging"`
}

// LayoutConfig locates local state.
type LayoutConfig struct {
	DataDir     string `yaml:"data_dir" validate:"required"`
	ScanDir     string `yaml:"scan_dir" validate:"required"`
	Credentials string `yaml:"credentials" validate:"required"` // Google service account or OAuth client JSON
}

// SearchConfig selects and addresses the search index.
type SearchConfig struct {
	Backend        string   `yaml:"backend" validate:"oneof=sonic elasticsearch"`
	CollectionName string   `yaml:"collection_name" validate:"required"`
	BucketName     string   `yaml:"bucket_name" validate:"required"`
	Host           string   `yaml:"host" validate:"required_if=Backend sonic"`
	Port           int      `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Password       string   `yaml:"password" validate:"required_if=Backend sonic"`
	Addresses      []string `yaml:"addresses" validate:"required_if=Backend elasticsearch"`
	Username       string   `yaml:"username"`
	IndexPrefix    string   `yaml:"index_prefix"`
	QueryLimit     int      `yaml:"query_limit" validate:"min=1"`
}

// StoreConfig addresses the Drive folder holding every document.
type StoreConfig struct {
	RootFolder        string  `yaml:"root_folder" validate:"required"`
	LinkHost          string  `yaml:"link_host" validate:"required,hostname"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
}

// OCRConfig selects the text extraction backend.
type OCRConfig struct {
	Backend       string   `yaml:"backend" validate:"oneof=vision documentai"`
	Workers       int      `yaml:"workers" validate:"min=1"`
	LanguageHints []string `yaml:"language_hints"`
	ProjectID     string   `yaml:"project_id" validate:"required_if=Backend documentai"`
	Location      string   `yaml:"location"`
	ProcessorID   string   `yaml:"processor_id" validate:"required_if=Backend documentai"`
}

// HydrateConfig tunes index rehydration from remote storage.
type HydrateConfig struct {
	DPI     float64 `yaml:"dpi" validate:"gt=0"`
	Workers int     `yaml:"workers" validate:"min=1"`
}

// RetryConfig bounds retries of remote calls.
type RetryConfig struct {
	Attempts int           `yaml:"attempts" validate:"min=1"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

// LoggingConfig mirrors logger.LogConfig.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format" validate:"omitempty,oneof=json console"`
	TimeFormat string `yaml:"time_format"`
	Output     string `yaml:"output"`
}

// ConfigurationError names the configuration entry that is missing or invalid.
type ConfigurationError struct {
	Section string
	Key     string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Key == "" && e.Section == "":
		return fmt.Sprintf("configuration error: %s", e.Reason)
	case e.Key == "":
		return fmt.Sprintf("configuration error in section %s: %s", e.Section, e.Reason)
	default:
		return fmt.Sprintf("configuration error: %s.%s %s", e.Section, e.Key, e.Reason)
	}
}

// DefaultConfig returns the configuration every file is layered on.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Layout: LayoutConfig{
			DataDir: filepath.Join(home, ".kartka"),
			ScanDir: filepath.Join(home, ".kartka", "scans"),
		},
		Search: SearchConfig{
			Backend:    "sonic",
			Host:       "localhost",
			Port:       1491,
			QueryLimit: 100,
		},
		Store: StoreConfig{
			RootFolder:        "kartka",
			LinkHost:          "drive.google.com",
			RequestsPerSecond: 5,
		},
		OCR: OCRConfig{
			Backend:  "vision",
			Workers:  4,
			Location: "us",
		},
		Hydrate: HydrateConfig{
			DPI:     100,
			Workers: 1,
		},
		Retry: RetryConfig{
			Attempts: 4,
			Initial:  500 * time.Millisecond,
			Max:      8 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			TimeFormat: time.RFC3339,
			Output:     "stderr",
		},
	}
}

// Load reads path over the defaults, applies KARTKA_* environment overrides and validates
// the result. Every failure is a *ConfigurationError.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.Layout.DataDir = expandHome(cfg.Layout.DataDir)
	cfg.Layout.ScanDir = expandHome(cfg.Layout.ScanDir)
	cfg.Layout.Credentials = expandHome(cfg.Layout.Credentials)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigurationError{Reason: err.Error()}
	}

	// Report the first problem; its namespace reads "Config.<section>.<key>".
	fe := verrs[0]
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	cerr := &ConfigurationError{Section: parts[0], Reason: describe(fe)}
	if len(parts) > 1 {
		cerr.Key = strings.Join(parts[1:], ".")
	}
	return cerr
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is missing"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("is invalid (%s), got %v", fe.Tag(), fe.Value())
	}
}

// RetryPolicy converts the retry section for the adapters.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts: c.Retry.Attempts,
		Initial:  c.Retry.Initial,
		Max:      c.Retry.Max,
	}
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		TimeFormat: c.Logging.TimeFormat,
		Output:     c.Logging.Output,
	}
}

// TokenPath is where a user OAuth token is cached.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Layout.DataDir, "token.json")
}

// JournalPath is the directory of the local ingestion journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Layout.DataDir, "journal")
}

// EnsureDirs creates the local directories kartka writes to.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Layout.DataDir, c.Layout.ScanDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
