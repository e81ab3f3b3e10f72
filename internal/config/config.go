// Package config loads the process configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/imagesource"
	"github.com/dvloznov/receipt-ledger/internal/inference"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Inference
	GeminiAPIKey         string        `koanf:"GEMINI_API_KEY"`
	GeminiModel          string        `koanf:"GEMINI_MODEL"`
	InferenceTimeout     time.Duration `koanf:"INFERENCE_TIMEOUT"`
	InferenceMaxAttempts int           `koanf:"INFERENCE_MAX_ATTEMPTS"`

	// Files
	PhotosDir                string `koanf:"PHOTOS_DIR"`
	CostFilesDir             string `koanf:"COST_FILES_DIR"`
	SupportedImageExtensions string `koanf:"SUPPORTED_IMAGE_EXTENSIONS"`
	MaxFileSizeMB            int    `koanf:"MAX_FILE_SIZE_MB"`

	// Server
	Port     int    `koanf:"PORT"`
	LogLevel string `koanf:"LOG_LEVEL"`
	Debug    bool   `koanf:"DEBUG"`

	// GCSBucket switches the image source to gs://<bucket>/photos/<week>/.
	GCSBucket string `koanf:"GCS_BUCKET"`

	// HistoryDBPath is the SQLite run history. Empty disables it.
	HistoryDBPath string `koanf:"HISTORY_DB_PATH"`

	// Events
	AMQPURL      string `koanf:"AMQP_URL"`
	AMQPExchange string `koanf:"AMQP_EXCHANGE"`
	AMQPQueue    string `koanf:"AMQP_QUEUE"`

	// BigQuery export
	BigQueryProject string `koanf:"BIGQUERY_PROJECT"`
	BigQueryDataset string `koanf:"BIGQUERY_DATASET"`
	BigQueryTable   string `koanf:"BIGQUERY_TABLE"`

	// Notion export
	NotionToken      string `koanf:"NOTION_TOKEN"`
	NotionDatabaseID string `koanf:"NOTION_DATABASE_ID"`
}

// Defaults returns the configuration used for every unset variable.
func Defaults() Config {
	return Config{
		GeminiModel:              inference.DefaultModelName,
		InferenceTimeout:         inference.DefaultTimeout,
		InferenceMaxAttempts:     inference.DefaultMaxAttempts,
		PhotosDir:                "photos",
		CostFilesDir:             "cost_files",
		SupportedImageExtensions: strings.Join(imagesource.DefaultExtensions, ","),
		MaxFileSizeMB:            int(imagesource.DefaultMaxFileSize >> 20),
		Port:                     8080,
		LogLevel:                 "info",
		HistoryDBPath:            "data/history.db",
		AMQPExchange:             "receipts",
		AMQPQueue:                "receipts.analyze",
		BigQueryDataset:          "receipts",
		BigQueryTable:            "ledger_rows",
	}
}

// Load reads the given .env files (default ".env"; missing files are ignored), then the
// environment, on top of Defaults. Variables already set in the environment win over .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	k := koanf.New(".")
	// Empty variables keep their default.
	provider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if strings.TrimSpace(value) == "" {
			return "", nil
		}
		return key, value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once as a *domain.StartupConfigError.
// requireInference is set by binaries that construct the inference client.
func (c *Config) Validate(requireInference bool) error {
	var problems []string

	if requireInference && strings.TrimSpace(c.GeminiAPIKey) == "" {
		problems = append(problems, "GEMINI_API_KEY is required")
	}
	if c.InferenceTimeout <= 0 {
		problems = append(problems, "INFERENCE_TIMEOUT must be positive")
	}
	if c.InferenceMaxAttempts < 1 {
		problems = append(problems, "INFERENCE_MAX_ATTEMPTS must be at least 1")
	}
	if c.GCSBucket == "" && strings.TrimSpace(c.PhotosDir) == "" {
		problems = append(problems, "PHOTOS_DIR is required when GCS_BUCKET is not set")
	}
	if strings.TrimSpace(c.CostFilesDir) == "" {
		problems = append(problems, "COST_FILES_DIR is required")
	}
	if len(c.Extensions()) == 0 {
		problems = append(problems, "SUPPORTED_IMAGE_EXTENSIONS must list at least one extension")
	}
	if c.MaxFileSizeMB <= 0 {
		problems = append(problems, "MAX_FILE_SIZE_MB must be positive")
	}
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d is out of range", c.Port))
	}
	if c.AMQPURL != "" && (c.AMQPExchange == "" || c.AMQPQueue == "") {
		problems = append(problems, "AMQP_EXCHANGE and AMQP_QUEUE are required when AMQP_URL is set")
	}

	if len(problems) > 0 {
		return &domain.StartupConfigError{Problems: problems}
	}
	return nil
}

// Extensions returns the normalized image extensions: lower case with a leading dot.
func (c *Config) Extensions() []string {
	var exts []string
	for _, e := range strings.Split(c.SupportedImageExtensions, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return exts
}

// ImageFilter is the image source filter for this configuration.
func (c *Config) ImageFilter() imagesource.Filter {
	return imagesource.Filter{
		Extensions: c.Extensions(),
		MaxSize:    int64(c.MaxFileSizeMB) << 20,
	}
}

// InferenceConfig is the inference client configuration.
func (c *Config) InferenceConfig() inference.Config {
	return inference.Config{
		APIKey:      c.GeminiAPIKey,
		Model:       c.GeminiModel,
		Timeout:     c.InferenceTimeout,
		MaxAttempts: uint(c.InferenceMaxAttempts),
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// EffectiveLogLevel is LOG_LEVEL, or debug when DEBUG is set.
func (c *Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

func (c *Config) HistoryEnabled() bool  { return c.HistoryDBPath != "" }
func (c *Config) EventsEnabled() bool   { return c.AMQPURL != "" }
func (c *Config) BigQueryEnabled() bool { return c.BigQueryProject != "" }
func (c *Config) NotionEnabled() bool   { return c.NotionToken != "" && c.NotionDatabaseID != "" }
