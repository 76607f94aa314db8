package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/gcp"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the document capture services.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	ProjectID       string `yaml:"project_id"`
	VertexAIRegion  string `yaml:"vertex_ai_region"`
	ExtractionModel string `yaml:"extraction_model"`
	ChatModel       string `yaml:"chat_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`

	StagingBucket    string `yaml:"staging_bucket"`
	InlineLimitBytes int64  `yaml:"inline_limit_bytes"`
	ExportBucket     string `yaml:"export_bucket"`
	MaxUploadBytes   int64  `yaml:"max_upload_bytes"`

	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
	ChatRatePerSecond float64       `yaml:"chat_rate_per_second"`
	ChatBurst         int           `yaml:"chat_burst"`

	RetryMaxAttempts    int     `yaml:"retry_max_attempts"`
	BreakerEnabled      bool    `yaml:"breaker_enabled"`
	BreakerFailureRatio float64 `yaml:"breaker_failure_ratio"`

	FirestoreEnabled    bool   `yaml:"firestore_enabled"`
	FirestoreCollection string `yaml:"firestore_collection"`
	SQLitePath          string `yaml:"sqlite_path"`

	WorkflowID       string `yaml:"workflow_id"`
	WorkflowLocation string `yaml:"workflow_location"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:     "8080",
		LogLevel: "info",

		VertexAIRegion:  "us-central1",
		ExtractionModel: "gemini-2.5-flash",
		ChatModel:       "gemini-2.5-flash",
		MaxOutputTokens: 65536,

		InlineLimitBytes: 15 << 20,
		MaxUploadBytes:   32 << 20,

		ChatRatePerSecond: 2,
		ChatBurst:         4,

		RetryMaxAttempts:    1,
		BreakerEnabled:      true,
		BreakerFailureRatio: 0.5,

		FirestoreCollection: "uploads",
		WorkflowLocation:    "us-central1",
	}
}

// Load builds the configuration from CONFIG_FILE (when set) and then applies
// environment variables on top.
func Load() (Config, error) {
	cfg := Default()
	if path := gcp.GetEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	envString(&c.Port, "PORT")
	envString(&c.LogLevel, "LOG_LEVEL")
	envString(&c.ProjectID, "PROJECT_ID")
	envString(&c.VertexAIRegion, "VERTEX_AI_REGION")
	envString(&c.ExtractionModel, "EXTRACTION_MODEL")
	envString(&c.ChatModel, "CHAT_MODEL")
	envString(&c.StagingBucket, "STAGING_BUCKET")
	envString(&c.ExportBucket, "EXPORT_BUCKET")
	envString(&c.FirestoreCollection, "FIRESTORE_COLLECTION")
	envString(&c.SQLitePath, "SQLITE_PATH")
	envString(&c.WorkflowID, "WORKFLOW_ID")
	envString(&c.WorkflowLocation, "WORKFLOW_LOCATION")

	var errs []error
	errs = append(errs,
		envInt(&c.MaxOutputTokens, "MAX_OUTPUT_TOKENS"),
		envInt64(&c.InlineLimitBytes, "INLINE_LIMIT_BYTES"),
		envInt64(&c.MaxUploadBytes, "MAX_UPLOAD_BYTES"),
		envDuration(&c.ExtractionTimeout, "EXTRACTION_TIMEOUT"),
		envFloat(&c.ChatRatePerSecond, "CHAT_RATE_PER_SECOND"),
		envInt(&c.ChatBurst, "CHAT_BURST"),
		envInt(&c.RetryMaxAttempts, "RETRY_MAX_ATTEMPTS"),
		envBool(&c.BreakerEnabled, "BREAKER_ENABLED"),
		envFloat(&c.BreakerFailureRatio, "BREAKER_FAILURE_RATIO"),
		envBool(&c.FirestoreEnabled, "FIRESTORE_ENABLED"),
	)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks required combinations of settings.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if c.VertexAIRegion == "" {
		return fmt.Errorf("VERTEX_AI_REGION must not be empty")
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.InlineLimitBytes <= 0 {
		return fmt.Errorf("INLINE_LIMIT_BYTES must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.ChatRatePerSecond <= 0 || c.ChatBurst <= 0 {
		return fmt.Errorf("CHAT_RATE_PER_SECOND and CHAT_BURST must be > 0")
	}
	if c.FirestoreEnabled && c.FirestoreCollection == "" {
		return fmt.Errorf("FIRESTORE_COLLECTION must be set when FIRESTORE_ENABLED is true")
	}
	return nil
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
