package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "INGEST_CONFIG"

const (
	DedupBackendFile     = "file"
	DedupBackendPostgres = "postgres"
)

type Config struct {
	InboxDir       string        `yaml:"inboxDir"`
	ProcessedDir   string        `yaml:"processedDir"`
	ErrorDir       string        `yaml:"errorDir"`
	DedupStorePath string        `yaml:"dedupStorePath"`
	DedupBackend   string        `yaml:"dedupBackend"`
	DatabaseURL    string        `yaml:"databaseUrl"`
	APIBaseURL     string        `yaml:"apiBaseUrl"`
	APIKey         string        `yaml:"apiKey"`
	APIIngestPath  string        `yaml:"apiIngestPath"`
	APITimeout     time.Duration `yaml:"apiTimeout"`
	SendDelay      time.Duration `yaml:"sendDelay"`
	MaxRetries     int           `yaml:"maxRetries"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay"`
	BatchSize      int           `yaml:"batchSize"`
	DryRun         bool          `yaml:"dryRun"`
	LogLevel       string        `yaml:"logLevel"`
	WatchInterval  time.Duration `yaml:"watchInterval"`
	StatusAddr     string        `yaml:"statusAddr"`
}

// New builds the configuration from defaults, an optional YAML file named by
// INGEST_CONFIG, and environment variables, in that order of precedence.
func New() (*Config, error) {
	cfg := &Config{
		InboxDir:       "data/inbox",
		ProcessedDir:   "data/processed",
		ErrorDir:       "data/error",
		DedupStorePath: "data/submitted_licitaciones.json",
		DedupBackend:   DedupBackendFile,
		APIIngestPath:  "/api/licitaciones",
		APITimeout:     30 * time.Second,
		SendDelay:      100 * time.Millisecond,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  10 * time.Second,
		BatchSize:      100,
		LogLevel:       "info",
		WatchInterval:  30 * time.Second,
		StatusAddr:     ":8080",
	}

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that would make a run impossible.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL environment variable is not set")
	}
	if c.InboxDir == "" || c.ProcessedDir == "" || c.ErrorDir == "" {
		return fmt.Errorf("inbox, processed and error directories must all be set")
	}
	switch c.DedupBackend {
	case DedupBackendFile:
		if c.DedupStorePath == "" {
			return fmt.Errorf("DEDUP_STORE_PATH must be set for the file dedup backend")
		}
	case DedupBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres dedup backend")
		}
	default:
		return fmt.Errorf("invalid value for DEDUP_BACKEND: expected %q or %q, got '%s'", DedupBackendFile, DedupBackendPostgres, c.DedupBackend)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	// Decoding over the defaults keeps every key the file leaves out.
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: cannot parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.InboxDir = getEnv("INBOX_DIR", c.InboxDir)
	c.ProcessedDir = getEnv("PROCESSED_DIR", c.ProcessedDir)
	c.ErrorDir = getEnv("ERROR_DIR", c.ErrorDir)
	c.DedupStorePath = getEnv("DEDUP_STORE_PATH", c.DedupStorePath)
	c.DedupBackend = strings.ToLower(getEnv("DEDUP_BACKEND", c.DedupBackend))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.APIBaseURL = strings.TrimRight(getEnv("API_BASE_URL", c.APIBaseURL), "/")
	c.APIKey = getEnv("API_KEY", c.APIKey)
	c.APIIngestPath = getEnv("API_INGEST_PATH", c.APIIngestPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.StatusAddr = getEnv("STATUS_ADDR", c.StatusAddr)

	var err error
	if c.APITimeout, err = getEnvAsDuration("API_TIMEOUT", c.APITimeout); err != nil {
		return err
	}
	if c.SendDelay, err = getEnvAsDuration("SEND_DELAY", c.SendDelay); err != nil {
		return err
	}
	if c.RetryBaseDelay, err = getEnvAsDuration("RETRY_BASE_DELAY", c.RetryBaseDelay); err != nil {
		return err
	}
	if c.RetryMaxDelay, err = getEnvAsDuration("RETRY_MAX_DELAY", c.RetryMaxDelay); err != nil {
		return err
	}
	if c.WatchInterval, err = getEnvAsDuration("WATCH_INTERVAL", c.WatchInterval); err != nil {
		return err
	}
	if c.MaxRetries, err = getEnvAsInt("MAX_RETRIES", c.MaxRetries); err != nil {
		return err
	}
	if c.BatchSize, err = getEnvAsInt("BATCH_SIZE", c.BatchSize); err != nil {
		return err
	}
	if c.DryRun, err = getEnvAsBool("DRY_RUN", c.DryRun); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}

// getEnvAsDuration accepts Go durations ("1500ms") or a bare number of milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected a duration, got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: expected a boolean, got '%s'", key, valueStr)
	}

	return value, nil
}
