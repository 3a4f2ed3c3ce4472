// Package config loads the daemon configuration from ~/.teletriage/config.toml
// with optional overrides from an env file and TELETRIAGE_* variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full daemon configuration.
type Config struct {
	DataDir    string `toml:"data_dir"`
	ListenAddr string `toml:"listen_addr"`

	// Bulk send pacing and caps.
	BulkSendDelaySeconds int `toml:"bulk_send_delay_seconds"`
	BulkSendMaxPerJob    int `toml:"bulk_send_max_per_job"`

	// Cache sync limits.
	MessageCacheLimit     int `toml:"message_cache_limit"`
	ParticipantFetchLimit int `toml:"participant_fetch_limit"`

	// Provider rate limiting.
	RateMinDelayMs    int `toml:"rate_min_delay_ms"`
	RateMaxFloodDelay int `toml:"rate_max_flood_delay_seconds"`

	// Report composition.
	ReportMaxAgeDays int    `toml:"report_max_age_days"`
	LLMAPIKey        string `toml:"llm_api_key"`
	LLMBaseURL       string `toml:"llm_base_url"`
	LLMModel         string `toml:"llm_model"`
}

// Default returns the configuration defaults applied before any file or env
// override.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:               filepath.Join(home, ".teletriage"),
		ListenAddr:            "127.0.0.1:8080",
		BulkSendDelaySeconds:  10,
		BulkSendMaxPerJob:     200,
		MessageCacheLimit:     50,
		ParticipantFetchLimit: 200,
		RateMinDelayMs:        500,
		RateMaxFloodDelay:     60,
		ReportMaxAgeDays:      90,
		LLMBaseURL:            "https://openrouter.ai/api/v1",
		LLMModel:              "anthropic/claude-3.5-sonnet",
	}
}

// DefaultPath returns the config file location under the default data dir.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".teletriage", "config.toml")
}

// Load reads config from path (missing file is not an error), overlays an
// optional env file next to it, then applies TELETRIAGE_* env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
		envFile := filepath.Join(filepath.Dir(path), "config.env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate returns the list of configuration problems, empty if none.
func (c *Config) Validate() []string {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.BulkSendDelaySeconds < 0 {
		problems = append(problems, "bulk_send_delay_seconds must be >= 0")
	}
	if c.BulkSendMaxPerJob <= 0 {
		problems = append(problems, "bulk_send_max_per_job must be > 0")
	}
	if c.MessageCacheLimit <= 0 {
		problems = append(problems, "message_cache_limit must be > 0")
	}
	return problems
}

// DBPath is the sqlite database file inside the data dir.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "teletriage.db") }

// LogPath is the daemon log file inside the data dir.
func (c *Config) LogPath() string { return filepath.Join(c.DataDir, "teletriage.log") }

// RateMinDelay is the inter-call pacing floor as a duration.
func (c *Config) RateMinDelay() time.Duration {
	return time.Duration(c.RateMinDelayMs) * time.Millisecond
}

// RateMaxDelay is the flood-wait cap as a duration.
func (c *Config) RateMaxDelay() time.Duration {
	return time.Duration(c.RateMaxFloodDelay) * time.Second
}

// BulkSendDelay is the pause between bulk-send items as a duration.
func (c *Config) BulkSendDelay() time.Duration {
	return time.Duration(c.BulkSendDelaySeconds) * time.Second
}

// LLMEnabled reports whether an LLM scoring key is configured.
func (c *Config) LLMEnabled() bool { return c.LLMAPIKey != "" }

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELETRIAGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TELETRIAGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	envInt("BULK_SEND_DELAY_SECONDS", &cfg.BulkSendDelaySeconds)
	envInt("BULK_SEND_MAX_PER_JOB", &cfg.BulkSendMaxPerJob)
	envInt("MESSAGE_CACHE_LIMIT", &cfg.MessageCacheLimit)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
