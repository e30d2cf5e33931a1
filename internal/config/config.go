// Package config loads and validates the YAML configuration shared by the
// API server and the batch worker.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Worker     WorkerConfig     `yaml:"worker"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RateLimit is requests per second across all clients combined; the
	// limiter is a single server-wide bucket, not keyed by client.
	// RateBurst is the short-term burst allowance. Zero disables rate
	// limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type StorageConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything
	// in-process, useful for local runs.
	Path string `yaml:"path"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type ClassifierConfig struct {
	// Enabled turns the request-path classifier off entirely; every new
	// URL is then admitted as pending for the offline pipeline.
	Enabled bool `yaml:"enabled"`

	// Patterns are the regular expressions of the request-path tier.
	// An empty list disables pattern matching.
	Patterns []string `yaml:"patterns"`

	// LinearModelPath points at the logistic model artifact. Empty
	// disables the statistical tier.
	LinearModelPath string `yaml:"linear_model_path"`

	// Threshold is the malicious probability cutoff for the
	// statistical tier, in (0, 1].
	Threshold float64 `yaml:"threshold"`
}

type WorkerConfig struct {
	// DeepModelPath and TokenizerPath locate the offline model
	// artifacts. The worker refuses to start without them.
	DeepModelPath string `yaml:"deep_model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`

	BatchSize     int `yaml:"batch_size"`
	IntervalHours int `yaml:"interval_hours"`

	// ReclassifyCron schedules drift resampling; empty disables it.
	ReclassifyCron string  `yaml:"reclassify_cron"`
	SamplePercent  float64 `yaml:"sample_percent"`

	SoftTimeLimit time.Duration `yaml:"soft_time_limit"`
	HardTimeLimit time.Duration `yaml:"hard_time_limit"`

	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Default returns the configuration used when a field is absent from the
// file. Auth.Secret has no default on purpose.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit:    20,
			RateBurst:    40,
		},
		Storage: StorageConfig{
			Path: "shortguard.db",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Classifier: ClassifierConfig{
			Enabled:   true,
			Threshold: 0.5,
		},
		Worker: WorkerConfig{
			BatchSize:     100,
			IntervalHours: 6,
			SamplePercent: 1.0,
			SoftTimeLimit: 4 * time.Minute,
			HardTimeLimit: 5 * time.Minute,
			MaxRetries:    3,
			RetryDelay:    30 * time.Second,
		},
	}
}

// Load reads path into the defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1 when rate limiting is on")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Classifier.Threshold <= 0 || c.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier.threshold must be in (0, 1], got %v", c.Classifier.Threshold)
	}

	w := c.Worker
	if w.BatchSize < 1 || w.BatchSize > 1000 {
		return fmt.Errorf("worker.batch_size must be in [1, 1000], got %d", w.BatchSize)
	}
	if w.IntervalHours < 1 || w.IntervalHours > 168 {
		return fmt.Errorf("worker.interval_hours must be in [1, 168], got %d", w.IntervalHours)
	}
	if w.SamplePercent < 0.1 || w.SamplePercent > 100.0 {
		return fmt.Errorf("worker.sample_percent must be in [0.1, 100], got %v", w.SamplePercent)
	}
	if w.SoftTimeLimit < 30*time.Second {
		return fmt.Errorf("worker.soft_time_limit must be at least 30s, got %v", w.SoftTimeLimit)
	}
	if w.HardTimeLimit < w.SoftTimeLimit {
		return fmt.Errorf("worker.hard_time_limit (%v) must be at least soft_time_limit (%v)", w.HardTimeLimit, w.SoftTimeLimit)
	}
	if w.MaxRetries < 0 || w.MaxRetries > 10 {
		return fmt.Errorf("worker.max_retries must be in [0, 10], got %d", w.MaxRetries)
	}
	if w.MaxRetries > 0 && w.RetryDelay < time.Second {
		return fmt.Errorf("worker.retry_delay must be at least 1s, got %v", w.RetryDelay)
	}
	return nil
}
