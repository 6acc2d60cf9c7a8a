// Package config loads forged configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort string `yaml:"http_port"`
	DBPath   string `yaml:"db_path"`

	GitHub struct {
		Token     string `yaml:"token"`
		BaseURL   string `yaml:"base_url"`
		RateLimit int    `yaml:"rate_limit"`
	} `yaml:"github"`

	Webhook struct {
		Secret      string `yaml:"secret"`
		CallbackURL string `yaml:"callback_url"`
	} `yaml:"webhook"`

	Analyzer struct {
		URL string `yaml:"url"`
	} `yaml:"analyzer"`

	Executor struct {
		Shell          string   `yaml:"shell"`
		Args           []string `yaml:"args"`
		Constrained    bool     `yaml:"constrained"`
		RuntimeVersion string   `yaml:"runtime_version"`
		MaxConcurrent  int      `yaml:"max_concurrent"`
	} `yaml:"executor"`

	ConsulAddr string `yaml:"consul_addr"`
}

// Load reads the optional YAML file at path, then applies environment
// overrides and defaults. Validation failures are startup errors.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTPPort, "HTTP_PORT")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setString(&cfg.GitHub.BaseURL, "GITHUB_BASE_URL")
	setInt(&cfg.GitHub.RateLimit, "GITHUB_RATE_LIMIT")
	setString(&cfg.Webhook.Secret, "WEBHOOK_SECRET")
	setString(&cfg.Webhook.CallbackURL, "WEBHOOK_CALLBACK_URL")
	setString(&cfg.Analyzer.URL, "ANALYZER_URL")
	setString(&cfg.Executor.Shell, "EXECUTOR_SHELL")
	setInt(&cfg.Executor.MaxConcurrent, "EXECUTOR_MAX_CONCURRENT")
	setString(&cfg.ConsulAddr, "CONSUL_HTTP_ADDR")
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "/data/scriptforge.db"
	}
	if cfg.GitHub.RateLimit <= 0 {
		cfg.GitHub.RateLimit = 5000
	}
	if cfg.Executor.Shell == "" {
		cfg.Executor.Shell = "pwsh"
		cfg.Executor.Args = []string{"-NoProfile", "-NonInteractive", "-File"}
		cfg.Executor.Constrained = true
	}
	if cfg.Executor.MaxConcurrent <= 0 {
		cfg.Executor.MaxConcurrent = 8
	}
}

func (cfg *Config) validate() error {
	// An empty secret would make every inbound webhook verify; that is a
	// configuration failure, never a silent downgrade.
	if cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required (set webhook.secret or WEBHOOK_SECRET)")
	}
	return nil
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			*dst = n
		}
	}
}
