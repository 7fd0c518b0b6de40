// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the cascaded configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	cascadeerrors "github.com/tombee/cascade/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete cascaded configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	LLM    LLMConfig    `yaml:"llm"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	// Addr is the listen address.
	// Environment: CASCADE_ADDR
	// Default: :8080
	Addr string `yaml:"addr,omitempty"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Path is the SQLite database file path. Empty selects the
	// in-memory store; state is lost on restart.
	// Environment: CASCADE_DB_PATH
	Path string `yaml:"path,omitempty"`

	// WAL enables Write-Ahead Logging for concurrent reads.
	// Default: true
	WAL *bool `yaml:"wal,omitempty"`
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API endpoint.
	// Environment: CASCADE_LLM_BASE_URL
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey authenticates against the provider.
	// Environment: CASCADE_LLM_API_KEY, OPENAI_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// DefaultModel is used when a step requests "auto" and the
	// selection heuristics pick the judge tier.
	DefaultModel string `yaml:"default_model,omitempty"`

	// RequestTimeout bounds a single model call.
	// Default: 180s
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// MaxTokens caps completion length per call.
	// Default: 4000
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Temperature is the sampling temperature.
	Temperature float32 `yaml:"temperature,omitempty"`

	// RequestsPerMinute throttles outbound calls. Zero disables
	// throttling.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`

	// PricingFile optionally overrides built-in model pricing.
	PricingFile string `yaml:"pricing_file,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format sets the output format (json, text).
	Format string `yaml:"format,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	wal := true
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Store:  StoreConfig{WAL: &wal},
		LLM: LLMConfig{
			DefaultModel:      "kimi-k2p5",
			RequestTimeout:    180 * time.Second,
			MaxTokens:         4000,
			Temperature:       0.7,
			RequestsPerMinute: 30,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from path, merges it over the defaults,
// then applies environment overrides. A missing file is fine when path
// is empty; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &cascadeerrors.ConfigError{
				Key:    "config",
				Reason: fmt.Sprintf("cannot read %s", path),
				Cause:  err,
			}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &cascadeerrors.ConfigError{
				Key:    "config",
				Reason: fmt.Sprintf("cannot parse %s", path),
				Cause:  err,
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CASCADE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CASCADE_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CASCADE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CASCADE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CASCADE_LLM_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil {
			cfg.LLM.RequestsPerMinute = rpm
		}
	}
	if v := os.Getenv("CASCADE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Validate checks the configuration for values that would fail later
// in a harder to diagnose place.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &cascadeerrors.ConfigError{Key: "server.addr", Reason: "listen address must not be empty"}
	}
	if c.LLM.RequestTimeout < 0 {
		return &cascadeerrors.ConfigError{Key: "llm.request_timeout", Reason: "timeout must not be negative"}
	}
	if c.LLM.MaxTokens < 0 {
		return &cascadeerrors.ConfigError{Key: "llm.max_tokens", Reason: "max_tokens must not be negative"}
	}
	if c.LLM.RequestsPerMinute < 0 {
		return &cascadeerrors.ConfigError{Key: "llm.requests_per_minute", Reason: "rate limit must not be negative"}
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return &cascadeerrors.ConfigError{Key: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// WALEnabled resolves the WAL setting with its default.
func (c *StoreConfig) WALEnabled() bool {
	if c.WAL == nil {
		return true
	}
	return *c.WAL
}
