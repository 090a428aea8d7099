// Package config provides configuration for the trace engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the trace engine configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`

	// Upstream collaborators
	TraceAPIURL     string `yaml:"trace_api_url"`
	StreamURL       string `yaml:"stream_url"`
	ArtifactBaseURL string `yaml:"artifact_base_url"`

	// Execution discovery
	WorkflowID string `yaml:"workflow_id"`
	ListLimit  int    `yaml:"list_limit"`

	// Cache and fetch policy
	CacheCapacity  int           `yaml:"cache_capacity"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelayBase time.Duration `yaml:"retry_delay_base"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:        8095,
		TraceAPIURL:     "http://localhost:8080/api",
		StreamURL:       "",
		ArtifactBaseURL: "http://localhost:8080/api",
		ListLimit:       20,
		CacheCapacity:   20,
		MaxRetries:      2,
		RetryDelayBase:  500 * time.Millisecond,
		RequestTimeout:  30 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads the optional YAML file named by TRACELENS_CONFIG and then
// applies environment variable overrides.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("TRACELENS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.TraceAPIURL = getEnv("TRACE_API_URL", c.TraceAPIURL)
	c.StreamURL = getEnv("TRACE_STREAM_URL", c.StreamURL)
	c.ArtifactBaseURL = getEnv("ARTIFACT_BASE_URL", c.ArtifactBaseURL)
	c.WorkflowID = getEnv("WORKFLOW_ID", c.WorkflowID)
	c.ListLimit = getEnvInt("EXECUTION_LIST_LIMIT", c.ListLimit)
	c.CacheCapacity = getEnvInt("TRACE_CACHE_CAPACITY", c.CacheCapacity)
	c.MaxRetries = getEnvInt("TRACE_MAX_RETRIES", c.MaxRetries)
	c.RetryDelayBase = getEnvDurationMs("TRACE_RETRY_DELAY_MS", c.RetryDelayBase)
	c.RequestTimeout = getEnvDurationMs("TRACE_REQUEST_TIMEOUT_MS", c.RequestTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogJSON = getEnvBool("LOG_JSON", c.LogJSON)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDurationMs(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
