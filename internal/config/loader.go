package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "planweave.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PLANWEAVE_PORT")
	setString(&cfg.Server.CORSOrigin, "PLANWEAVE_CORS_ORIGIN")
	setString(&cfg.Platform.APIBase, "PLANWEAVE_API_BASE")
	setString(&cfg.Platform.APIKey, "PLANWEAVE_API_KEY")
	setString(&cfg.NATS.URL, "NATS_URL")
	setInt(&cfg.Engine.MaxLoopIterations, "PLANWEAVE_MAX_LOOP_ITERATIONS")
	setDuration(&cfg.Engine.CallTimeout, "PLANWEAVE_CALL_TIMEOUT")
	setInt(&cfg.Engine.MaxConcurrentRuns, "PLANWEAVE_MAX_CONCURRENT_RUNS")
	setString(&cfg.Signing.Secret, "PLANWEAVE_SIGNING_SECRET")
	setString(&cfg.Logging.Level, "PLANWEAVE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PLANWEAVE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "PLANWEAVE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PLANWEAVE_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "PLANWEAVE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.DiscoveryTTL, "PLANWEAVE_DISCOVERY_TTL")
	setBool(&cfg.MCP.Enabled, "PLANWEAVE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "PLANWEAVE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "PLANWEAVE_MCP_API_KEY")
	setString(&cfg.Otel.Endpoint, "PLANWEAVE_OTLP_ENDPOINT")
	setString(&cfg.Agent.Name, "PLANWEAVE_AGENT_NAME")
	setString(&cfg.Agent.Description, "PLANWEAVE_AGENT_DESCRIPTION")
	setString(&cfg.Agent.BaseURL, "PLANWEAVE_BASE_URL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Engine.MaxLoopIterations < 1 {
		return errors.New("engine.max_loop_iterations must be >= 1")
	}
	if cfg.Engine.MaxConcurrentRuns < 1 {
		return errors.New("engine.max_concurrent_runs must be >= 1")
	}
	if cfg.Engine.CallTimeout <= 0 {
		return errors.New("engine.call_timeout must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
