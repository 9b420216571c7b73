// Package config provides hierarchical configuration loading for PlanWeave.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the PlanWeave engine.
type Config struct {
	Server   Server   `yaml:"server"`
	Platform Platform `yaml:"platform"`
	NATS     NATS     `yaml:"nats"`
	Engine   Engine   `yaml:"engine"`
	Signing  Signing  `yaml:"signing"`
	Logging  Logging  `yaml:"logging"`
	Breaker  Breaker  `yaml:"breaker"`
	Cache    Cache    `yaml:"cache"`
	MCP      MCP      `yaml:"mcp"`
	Otel     Otel     `yaml:"otel"`
	Agent    Agent    `yaml:"agent"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Platform holds hosted platform API configuration. Hosted agents
// execute their plans on the platform; APIKey authenticates outbound
// calls via the x-api-key header.
type Platform struct {
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the
// durable event sink; runs still stream to subscribers over HTTP/WS.
type NATS struct {
	URL string `yaml:"url"`
}

// Engine holds plan execution configuration.
type Engine struct {
	MaxLoopIterations int           `yaml:"max_loop_iterations"` // Guard rail for loops over resolved collections (default: 1000)
	CallTimeout       time.Duration `yaml:"call_timeout"`        // Per-call deadline for hosted and external backends; local calls are not bounded (default: 60s)
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"` // Concurrent plan runs admitted by the run pool (default: 8)
}

// Signing holds sub-plan signature configuration. Secret is the shared
// HMAC-SHA256 key; peers that delegate sub-plans here must hold the same key.
type Signing struct {
	Secret string `yaml:"secret"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Breaker holds circuit breaker configuration for remote backends.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the in-memory cache configuration backing agent
// configuration discovery.
type Cache struct {
	MaxSizeMB    int64         `yaml:"max_size_mb"`
	DiscoveryTTL time.Duration `yaml:"discovery_ttl"`
}

// MCP holds Model Context Protocol server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	APIKey  string `yaml:"api_key"`
}

// Otel holds OpenTelemetry trace export configuration. An empty
// endpoint disables tracing.
type Otel struct {
	Endpoint string `yaml:"endpoint"`
}

// Agent holds this instance's identity as published to peers via the
// agent card and /configuration.
type Agent struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	BaseURL     string `yaml:"base_url"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Platform: Platform{
			APIBase: "https://api.planweave.dev/api",
		},
		Engine: Engine{
			MaxLoopIterations: 1000,
			CallTimeout:       60 * time.Second,
			MaxConcurrentRuns: 8,
		},
		Logging: Logging{
			Level:   "info",
			Service: "planweave",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			MaxSizeMB:    64,
			DiscoveryTTL: 5 * time.Minute,
		},
		MCP: MCP{
			Addr: ":3001",
		},
		Agent: Agent{
			Name:        "planweave",
			Description: "Plan execution engine",
			BaseURL:     "http://localhost:8080",
		},
	}
}
