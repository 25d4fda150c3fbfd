// Package config provides hierarchical configuration loading for the
// pipeline server. Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Pipeline Pipeline `yaml:"pipeline"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Server holds HTTP listener configuration.
type Server struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Pipeline holds the per-request processing limits and policies.
type Pipeline struct {
	RequestTimeout     time.Duration `yaml:"request_timeout" validate:"gte=0"` // 0 disables the timeout
	MaxBodyBytes       int64         `yaml:"max_body_bytes" validate:"gte=0"`
	MaxNestingDepth    int           `yaml:"max_nesting_depth" validate:"gte=0"`
	MaxMultipartMemory int64         `yaml:"max_multipart_memory" validate:"gte=0"`
	RequestID          bool          `yaml:"request_id"`
	ShortCircuit       ShortCircuit  `yaml:"short_circuit"`
	ProblemTypeBase    string        `yaml:"problem_type_base" validate:"omitempty,uri"`
}

// ShortCircuit selects which post phases see a short-circuited response.
type ShortCircuit struct {
	RunResponseHooks bool `yaml:"run_response_hooks"`
	RunErrorHooks    bool `yaml:"run_error_hooks"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format  string `yaml:"format" validate:"oneof=json console"`
	Service string `yaml:"service"`
}

// Metrics holds Prometheus exposition configuration.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr: ":8080",
		},
		Pipeline: Pipeline{
			RequestTimeout:     30 * time.Second,
			MaxBodyBytes:       10 << 20,
			MaxNestingDepth:    32,
			MaxMultipartMemory: 32 << 20,
			RequestID:          true,
			ShortCircuit: ShortCircuit{
				RunResponseHooks: true,
				RunErrorHooks:    false,
			},
		},
		Logging: Logging{
			Level:   "info",
			Format:  "json",
			Service: "pipeline",
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
