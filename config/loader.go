package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "pipeline.yaml"

var structValidator = validator.New()

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
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
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
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
	setString(&cfg.Server.Addr, "PIPELINE_ADDR")

	setDuration(&cfg.Pipeline.RequestTimeout, "PIPELINE_REQUEST_TIMEOUT")
	setInt64(&cfg.Pipeline.MaxBodyBytes, "PIPELINE_MAX_BODY_BYTES")
	setInt(&cfg.Pipeline.MaxNestingDepth, "PIPELINE_MAX_NESTING_DEPTH")
	setInt64(&cfg.Pipeline.MaxMultipartMemory, "PIPELINE_MAX_MULTIPART_MEMORY")
	setBool(&cfg.Pipeline.RequestID, "PIPELINE_REQUEST_ID")
	setBool(&cfg.Pipeline.ShortCircuit.RunResponseHooks, "PIPELINE_SHORT_CIRCUIT_RUN_RESPONSE_HOOKS")
	setBool(&cfg.Pipeline.ShortCircuit.RunErrorHooks, "PIPELINE_SHORT_CIRCUIT_RUN_ERROR_HOOKS")
	setString(&cfg.Pipeline.ProblemTypeBase, "PIPELINE_PROBLEM_TYPE_BASE")

	setString(&cfg.Logging.Level, "PIPELINE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "PIPELINE_LOG_FORMAT")
	setString(&cfg.Logging.Service, "PIPELINE_LOG_SERVICE")

	setBool(&cfg.Metrics.Enabled, "PIPELINE_METRICS_ENABLED")
	setString(&cfg.Metrics.Path, "PIPELINE_METRICS_PATH")
}

// validate checks the struct tags of every section.
func validate(cfg *Config) error {
	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		return errors.New("metrics.path is required when metrics are enabled")
	}
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
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
