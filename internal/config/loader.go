package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/internal/schema"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, and validates configuration from a single
// YAML file. ${VAR} references are replaced from the environment
// before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} placeholders with environment values.
// Unset variables keep the placeholder so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// applyDefaults fills zero values that yaml.Unmarshal may have cleared
// when a section was present but a field omitted.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.DedupeWindow <= 0 {
		cfg.Service.DedupeWindow = def.Service.DedupeWindow
	}
	if cfg.Service.ApprovalTimeout <= 0 {
		cfg.Service.ApprovalTimeout = def.Service.ApprovalTimeout
	}
	if cfg.Service.SweepInterval <= 0 {
		cfg.Service.SweepInterval = def.Service.SweepInterval
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Ledger.SignedBy == "" {
		cfg.Ledger.SignedBy = def.Ledger.SignedBy
	}
	if cfg.Gate.AutoExecuteMaxSeverity == "" {
		cfg.Gate.AutoExecuteMaxSeverity = def.Gate.AutoExecuteMaxSeverity
	}
	if cfg.Gate.TokenTTL <= 0 {
		cfg.Gate.TokenTTL = def.Gate.TokenTTL
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = def.Dispatch.MaxAttempts
	}
	if cfg.Dispatch.BackoffBase <= 0 {
		cfg.Dispatch.BackoffBase = def.Dispatch.BackoffBase
	}
	if cfg.Dispatch.TickInterval <= 0 {
		cfg.Dispatch.TickInterval = def.Dispatch.TickInterval
	}
	if cfg.Dispatch.Executors == nil {
		cfg.Dispatch.Executors = make(map[string]ExecutorConfig)
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = def.API.Listen
	}
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	switch cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("service.log_level must be one of debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if cfg.Ledger.SigningSecret == "" {
		return fmt.Errorf("ledger.signing_secret is required")
	}
	if envVarPattern.MatchString(cfg.Ledger.SigningSecret) {
		return fmt.Errorf("ledger.signing_secret references an unset environment variable")
	}
	if _, err := schema.ParseSeverity(cfg.Gate.AutoExecuteMaxSeverity); err != nil {
		return fmt.Errorf("gate.auto_execute_max_severity: %w", err)
	}
	for commandType, exec := range cfg.Dispatch.Executors {
		if exec.Endpoint == "" {
			return fmt.Errorf("dispatch.executors.%s: endpoint is required", commandType)
		}
		if exec.Timeout < 0 {
			return fmt.Errorf("dispatch.executors.%s: timeout must not be negative", commandType)
		}
	}
	if cfg.Interpreter.Endpoint != "" && cfg.Interpreter.Timeout < 0 {
		return fmt.Errorf("interpreter.timeout must not be negative")
	}
	return nil
}

// ExecutorTimeout returns the configured timeout for a command type,
// falling back to a 30 second default.
func (c *DispatchConfig) ExecutorTimeout(commandType string) time.Duration {
	if exec, ok := c.Executors[commandType]; ok && exec.Timeout > 0 {
		return exec.Timeout
	}
	return 30 * time.Second
}
