package config

import "time"

// Config represents the complete warden configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Store       StoreConfig       `yaml:"store"`
	Registry    RegistryConfig    `yaml:"registry"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Gate        GateConfig        `yaml:"gate"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	API         APIConfig         `yaml:"api"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`
	DedupeWindow    time.Duration `yaml:"dedupe_window"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// StoreConfig defines where the SQLite database lives.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RegistryConfig points at an optional command schema file. When Path
// is empty the built-in command set is used.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig defines audit ledger signing settings.
type LedgerConfig struct {
	SigningSecret string `yaml:"signing_secret"`
	SignedBy      string `yaml:"signed_by"`
}

// GateConfig defines autonomy gate settings.
type GateConfig struct {
	AutoExecuteMaxSeverity string        `yaml:"auto_execute_max_severity"`
	TokenTTL               time.Duration `yaml:"token_ttl"`
}

// DispatchConfig defines delivery settings for outbound commands.
type DispatchConfig struct {
	MaxAttempts  int                       `yaml:"max_attempts"`
	BackoffBase  time.Duration             `yaml:"backoff_base"`
	TickInterval time.Duration             `yaml:"tick_interval"`
	Executors    map[string]ExecutorConfig `yaml:"executors"`
}

// ExecutorConfig defines the HTTP endpoint that executes one command type.
type ExecutorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// InterpreterConfig defines the natural-language analysis service.
type InterpreterConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string        `yaml:"listen"`
	Auth   APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "warden",
			LogLevel:        "info",
			DedupeWindow:    2 * time.Minute,
			ApprovalTimeout: 24 * time.Hour,
			SweepInterval:   time.Minute,
		},
		Store: StoreConfig{
			Path: "./data/warden.db",
		},
		Ledger: LedgerConfig{
			SignedBy: "warden",
		},
		Gate: GateConfig{
			AutoExecuteMaxSeverity: "low",
			TokenTTL:               15 * time.Minute,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
			TickInterval: time.Second,
			Executors:    make(map[string]ExecutorConfig),
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}
