// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.kaiwa/config.yaml, or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: Tablestore endpoint, instance, credentials, table prefix
//   - Client: request timeout and client-side rate limit
//   - Logging: level and format for the process-wide logger
//   - Tracing: OTLP trace export (see observability.go)
//
// Security: the access-key secret and STS token are never logged; MarshalJSON
// and String mask them. The config directory is created with 0750 permissions.
//
// Error Handling: Validate returns sentinel errors checked with errors.Is(),
// wrapped with context via fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingEndpoint indicates the Tablestore endpoint is not set.
	ErrMissingEndpoint = errors.New("missing Tablestore endpoint")

	// ErrInvalidEndpoint indicates the Tablestore endpoint is not a valid URL.
	ErrInvalidEndpoint = errors.New("invalid Tablestore endpoint")

	// ErrMissingInstance indicates the Tablestore instance name is not set.
	ErrMissingInstance = errors.New("missing Tablestore instance")

	// ErrMissingCredentials indicates the access key pair is incomplete.
	ErrMissingCredentials = errors.New("missing Tablestore credentials")

	// ErrInvalidTablePrefix indicates the table prefix contains characters the
	// store rejects in table names.
	ErrInvalidTablePrefix = errors.New("invalid table prefix")

	// ErrInvalidLogLevel indicates the configured log level is unknown.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidTimeout indicates the request timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid request timeout")

	// ErrInvalidRateLimit indicates the client rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

const (
	// DefaultRequestTimeoutMS is the default per-request timeout for store
	// calls, in milliseconds.
	DefaultRequestTimeoutMS = 30_000

	// MaxTablePrefixLength bounds the prefix so prefixed table names stay
	// inside the store's 255-character table name limit.
	MaxTablePrefixLength = 64
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (secrets, tokens), update MarshalJSON.
type Config struct {
	// Tablestore connection
	OTSEndpoint        string `mapstructure:"ots_endpoint" json:"ots_endpoint"`
	OTSInstance        string `mapstructure:"ots_instance" json:"ots_instance"`
	OTSAccessKeyID     string `mapstructure:"ots_access_key_id" json:"ots_access_key_id"`
	OTSAccessKeySecret string `mapstructure:"ots_access_key_secret" json:"ots_access_key_secret"` // SENSITIVE: masked in MarshalJSON
	OTSSecurityToken   string `mapstructure:"ots_security_token" json:"ots_security_token"`       // SENSITIVE: masked in MarshalJSON

	// TablePrefix namespaces every table this process touches, so several
	// deployments can share one Tablestore instance.
	TablePrefix string `mapstructure:"table_prefix" json:"table_prefix"`

	// Client behavior
	RequestTimeoutMS int `mapstructure:"request_timeout_ms" json:"request_timeout_ms"`
	RateLimitQPS     int `mapstructure:"rate_limit_qps" json:"rate_limit_qps"` // 0 disables the client-side limiter

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability configuration (see observability.go)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.kaiwa/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".kaiwa")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults plus environment
		// variables are a complete configuration.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Storage defaults. Endpoint, instance and credentials have no sensible
	// defaults and must come from the config file or environment.
	viper.SetDefault("table_prefix", "")

	// Client defaults
	viper.SetDefault("request_timeout_ms", DefaultRequestTimeoutMS)
	viper.SetDefault("rate_limit_qps", 0)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.agent_host", DefaultTracingAgentHost)
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "kaiwa")
}

// bindEnvVariables binds environment variables explicitly. Credentials accept
// both the KAIWA_* names and the standard ALIBABA_CLOUD_* names that other
// Alibaba Cloud tooling already exports.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := viper.BindEnv(args...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVars, err))
		}
	}

	mustBind("ots_endpoint", "KAIWA_OTS_ENDPOINT")
	mustBind("ots_instance", "KAIWA_OTS_INSTANCE")
	mustBind("ots_access_key_id", "KAIWA_ACCESS_KEY_ID", "ALIBABA_CLOUD_ACCESS_KEY_ID")
	mustBind("ots_access_key_secret", "KAIWA_ACCESS_KEY_SECRET", "ALIBABA_CLOUD_ACCESS_KEY_SECRET")
	mustBind("ots_security_token", "KAIWA_SECURITY_TOKEN", "ALIBABA_CLOUD_SECURITY_TOKEN")
	mustBind("table_prefix", "KAIWA_TABLE_PREFIX")
	mustBind("log_level", "KAIWA_LOG_LEVEL")
	mustBind("tracing.enabled", "KAIWA_TRACING_ENABLED")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against the
// real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
//
// This defends against accidental logging of real secrets, nothing more. If
// logs are compromised, rotate the credentials.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - OTSAccessKeySecret
//   - OTSSecurityToken
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OTSAccessKeySecret = maskSecret(a.OTSAccessKeySecret)
	a.OTSSecurityToken = maskSecret(a.OTSSecurityToken)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
