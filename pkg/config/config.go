// Package config loads the server configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/strongbox-io/strongbox/pkg/store"
)

// Config represents the Strongbox server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (flat names like PORT, JWT_SECRET, DATABASE_HOST)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server holds the HTTP listener and frontend integration settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the metadata store (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Auth holds session and registration settings
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Storage holds the encrypted blob store settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// RateLimit configures the per-route request throttle
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Email holds the fallback SMTP transport used until admins configure
	// SMTP through the settings API
	Email EmailConfig `mapstructure:"email" yaml:"email"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig holds the HTTP listener and frontend integration settings.
type ServerConfig struct {
	// Port is the HTTP listen port
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// FrontendURL is the canonical origin of the web frontend. It is used
	// for share and invitation links and as a CORS origin.
	FrontendURL string `mapstructure:"frontend_url" yaml:"frontend_url,omitempty"`

	// CORSOrigins is the comma-separated list of extra allowed origins
	CORSOrigins string `mapstructure:"cors_origins" yaml:"cors_origins,omitempty"`

	// CookieDomain scopes the session cookie when set
	CookieDomain string `mapstructure:"cookie_domain" yaml:"cookie_domain,omitempty"`

	// TrustProxy enables reading the client IP from X-Forwarded-For
	TrustProxy bool `mapstructure:"trust_proxy" yaml:"trust_proxy"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// AuthConfig holds session and registration settings.
type AuthConfig struct {
	// JWTSecret signs session tokens. At least 32 characters.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32" yaml:"jwt_secret"`

	// SessionTTL is the session token lifetime
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"required,gt=0" yaml:"session_ttl"`

	// InviteTokenTTLHours is the invitation link lifetime in hours
	InviteTokenTTLHours int `mapstructure:"invite_token_ttl_hours" validate:"required,gt=0" yaml:"invite_token_ttl_hours"`

	// PublicRegistration allows self-service registration without an
	// invitation once the first owner account exists
	PublicRegistration bool `mapstructure:"public_registration" yaml:"public_registration"`
}

// StorageConfig holds the encrypted blob store settings.
type StorageConfig struct {
	// Path is the blob root directory
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// MasterKey is the base64-encoded 32-byte key-encryption key
	MasterKey string `mapstructure:"master_key" validate:"required" yaml:"master_key"`
}

// RateLimitConfig configures the per-route request throttle.
type RateLimitConfig struct {
	// TTL is the fixed window length
	TTL time.Duration `mapstructure:"ttl" validate:"required,gt=0" yaml:"ttl"`

	// Max is the default request cap per window for general API routes
	Max int `mapstructure:"max" validate:"required,gt=0" yaml:"max"`
}

// EmailConfig holds the environment-level SMTP transport. Admin-managed
// SMTP settings stored in the database take precedence when present.
type EmailConfig struct {
	// Enabled controls whether mail is sent at all
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	SMTPHost     string `mapstructure:"smtp_host" yaml:"smtp_host,omitempty"`
	SMTPPort     int    `mapstructure:"smtp_port" validate:"omitempty,min=1,max=65535" yaml:"smtp_port,omitempty"`
	SMTPUser     string `mapstructure:"smtp_user" yaml:"smtp_user,omitempty"`
	SMTPPassword string `mapstructure:"smtp_password" yaml:"smtp_password,omitempty"`
	SMTPFrom     string `mapstructure:"smtp_from" validate:"omitempty,email" yaml:"smtp_from,omitempty"`
	SMTPSecure   bool   `mapstructure:"smtp_secure" yaml:"smtp_secure"`
}

// envBindings maps config keys to the flat environment variable names the
// deployment uses.
var envBindings = map[string]string{
	"logging.level":            "LOG_LEVEL",
	"logging.format":           "LOG_FORMAT",
	"server.port":              "PORT",
	"server.frontend_url":      "FRONTEND_URL",
	"server.cors_origins":      "CORS_ORIGIN",
	"server.cookie_domain":     "COOKIE_DOMAIN",
	"server.trust_proxy":       "TRUST_PROXY",
	"database.type":            "DATABASE_TYPE",
	"database.sqlite.path":     "DATABASE_PATH",
	"database.postgres.host":   "DATABASE_HOST",
	"database.postgres.port":   "DATABASE_PORT",
	"database.postgres.user":   "DATABASE_USER",
	"database.postgres.password": "DATABASE_PASSWORD",
	"database.postgres.database": "DATABASE_NAME",
	"auth.jwt_secret":          "JWT_SECRET",
	"auth.invite_token_ttl_hours": "INVITE_TOKEN_TTL_HOURS",
	"auth.public_registration": "PUBLIC_REGISTRATION",
	"storage.path":             "FILE_STORAGE_PATH",
	"storage.master_key":       "FILE_ENCRYPTION_MASTER_KEY",
	"rate_limit.ttl":           "RATE_LIMIT_TTL",
	"rate_limit.max":           "RATE_LIMIT_MAX",
	"email.enabled":            "EMAIL_ENABLED",
	"email.smtp_host":          "SMTP_HOST",
	"email.smtp_port":          "SMTP_PORT",
	"email.smtp_user":          "SMTP_USER",
	"email.smtp_password":      "SMTP_PASSWORD",
	"email.smtp_from":          "SMTP_FROM",
	"email.smtp_secure":        "SMTP_SECURE",
}

// Load loads configuration from file, environment, and defaults.
// configPath may be empty, in which case only environment variables and
// defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the configuration to path in YAML form. The file is
// 0600 because it carries the JWT secret and master key.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("STRONGBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The deployment convention uses flat names without the prefix.
	for key, env := range envBindings {
		_ = v.BindEnv(key, "STRONGBOX_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// configDecodeHooks returns the decode hooks for custom config types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings and numbers to time.Duration.
// Strings parse as "30s"/"5m"/"1h"; bare numbers mean seconds, which is
// what the flat RATE_LIMIT_TTL env variable carries.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				return d, nil
			}
			var n float64
			if _, err := fmt.Sscanf(v, "%f", &n); err == nil {
				return time.Duration(n * float64(time.Second)), nil
			}
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}
