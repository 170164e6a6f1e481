package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied for values absent from file and environment.
const (
	DefaultPort                = 4000
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultSessionTTL          = 7 * 24 * time.Hour
	DefaultInviteTokenTTLHours = 72
	DefaultStoragePath         = "/data/files"
	DefaultRateLimitTTL        = time.Minute
	DefaultRateLimitMax        = 100
	DefaultSMTPPort            = 587
)

// GetDefaultConfig returns a configuration with all defaults applied.
// The JWT secret and master key have no defaults and must be provided.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero values with defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	cfg.Database.ApplyDefaults()

	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = DefaultSessionTTL
	}
	if cfg.Auth.InviteTokenTTLHours == 0 {
		cfg.Auth.InviteTokenTTLHours = DefaultInviteTokenTTLHours
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}

	if cfg.RateLimit.TTL == 0 {
		cfg.RateLimit.TTL = DefaultRateLimitTTL
	}
	if cfg.RateLimit.Max == 0 {
		cfg.RateLimit.Max = DefaultRateLimitMax
	}

	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = DefaultSMTPPort
	}
}

// Validate checks the configuration for structural and semantic errors.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(cfg.Storage.MasterKey)
	if err != nil {
		return fmt.Errorf("storage.master_key must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("storage.master_key must decode to 32 bytes, got %d", len(key))
	}

	if cfg.Email.Enabled && cfg.Email.SMTPHost == "" {
		return fmt.Errorf("email.smtp_host is required when email is enabled")
	}
	return nil
}

// InviteTokenTTL returns the invitation lifetime as a duration.
func (a AuthConfig) InviteTokenTTL() time.Duration {
	return time.Duration(a.InviteTokenTTLHours) * time.Hour
}

// AllowedOrigins returns the CORS allow-list: the frontend URL plus any
// origins from the comma-separated CORS_ORIGIN setting.
func (s ServerConfig) AllowedOrigins() []string {
	var origins []string
	seen := map[string]bool{}
	add := func(o string) {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/")
		if o != "" && !seen[o] {
			seen[o] = true
			origins = append(origins, o)
		}
	}
	add(s.FrontendURL)
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		add(o)
	}
	return origins
}
