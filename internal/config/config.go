// Package config provides application configuration with multi-source
// priority: environment variables (prefix PARLEY_) override the config file
// (~/.parley/config.yaml), which overrides built-in defaults.
//
// Sensitive fields (API key, database password, HMAC secret) are masked in
// MarshalJSON; when adding new secrets, update MarshalJSON too.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults.
const (
	// DefaultModelName matches the model the service was built against.
	DefaultModelName = "gemini-2.0-flash-lite"

	// DefaultPersona is used when a message names no persona.
	DefaultPersona = "friendly"

	DefaultStreamTimeout = 60 * time.Second
	DefaultToolTimeout   = 10 * time.Second
)

// OtelConfig configures the OTLP trace exporter (serve mode only).
type OtelConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // host:port of the OTLP HTTP receiver
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
type Config struct {
	// Generation backend
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	ModelName    string `mapstructure:"model_name" json:"model_name"`

	// Turn handling
	DefaultPersona string        `mapstructure:"default_persona" json:"default_persona"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout" json:"stream_timeout"`
	ToolTimeout    time.Duration `mapstructure:"tool_timeout" json:"tool_timeout"`

	// Storage
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server (serve mode only)
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`

	// Security (serve mode only)
	HMACSecret  string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`

	// SecureCookies marks identity cookies Secure. Enable on any HTTPS
	// deployment, whether TLS terminates in-process or at a proxy.
	SecureCookies bool `mapstructure:"secure_cookies" json:"secure_cookies"`

	// Observability
	Otel OtelConfig `mapstructure:"otel" json:"otel"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug|info|warn|error
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load reads configuration from defaults, ~/.parley/config.yaml, and
// PARLEY_* environment variables, in increasing priority.
func Load() (*Config, error) {
	v := viper.New()

	// Every key gets a default, even if zero: AutomaticEnv only surfaces
	// variables for keys viper already knows about.
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("default_persona", DefaultPersona)
	v.SetDefault("stream_timeout", DefaultStreamTimeout)
	v.SetDefault("tool_timeout", DefaultToolTimeout)
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("postgres_host", "")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("hmac_secret", "")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("secure_cookies", false)
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "localhost:4318")
	v.SetDefault("otel.environment", "dev")
	v.SetDefault("otel.service_name", "parley")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".parley"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Missing file is fine: defaults + env carry the config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Fall back to the conventional GEMINI_API_KEY variable so the server
	// runs with the same environment the SDK tooling expects.
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}

	return &cfg, nil
}

// ConnString returns the postgres:// connection URL for the configured
// database.
func (c *Config) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// HasDatabase reports whether a database connection is configured at all.
// CLI one-shot mode runs without persistence when no database is set.
func (c *Config) HasDatabase() bool {
	return c.PostgresHost != ""
}

// MarshalJSON masks sensitive fields so configs can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.GeminiAPIKey != "" {
		masked.GeminiAPIKey = "***"
	}
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	if masked.HMACSecret != "" {
		masked.HMACSecret = "***"
	}
	return json.Marshal(masked)
}
