package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Gateway       GatewayFileConfig
	Auth          AuthConfig
	Usage         UsageConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// GatewayFileConfig holds the location and reload behavior of the
// gateway table file (routes, backends, policies)
type GatewayFileConfig struct {
	Path           string
	Watch          bool
	DefaultTimeout time.Duration
	MaxBodyBytes   int64
	ReloadDebounce time.Duration
}

// AuthConfig holds JWT validation configuration shared across issuers
type AuthConfig struct {
	JWKSCacheTTL time.Duration
	JWKSTimeout  time.Duration
	ClockSkew    time.Duration
}

// UsageConfig holds usage accounting configuration
type UsageConfig struct {
	Enabled      bool
	DatabasePath string
	BufferSize   int
	Retention    time.Duration // 0 keeps records forever
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string // json or text
	MetricsEnabled    bool
	TracingEnabled    bool
	OTLPEndpoint      string
	OTLPInsecure      bool
	TracingSampleRate float64
	ServiceName       string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 0), // streaming responses manage their own deadlines
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Gateway: GatewayFileConfig{
			Path:           getEnv("GATEWAY_CONFIG", "gateway.yaml"),
			Watch:          getEnvAsBool("GATEWAY_CONFIG_WATCH", true),
			DefaultTimeout: getEnvAsDuration("GATEWAY_DEFAULT_TIMEOUT", 60*time.Second),
			MaxBodyBytes:   getEnvAsInt64("GATEWAY_MAX_BODY_BYTES", 10<<20),
			ReloadDebounce: getEnvAsDuration("GATEWAY_RELOAD_DEBOUNCE", 250*time.Millisecond),
		},
		Auth: AuthConfig{
			JWKSCacheTTL: getEnvAsDuration("JWKS_CACHE_TTL", time.Hour),
			JWKSTimeout:  getEnvAsDuration("JWKS_FETCH_TIMEOUT", 10*time.Second),
			ClockSkew:    getEnvAsDuration("JWT_CLOCK_SKEW", 30*time.Second),
		},
		Usage: UsageConfig{
			Enabled:      getEnvAsBool("USAGE_ENABLED", true),
			DatabasePath: getEnv("USAGE_DB_PATH", "usage.db"),
			BufferSize:   getEnvAsInt("USAGE_BUFFER_SIZE", 1024),
			Retention:    getEnvAsDuration("USAGE_RETENTION", 720*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			MetricsEnabled:    getEnvAsBool("METRICS_ENABLED", true),
			TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
			OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure:      getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
			ServiceName:       getEnv("OTEL_SERVICE_NAME", "infergate"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Gateway.Path == "" {
		return fmt.Errorf("gateway config path is required: set GATEWAY_CONFIG")
	}
	if c.Gateway.DefaultTimeout <= 0 {
		return fmt.Errorf("gateway default timeout must be positive")
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		return fmt.Errorf("gateway max body bytes must be positive")
	}

	if c.Auth.JWKSCacheTTL <= 0 {
		return fmt.Errorf("JWKS cache TTL must be positive")
	}
	if c.Auth.ClockSkew < 0 {
		return fmt.Errorf("JWT clock skew must not be negative")
	}

	if c.Usage.Enabled && c.Usage.DatabasePath == "" {
		return fmt.Errorf("usage database path is required when usage accounting is enabled")
	}
	if c.Usage.Retention < 0 {
		return fmt.Errorf("usage retention must not be negative")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be in [0, 1]")
	}
	if c.Observability.TracingEnabled && c.Observability.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP endpoint is required when tracing is enabled")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
