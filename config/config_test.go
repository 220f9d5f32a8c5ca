package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, "gateway.yaml", cfg.Gateway.Path)
				assert.True(t, cfg.Gateway.Watch)
				assert.Equal(t, 60*time.Second, cfg.Gateway.DefaultTimeout)
				assert.Equal(t, int64(10<<20), cfg.Gateway.MaxBodyBytes)
				assert.Equal(t, time.Hour, cfg.Auth.JWKSCacheTTL)
				assert.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
				assert.True(t, cfg.Usage.Enabled)
				assert.Equal(t, "usage.db", cfg.Usage.DatabasePath)
				assert.Equal(t, 720*time.Hour, cfg.Usage.Retention)
			},
		},
		{
			name: "production configuration",
			envVars: map[string]string{
				"ENVIRONMENT":    "production",
				"SERVER_PORT":    "9000",
				"GATEWAY_CONFIG": "/etc/infergate/gateway.yaml",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.False(t, cfg.IsDevelopment())
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, "/etc/infergate/gateway.yaml", cfg.Gateway.Path)
			},
		},
		{
			name: "custom timeouts",
			envVars: map[string]string{
				"SERVER_READ_TIMEOUT":     "60s",
				"GATEWAY_DEFAULT_TIMEOUT": "2m",
				"JWT_CLOCK_SKEW":          "10s",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 2*time.Minute, cfg.Gateway.DefaultTimeout)
				assert.Equal(t, 10*time.Second, cfg.Auth.ClockSkew)
			},
		},
		{
			name: "observability configuration",
			envVars: map[string]string{
				"LOG_LEVEL":                   "debug",
				"LOG_FORMAT":                  "text",
				"METRICS_ENABLED":             "true",
				"TRACING_ENABLED":             "true",
				"OTEL_EXPORTER_OTLP_ENDPOINT": "otel-collector:4318",
				"TRACING_SAMPLE_RATE":         "0.5",
				"OTEL_SERVICE_NAME":           "edge-gateway",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Observability.LogLevel)
				assert.Equal(t, "text", cfg.Observability.LogFormat)
				assert.True(t, cfg.Observability.MetricsEnabled)
				assert.True(t, cfg.Observability.TracingEnabled)
				assert.Equal(t, "otel-collector:4318", cfg.Observability.OTLPEndpoint)
				assert.Equal(t, 0.5, cfg.Observability.TracingSampleRate)
				assert.Equal(t, "edge-gateway", cfg.Observability.ServiceName)
			},
		},
		{
			name: "TLS configuration overrides",
			envVars: map[string]string{
				"ENVIRONMENT":   "development",
				"TLS_ENABLED":   "true",
				"TLS_CERT_FILE": "/etc/ssl/certs/server.crt",
				"TLS_KEY_FILE":  "/etc/ssl/private/server.key",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, "/etc/ssl/certs/server.crt", cfg.Server.TLS.CertFile)
				assert.Equal(t, "/etc/ssl/private/server.key", cfg.Server.TLS.KeyFile)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT default",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
				"PORT":        "9443",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "usage accounting disabled",
			envVars: map[string]string{
				"USAGE_ENABLED": "false",
				"USAGE_DB_PATH": "",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Usage.Enabled)
			},
		},
		{
			name: "tracing enabled without endpoint",
			envVars: map[string]string{
				"TRACING_ENABLED": "true",
			},
			wantErr: true,
		},
		{
			name: "sample rate out of range",
			envVars: map[string]string{
				"TRACING_SAMPLE_RATE": "1.5",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			// Create config
			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			Gateway: GatewayFileConfig{
				Path:           "gateway.yaml",
				DefaultTimeout: time.Minute,
				MaxBodyBytes:   1 << 20,
			},
			Auth: AuthConfig{
				JWKSCacheTTL: time.Hour,
				ClockSkew:    30 * time.Second,
			},
			Usage: UsageConfig{
				Enabled:      true,
				DatabasePath: "usage.db",
			},
			Observability: ObservabilityConfig{
				LogLevel: "info",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing gateway path",
			mutate:  func(c *Config) { c.Gateway.Path = "" },
			wantErr: true,
			errMsg:  "gateway config path is required",
		},
		{
			name:    "non-positive default timeout",
			mutate:  func(c *Config) { c.Gateway.DefaultTimeout = 0 },
			wantErr: true,
			errMsg:  "default timeout",
		},
		{
			name:    "usage enabled without db path",
			mutate:  func(c *Config) { c.Usage.DatabasePath = "" },
			wantErr: true,
			errMsg:  "usage database path",
		},
		{
			name:    "negative clock skew",
			mutate:  func(c *Config) { c.Auth.ClockSkew = -time.Second },
			wantErr: true,
			errMsg:  "clock skew",
		},
		{
			name:    "missing log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "" },
			wantErr: true,
			errMsg:  "log level is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"dev", "dev", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue int
		want         int
	}{
		{"valid int", "TEST_INT", "42", 10, 42},
		{"empty value", "TEST_INT", "", 10, 10},
		{"invalid int", "TEST_INT", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsInt(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", "TEST_BOOL", "true", false, true},
		{"false", "TEST_BOOL", "false", true, false},
		{"empty value", "TEST_BOOL", "", true, true},
		{"invalid bool", "TEST_BOOL", "not-a-bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsBool(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue time.Duration
		want         time.Duration
	}{
		{"valid duration", "TEST_DURATION", "30s", 10 * time.Second, 30 * time.Second},
		{"empty value", "TEST_DURATION", "", 10 * time.Second, 10 * time.Second},
		{"invalid duration", "TEST_DURATION", "not-a-duration", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsDuration(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}
