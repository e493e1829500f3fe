// Package config provides apprunner configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds apprunner configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL. Disabled hosts serve HTTP only.
	COMMSURL     string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName    string `envconfig:"SERVICE_NAME" default:"apprunner"`
	COMMSEnabled bool   `envconfig:"COMMS_ENABLED" default:"true"`

	// Subject overrides (empty = commsutil defaults)
	DispatchSubject        string `envconfig:"DISPATCH_SUBJECT"`
	DispatchedEventSubject string `envconfig:"DISPATCHED_EVENT_SUBJECT"`
	PerScriptEvents        bool   `envconfig:"DISPATCHED_EVENT_PER_SCRIPT" default:"false"`

	// Scripts
	RequestTimeout time.Duration `envconfig:"APPRUNNER_REQUEST_TIMEOUT" default:"25s"`
	ManifestFile   string        `envconfig:"APPRUNNER_MANIFEST_FILE"`
	TemplateGlob   string        `envconfig:"APPRUNNER_TEMPLATE_GLOB"`
	CaptureLimit   int           `envconfig:"APPRUNNER_CAPTURE_LIMIT" default:"1048576"`

	// Database (empty DatabaseURL = no db binding)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	DBMaxConns    int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP host (APPRUNNER_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"APPRUNNER_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - APPRUNNER_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.COMMSEnabled && c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required when COMMS_ENABLED is set", logPrefix)
	}
	if c.RunMigrations && c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required with RUN_MIGRATIONS", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
