// Package config provides environment-driven configuration management.
package config

import (
	"os"
	"time"
)

// Config holds all configuration for the service
type Config struct {
	Environment string
	Service     ServiceConfig
	Logging     LoggingConfig
	IDP         IDPConfig
	DB          DBConfig
	Storage     StorageConfig
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name           string
	Port           string
	Host           string
	Timeout        time.Duration
	AllowedOrigins string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// IDPConfig holds identity-provider configuration for token verification
type IDPConfig struct {
	Issuer   string
	JwksURL  string
	Audience string
}

// DBConfig holds database configuration
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// StorageConfig holds attachment blob storage configuration
type StorageConfig struct {
	RootDir string
}

// Load reads configuration from the environment with sensible defaults.
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Service: ServiceConfig{
			Name:           getEnv("SERVICE_NAME", "grant-engine"),
			Port:           getEnv("SERVICE_PORT", "8080"),
			Host:           getEnv("SERVICE_HOST", "0.0.0.0"),
			Timeout:        getDurationEnv("SERVICE_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		IDP: IDPConfig{
			Issuer:   getEnv("IDP_ISSUER", ""),
			JwksURL:  getEnv("IDP_JWKS_URL", ""),
			Audience: getEnv("IDP_AUDIENCE", ""),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Username: getEnv("DB_USERNAME", "postgres"),
			Password: getEnv("DB_PASSWORD", "password"),
			Database: getEnv("DB_NAME", "grant_engine"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Storage: StorageConfig{
			RootDir: getEnv("STORAGE_ROOT", "./data/attachments"),
		},
	}
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns a duration environment variable or a default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
