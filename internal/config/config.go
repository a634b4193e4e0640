// Package config provides environment configuration loading for the
// privacy request engine's services (API and worker).
//
// Configuration is loaded from environment variables with sensible
// defaults for development. Every backing service the engine depends on
// (PostgreSQL, NATS, Redis, Keycloak) is configured through this
// package, plus the engine's own tunables (retry, backoff, masking
// strictness).
//
// Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("failed to load configuration:", err)
//	}
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	// EnvDevelopment indicates a development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging indicates a staging environment.
	EnvStaging Environment = "staging"
	// EnvProduction indicates a production environment.
	EnvProduction Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	// Application settings
	App AppConfig

	// Database configuration
	Database DatabaseConfig

	// NATS messaging configuration
	NATS NATSConfig

	// Redis cache configuration
	Redis RedisConfig

	// Keycloak authentication configuration
	Keycloak KeycloakConfig

	// Engine tunables (retry, backoff, masking strictness)
	Engine EngineConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Server configuration
	Server ServerConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	// Environment is the application environment (development, staging, production).
	Environment Environment

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string

	// LogFormat is the log output format (json, text).
	LogFormat string
}

// DatabaseConfig holds PostgreSQL connection settings for this
// service's own store (privacy requests, execution log, policy, dataset
// config). Per-dataset connectors used by the engine to reach a
// customer's systems are configured separately, from dataset_config
// rows loaded at request time, not from this struct.
type DatabaseConfig struct {
	// URL is the full PostgreSQL connection string.
	URL string

	// Host is the database server hostname.
	Host string

	// Port is the database server port.
	Port int

	// User is the database username.
	User string

	// Password is the database password.
	Password string

	// Name is the database name.
	Name string

	// SSLMode is the SSL connection mode (disable, require, verify-ca, verify-full).
	SSLMode string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum connection idle time.
	ConnMaxIdleTime time.Duration
}

// NATSConfig holds NATS messaging settings.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// Host is the NATS server hostname.
	Host string

	// Port is the NATS client port.
	Port int

	// MaxReconnects is the maximum number of reconnection attempts.
	MaxReconnects int

	// ReconnectWait is the wait duration between reconnection attempts.
	ReconnectWait time.Duration

	// WorkerQueue is the queue group name workers join when consuming
	// privacyrequest.queued, so multiple worker processes split load.
	WorkerQueue string
}

// RedisConfig holds Redis settings, shared by the seed identity cache,
// the token validation cache, and the rate limit middleware.
type RedisConfig struct {
	// URL is the full Redis connection URL.
	URL string

	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis password (optional).
	Password string

	// Database is the Redis database number.
	Database int

	// MaxRetries is the maximum number of retries.
	MaxRetries int

	// PoolSize is the connection pool size.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// ReadTimeout is the read operation timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write operation timeout.
	WriteTimeout time.Duration

	// SeedTTL is how long a privacy request's seed identities stay
	// cached.
	SeedTTL time.Duration
}

// KeycloakConfig holds Keycloak authentication settings.
type KeycloakConfig struct {
	// URL is the Keycloak server base URL.
	URL string

	// Realm is the Keycloak realm name.
	Realm string

	// Timeout is the JWKS fetch timeout.
	Timeout time.Duration

	// CacheTTL is how long a validated token's claims stay cached.
	CacheTTL time.Duration
}

// EngineConfig holds the traversal engine's tunable parameters.
type EngineConfig struct {
	// TaskRetryCount is the number of retries after a connector call
	// fails, before the node is marked errored.
	TaskRetryCount int

	// TaskRetryDelay is the base delay before the first retry.
	TaskRetryDelay time.Duration

	// TaskRetryBackoff is the exponential backoff multiplier applied to
	// TaskRetryDelay for each subsequent retry.
	TaskRetryBackoff float64

	// MaskingStrict, when true, fails a row's masking instead of
	// skipping it when a data category has no matching masking
	// strategy in the policy.
	MaskingStrict bool

	// ConnectorTimeout bounds a single connector call (one retrieve or
	// one mask).
	ConnectorTimeout time.Duration

	// InputSpillThreshold is the number of distinct input values for a
	// single node field past which the engine spills the list to the
	// identity cache instead of only holding it in memory.
	InputSpillThreshold int
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	// MetricsPort is the Prometheus metrics HTTP port.
	MetricsPort int

	// MetricsEnabled enables Prometheus metrics.
	MetricsEnabled bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port is the server port.
	Port int

	// Host is the server host.
	Host string

	// ReadTimeout is the read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration

	// TraversalTimeout bounds the submit and dry-run endpoints, which
	// may run a full graph traversal synchronously.
	TraversalTimeout time.Duration

	// RequestsPerMinute is the rate limit applied per authenticated
	// caller (or per remote address, for unauthenticated callers).
	RequestsPerMinute int
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies sensible defaults for development and validates required fields.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.App = loadAppConfig()
	cfg.Database = loadDatabaseConfig()
	cfg.NATS = loadNATSConfig()
	cfg.Redis = loadRedisConfig()
	cfg.Keycloak = loadKeycloakConfig()
	cfg.Engine = loadEngineConfig()
	cfg.Observability = loadObservabilityConfig()
	cfg.Server = loadServerConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this for application startup where configuration is required.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" && c.Database.Host == "" {
		errs = append(errs, errors.New("database: either DATABASE_URL or POSTGRES_HOST must be set"))
	}

	if c.NATS.URL == "" && c.NATS.Host == "" {
		errs = append(errs, errors.New("nats: either NATS_URL or NATS_HOST must be set"))
	}

	if c.Engine.TaskRetryCount < 0 {
		errs = append(errs, errors.New("engine: task retry count cannot be negative"))
	}

	if c.Engine.TaskRetryBackoff < 1 {
		errs = append(errs, errors.New("engine: task retry backoff must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateForProduction performs stricter validation for production environments.
func (c *Config) ValidateForProduction() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errs []error

	if c.App.Environment != EnvProduction {
		errs = append(errs, errors.New("app: environment must be 'production' for production deployment"))
	}

	if c.Database.SSLMode == "disable" {
		errs = append(errs, errors.New("database: SSL must be enabled in production"))
	}

	if c.Redis.Password == "" {
		errs = append(errs, errors.New("redis: password must be set in production"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// DatabaseDSN returns the database connection string.
// If DATABASE_URL is set, it returns that. Otherwise, it constructs the DSN from components.
func (c *Config) DatabaseDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Database.User),
		url.QueryEscape(c.Database.Password),
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisDSN returns the Redis connection string.
func (c *Config) RedisDSN() string {
	if c.Redis.URL != "" {
		return c.Redis.URL
	}

	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			url.QueryEscape(c.Redis.Password),
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.Database,
		)
	}

	return fmt.Sprintf("redis://%s:%d/%d", c.Redis.Host, c.Redis.Port, c.Redis.Database)
}

// LogConfig logs the current configuration (with sensitive values masked).
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Group("app",
			slog.String("environment", string(c.App.Environment)),
			slog.String("log_level", c.App.LogLevel),
			slog.String("log_format", c.App.LogFormat),
		),
		slog.Group("database",
			slog.String("host", c.Database.Host),
			slog.Int("port", c.Database.Port),
			slog.String("name", c.Database.Name),
			slog.String("ssl_mode", c.Database.SSLMode),
			slog.Int("max_open_conns", c.Database.MaxOpenConns),
		),
		slog.Group("nats",
			slog.String("host", c.NATS.Host),
			slog.Int("port", c.NATS.Port),
			slog.String("worker_queue", c.NATS.WorkerQueue),
		),
		slog.Group("redis",
			slog.String("host", c.Redis.Host),
			slog.Int("port", c.Redis.Port),
			slog.Int("database", c.Redis.Database),
		),
		slog.Group("keycloak",
			slog.String("url", c.Keycloak.URL),
			slog.String("realm", c.Keycloak.Realm),
		),
		slog.Group("engine",
			slog.Int("task_retry_count", c.Engine.TaskRetryCount),
			slog.Duration("task_retry_delay", c.Engine.TaskRetryDelay),
			slog.Float64("task_retry_backoff", c.Engine.TaskRetryBackoff),
			slog.Bool("masking_strict", c.Engine.MaskingStrict),
		),
	)
}

// loadAppConfig loads application settings from environment variables.
func loadAppConfig() AppConfig {
	env := getEnv("APP_ENV", "development")

	return AppConfig{
		Environment: parseEnvironment(env),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
	}
}

// loadDatabaseConfig loads PostgreSQL settings from environment variables.
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("DATABASE_URL", ""),
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnvInt("POSTGRES_PORT", 5432),
		User:            getEnv("POSTGRES_USER", "privacygraph"),
		Password:        getEnv("POSTGRES_PASSWORD", "privacygraph_dev_password"),
		Name:            getEnv("POSTGRES_DB", "privacygraph"),
		SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", 1*time.Minute),
	}
}

// loadNATSConfig loads NATS settings from environment variables.
func loadNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           getEnv("NATS_URL", ""),
		Host:          getEnv("NATS_HOST", "localhost"),
		Port:          getEnvInt("NATS_PORT", 4222),
		MaxReconnects: getEnvInt("NATS_MAX_RECONNECTS", 10),
		ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		WorkerQueue:   getEnv("NATS_WORKER_QUEUE", "privacygraph-workers"),
	}
}

// loadRedisConfig loads Redis settings from environment variables.
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("REDIS_URL", ""),
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		Database:     getEnvInt("REDIS_DB", 0),
		MaxRetries:   getEnvInt("REDIS_MAX_RETRIES", 3),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		SeedTTL:      getEnvDuration("REDIS_SEED_TTL", 24*time.Hour),
	}
}

// loadKeycloakConfig loads Keycloak settings from environment variables.
func loadKeycloakConfig() KeycloakConfig {
	return KeycloakConfig{
		URL:      getEnv("KEYCLOAK_URL", "http://localhost:8180"),
		Realm:    getEnv("KEYCLOAK_REALM", "privacygraph"),
		Timeout:  getEnvDuration("KEYCLOAK_TIMEOUT", 10*time.Second),
		CacheTTL: getEnvDuration("KEYCLOAK_CACHE_TTL", 5*time.Minute),
	}
}

// loadEngineConfig loads engine tunables from environment variables.
func loadEngineConfig() EngineConfig {
	return EngineConfig{
		TaskRetryCount:      getEnvInt("ENGINE_TASK_RETRY_COUNT", 2),
		TaskRetryDelay:      getEnvDuration("ENGINE_TASK_RETRY_DELAY", time.Second),
		TaskRetryBackoff:    getEnvFloat("ENGINE_TASK_RETRY_BACKOFF", 2),
		MaskingStrict:       getEnvBool("ENGINE_MASKING_STRICT", false),
		ConnectorTimeout:    getEnvDuration("ENGINE_CONNECTOR_TIMEOUT", 30*time.Second),
		InputSpillThreshold: getEnvInt("ENGINE_INPUT_SPILL_THRESHOLD", 5000),
	}
}

// loadObservabilityConfig loads monitoring settings from environment variables.
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		MetricsPort:    getEnvInt("METRICS_PORT", 9100),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}
}

// loadServerConfig loads HTTP server settings from environment variables.
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:              getEnvInt("SERVER_PORT", 8080),
		Host:              getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		TraversalTimeout:  getEnvDuration("SERVER_TRAVERSAL_TIMEOUT", 45*time.Second),
		RequestsPerMinute: getEnvInt("SERVER_REQUESTS_PER_MINUTE", 60),
	}
}

// parseEnvironment converts a string to Environment type.
func parseEnvironment(env string) Environment {
	switch strings.ToLower(env) {
	case "production", "prod":
		return EnvProduction
	case "staging", "stage":
		return EnvStaging
	default:
		return EnvDevelopment
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a duration or returns a default value.
// Supports Go duration strings (e.g., "5m", "1h30m", "300s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
