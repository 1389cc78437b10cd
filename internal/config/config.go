// Package config provides centralized configuration management for the part
// registry. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Supported catalog backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	IDs      IDConfig
	Matching MatchingConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Admin    AdminConfig

	// PrefixMapFile is an optional YAML file mapping module names to prefixes.
	PrefixMapFile string `env:"PREFIX_MAP_FILE"`

	// PrefixMap is loaded from PrefixMapFile; keys are normalized module names.
	PrefixMap map[string]string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MaxBodyBytes caps JSON request bodies (default: 10MB)
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES" default:"10485760"`
}

// DatabaseConfig holds catalog backend settings.
type DatabaseConfig struct {
	// Driver selects the backend: postgres or sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string, required for postgres.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the database file for the sqlite driver (default: parts.db)
	SQLitePath string `env:"SQLITE_PATH" default:"parts.db"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IDConfig holds identifier reservation settings.
type IDConfig struct {
	// PadWidth is the zero-padded width of the numeric part (default: 6)
	PadWidth int `env:"ID_PAD_WIDTH" default:"6"`

	// StandardPrefix is the series standard parts are issued under (default: STD)
	StandardPrefix string `env:"ID_STANDARD_PREFIX" default:"STD"`

	// ReserveTimeout bounds a single reservation (default: 10s)
	ReserveTimeout time.Duration `env:"RESERVE_TIMEOUT" default:"10s"`
}

// MatchingConfig holds candidate retrieval and classification settings.
type MatchingConfig struct {
	// Threshold is the minimum similarity for a possible match (default: 0.80)
	Threshold float64 `env:"MATCH_THRESHOLD" default:"0.80"`

	// MaxSuggestions caps suggestions per possible match (default: 5)
	MaxSuggestions int `env:"MATCH_MAX_SUGGESTIONS" default:"5"`

	// CandidateLimit is the default candidate set size (default: 50)
	CandidateLimit int `env:"CANDIDATE_LIMIT" default:"50"`

	// CandidateMax is the hard ceiling on any candidate set (default: 200)
	CandidateMax int `env:"CANDIDATE_MAX" default:"200"`
}

// ImportConfig holds import session settings.
type ImportConfig struct {
	// MaxConcurrent is the maximum number of imports classified at once (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a classification slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// SessionTTL is how long an untouched import session is kept (default: 2h)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"2h"`

	// MaxRows caps the rows accepted in one import (default: 5000)
	MaxRows int `env:"IMPORT_MAX_ROWS" default:"5000"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// ImportLimit is requests per minute for import creation (default: 20)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// AdminConfig holds settings for destructive administrative operations.
type AdminConfig struct {
	// AllowReset enables the counter reset endpoint (default: false)
	AllowReset bool `env:"ADMIN_ALLOW_RESET" default:"false"`

	// ResetTimeout bounds a counter reset (default: 30s)
	ResetTimeout time.Duration `env:"ADMIN_RESET_TIMEOUT" default:"30s"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
