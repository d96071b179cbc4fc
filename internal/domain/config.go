package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Session     SessionConfig   `mapstructure:"session"`
	Inference   InferenceConfig `mapstructure:"inference"`
	Pipeline    PipelineConfig  `mapstructure:"pipeline"`
	Store       StoreConfig     `mapstructure:"store"`
	Archive     ArchiveConfig   `mapstructure:"archive"`
	Notify      NotifyConfig    `mapstructure:"notify"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SessionConfig represents session-scoped identity storage configuration
type SessionConfig struct {
	Backend     string        `mapstructure:"backend"` // "redis", "memory"
	RedisURL    string        `mapstructure:"redis_url"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxSessions int           `mapstructure:"max_sessions"`
	TokenSecret string        `mapstructure:"token_secret"`
	PoolSize    int           `mapstructure:"pool_size"`
}

// InferenceConfig represents the remote classification service configuration
type InferenceConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   int           `mapstructure:"rate_limit"`
	MaxRequests uint32        `mapstructure:"breaker_max_requests"`
	OpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

// PipelineConfig represents diagnostic pipeline configuration
type PipelineConfig struct {
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`
	DegradedFallback bool          `mapstructure:"degraded_fallback"`
	IdleTTL          time.Duration `mapstructure:"idle_ttl"`
	MaxInstances     int           `mapstructure:"max_instances"`
}

// StoreConfig selects the record store implementation
type StoreConfig struct {
	Mode       string        `mapstructure:"mode"` // "postgres", "sqlite", "remote"
	SQLitePath string        `mapstructure:"sqlite_path"`
	RemoteURL  string        `mapstructure:"remote_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig represents S3-compatible scan archive configuration
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// NotifyConfig represents patient notification configuration
type NotifyConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DatabaseURL  string        `mapstructure:"database_url"`
	SMTPHost     string        `mapstructure:"smtp_host"`
	SMTPPort     int           `mapstructure:"smtp_port"`
	SMTPUsername string        `mapstructure:"smtp_username"`
	SMTPPassword string        `mapstructure:"smtp_password"`
	From         string        `mapstructure:"from"`
	PortalURL    string        `mapstructure:"portal_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}
