package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/neuroscan-portal/internal/domain"
	"github.com/spf13/viper"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
	// overrides run after every other source and win over them
	overrides func(v *viper.Viper)
}

// NewManager creates a new configuration manager. An empty configFile
// searches the default locations.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{configFile: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/neuroscan/")
	}

	v.SetEnvPrefix("NEUROSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables still apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if m.overrides != nil {
		m.overrides(v)
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "90s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:4200"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "neuroscan")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.auto_migrate", true)

	// Session defaults
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.redis_url", "redis://localhost:6379/0")
	v.SetDefault("session.ttl", "8h")
	v.SetDefault("session.max_sessions", 10000)
	v.SetDefault("session.token_secret", "")
	v.SetDefault("session.pool_size", 10)

	// Inference defaults
	v.SetDefault("inference.base_url", "http://localhost:8000")
	v.SetDefault("inference.timeout", "60s")
	v.SetDefault("inference.rate_limit", 5)
	v.SetDefault("inference.breaker_max_requests", 3)
	v.SetDefault("inference.breaker_open_timeout", "30s")

	// Pipeline defaults
	v.SetDefault("pipeline.max_upload_bytes", 10*1024*1024)
	v.SetDefault("pipeline.degraded_fallback", true)
	v.SetDefault("pipeline.idle_ttl", "1h")
	v.SetDefault("pipeline.max_instances", 1000)

	// Store defaults
	v.SetDefault("store.mode", "postgres")
	v.SetDefault("store.sqlite_path", "./data/neuroscan.db")
	v.SetDefault("store.remote_url", "http://localhost:8080")
	v.SetDefault("store.timeout", "15s")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.bucket", "neuroscan-scans")

	// Notification defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.database_url", "")
	v.SetDefault("notify.smtp_host", "")
	v.SetDefault("notify.smtp_username", "")
	v.SetDefault("notify.smtp_password", "")
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.from", "no-reply@neuroscan.local")
	v.SetDefault("notify.portal_url", "http://localhost:4200/patient")
	v.SetDefault("notify.poll_interval", "30s")
	v.SetDefault("notify.batch_size", 20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.filename", "")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch strings.ToLower(config.Store.Mode) {
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	case "sqlite":
		if config.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store mode")
		}
	case "remote":
		if _, err := url.ParseRequestURI(config.Store.RemoteURL); err != nil {
			return fmt.Errorf("invalid remote store URL %q: %w", config.Store.RemoteURL, err)
		}
	default:
		return fmt.Errorf("invalid store mode: %s", config.Store.Mode)
	}

	switch strings.ToLower(config.Session.Backend) {
	case "redis":
		if config.Session.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for redis session backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid session backend: %s", config.Session.Backend)
	}
	if config.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if m.IsProduction() && len(config.Session.TokenSecret) < 32 {
		return fmt.Errorf("session token secret must be at least 32 bytes in production")
	}

	if _, err := url.ParseRequestURI(config.Inference.BaseURL); err != nil {
		return fmt.Errorf("invalid inference base URL %q: %w", config.Inference.BaseURL, err)
	}
	if config.Inference.RateLimit <= 0 {
		return fmt.Errorf("inference rate limit must be positive")
	}

	if config.Pipeline.MaxUploadBytes <= 0 {
		return fmt.Errorf("pipeline max upload size must be positive")
	}

	if config.Archive.Enabled && config.Archive.Bucket == "" {
		return fmt.Errorf("archive bucket is required when the archive is enabled")
	}

	if config.Notify.Enabled {
		if config.Notify.DatabaseURL == "" && strings.ToLower(config.Store.Mode) != "postgres" {
			return fmt.Errorf("notify database URL is required outside postgres store mode")
		}
		if config.Notify.SMTPHost == "" {
			return fmt.Errorf("SMTP host is required when notifications are enabled")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database connection as a URL, as expected by
// the migration runner and lib/pq
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: "sslmode=" + url.QueryEscape(db.SSLMode),
	}
	return u.String()
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
