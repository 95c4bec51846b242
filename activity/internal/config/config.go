package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/telhawk-activity/common/database"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	RememberMeTTL  time.Duration `mapstructure:"remember_me_ttl"`
	// InternalToken guards the session registration endpoint used by the
	// authentication service.
	InternalToken string `mapstructure:"internal_token"`
	// SigningSecret signs activity events leaving the primary store.
	SigningSecret string `mapstructure:"signing_secret"`
}

type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Database     string        `mapstructure:"database"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	SSLMode      string        `mapstructure:"sslmode"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BulkTimeout  time.Duration `mapstructure:"bulk_timeout"`
}

// ConnString builds a libpq-style URL for pgx and golang-migrate. User and
// password are escaped.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	return u.String()
}

func (p PostgresConfig) Timeouts() database.Timeouts {
	return database.Timeouts{Query: p.QueryTimeout, Write: p.WriteTimeout, Bulk: p.BulkTimeout}.Resolved()
}

// RedactURL hides the password of a connection URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
}

type OpenSearchConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Insecure      bool          `mapstructure:"insecure"`
	Index         string        `mapstructure:"index"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TrackingConfig struct {
	ActivityRetentionDays    int           `mapstructure:"activity_retention_days"`
	SessionRetentionDays     int           `mapstructure:"session_retention_days"`
	SweepInterval            time.Duration `mapstructure:"sweep_interval"`
	MaxImpersonationDuration time.Duration `mapstructure:"max_impersonation_duration"`
	RecentlyActiveWindow     time.Duration `mapstructure:"recently_active_window"`
	AdminPathPrefix          string        `mapstructure:"admin_path_prefix"`
	AsyncCompletion          bool          `mapstructure:"async_completion"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/telhawk/activity")
	}

	v.SetEnvPrefix("ACTIVITY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("auth.jwt_secret", "change-this-in-production")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("auth.remember_me_ttl", "720h")
	v.SetDefault("auth.internal_token", "")
	v.SetDefault("auth.signing_secret", "")

	v.SetDefault("database.type", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "telhawk_activity")
	v.SetDefault("database.postgres.user", "telhawk")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.query_timeout", "5s")
	v.SetDefault("database.postgres.write_timeout", "10s")
	v.SetDefault("database.postgres.bulk_timeout", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index", "telhawk-activity")
	v.SetDefault("opensearch.flush_interval", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracking.activity_retention_days", 90)
	v.SetDefault("tracking.session_retention_days", 30)
	v.SetDefault("tracking.sweep_interval", "5m")
	v.SetDefault("tracking.max_impersonation_duration", "24h")
	v.SetDefault("tracking.recently_active_window", "24h")
	v.SetDefault("tracking.admin_path_prefix", "/admin")
	v.SetDefault("tracking.async_completion", false)
}

// Validate rejects settings that would make sweeps or token issuance unsafe.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory", "postgres":
	default:
		return fmt.Errorf("database.type must be memory or postgres, got %q", c.Database.Type)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.AccessTokenTTL <= 0 {
		return errors.New("auth.session_ttl and auth.access_token_ttl must be positive")
	}
	if c.Tracking.ActivityRetentionDays <= 0 || c.Tracking.SessionRetentionDays <= 0 {
		return errors.New("tracking retention days must be positive")
	}
	if c.Tracking.SweepInterval <= 0 {
		return errors.New("tracking.sweep_interval must be positive")
	}
	if c.Tracking.MaxImpersonationDuration <= 0 {
		return errors.New("tracking.max_impersonation_duration must be positive")
	}
	if c.Tracking.RecentlyActiveWindow <= 0 {
		return errors.New("tracking.recently_active_window must be positive")
	}
	return nil
}
