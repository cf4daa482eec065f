// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Session     SessionConfig     `mapstructure:"session"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Games       GamesConfig       `mapstructure:"games"`
}

// ServerConfig holds HTTP and websocket settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	SendQueue       int           `mapstructure:"send_queue"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// PersistenceConfig holds snapshot writer settings.
type PersistenceConfig struct {
	Workers         int           `mapstructure:"workers"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed"`
}

// SessionConfig holds session manager settings.
type SessionConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// TelegramConfig holds the optional results announcer. An empty token disables it.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// GamesConfig holds per-variant tuning.
type GamesConfig struct {
	TrumpHearts TrumpHeartsConfig `mapstructure:"trump_hearts"`
	Spades      SpadesConfig      `mapstructure:"spades"`
	NoTrump     NoTrumpConfig     `mapstructure:"no_trump"`
}

// TrumpHeartsConfig holds 400 configuration. Thresholds belongs to the
// score-scaled variant and FixedThresholds to the fixed one.
type TrumpHeartsConfig struct {
	WinScore        int              `mapstructure:"win_score"`
	Thresholds      ThresholdsConfig `mapstructure:"thresholds"`
	FixedThresholds ThresholdsConfig `mapstructure:"fixed_thresholds"`
}

// ThresholdsConfig is a 400 bet multiplier table. Zero disables a multiplier.
type ThresholdsConfig struct {
	Double         int  `mapstructure:"double"`
	Triple         int  `mapstructure:"triple"`
	Quadruple      int  `mapstructure:"quadruple"`
	ScaleWithScore bool `mapstructure:"scale_with_score"`
}

// SpadesConfig holds Spades configuration.
type SpadesConfig struct {
	WinScore  int `mapstructure:"win_score"`
	LoseScore int `mapstructure:"lose_score"`
}

// NoTrumpConfig holds no-trump configuration.
type NoTrumpConfig struct {
	WinScore int `mapstructure:"win_score"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. SERVER_ADDR, DATABASE_HOST, TELEGRAM_TOKEN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.ping_interval", "30s")
	v.SetDefault("server.send_queue", 64)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tricks")
	v.SetDefault("database.name", "tricks")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("persistence.workers", 4)
	v.SetDefault("persistence.write_timeout", "5s")
	v.SetDefault("persistence.max_retry_elapsed", "1m")

	v.SetDefault("session.command_timeout", "5s")
	v.SetDefault("session.lock_timeout", "3s")
	v.SetDefault("session.queue_size", 32)

	v.SetDefault("games.trump_hearts.win_score", 41)
	v.SetDefault("games.trump_hearts.thresholds.double", 6)
	v.SetDefault("games.trump_hearts.thresholds.triple", 8)
	v.SetDefault("games.trump_hearts.thresholds.quadruple", 10)
	v.SetDefault("games.trump_hearts.thresholds.scale_with_score", true)
	v.SetDefault("games.trump_hearts.fixed_thresholds.double", 6)
	v.SetDefault("games.trump_hearts.fixed_thresholds.triple", 8)
	v.SetDefault("games.trump_hearts.fixed_thresholds.quadruple", 0)
	v.SetDefault("games.trump_hearts.fixed_thresholds.scale_with_score", false)
	v.SetDefault("games.spades.win_score", 500)
	v.SetDefault("games.spades.lose_score", -200)
	v.SetDefault("games.no_trump.win_score", 100)
}

// IsOriginAllowed checks if a browser origin may open a websocket or call the API.
func (c *ServerConfig) IsOriginAllowed(origin string) bool {
	// Empty allowlist means all origins are allowed
	if len(c.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// OriginPatterns converts the allowlist into websocket host patterns.
func (c *ServerConfig) OriginPatterns() []string {
	if len(c.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		patterns = append(patterns, strings.TrimSuffix(o, "/"))
	}
	return patterns
}

// Announcer reports whether the Telegram results announcer is configured.
func (c *TelegramConfig) Announcer() bool {
	return c.Token != "" && c.ChatID != 0
}
