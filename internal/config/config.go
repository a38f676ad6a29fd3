// Package config provides configuration management using viper.
// It supports loading from YAML files, a local .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Users      UsersConfig      `mapstructure:"users"`
	Bets       BetsConfig       `mapstructure:"bets"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Games      GamesConfig      `mapstructure:"games"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds Redis connection configuration.
// Redis backs the balance cache and, optionally, the bet draft store.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []string `mapstructure:"ids"`
}

// UsersConfig holds defaults applied to newly created accounts.
type UsersConfig struct {
	InitialCoins   int64 `mapstructure:"initial_coins"`
	InitialTickets int   `mapstructure:"initial_tickets"`
}

// BetsConfig holds bet draft configuration.
type BetsConfig struct {
	DraftTTL        time.Duration `mapstructure:"draft_ttl"`
	DraftStore      string        `mapstructure:"draft_store"`
	MaxBet          int64         `mapstructure:"max_bet"`
	OpTimeout       time.Duration `mapstructure:"op_timeout"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// SettlementConfig holds the retry policy for each settlement step.
type SettlementConfig struct {
	DebitAttempts  int           `mapstructure:"debit_attempts"`
	CreditAttempts int           `mapstructure:"credit_attempts"`
	RecordAttempts int           `mapstructure:"record_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// GamesConfig holds per-mode payout rules.
type GamesConfig struct {
	Classic    ModeConfig `mapstructure:"classic"`
	AllIn      ModeConfig `mapstructure:"all_in"`
	HighStakes ModeConfig `mapstructure:"high_stakes"`
}

// ModeConfig holds payout rules for one betting mode.
type ModeConfig struct {
	WinMultiplier       int   `mapstructure:"win_multiplier"`
	BlackjackMultiplier int   `mapstructure:"blackjack_multiplier"`
	RebatePercent       int   `mapstructure:"rebate_percent"`
	MaxBet              int64 `mapstructure:"max_bet"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Pretty      bool   `mapstructure:"pretty"`
	SampleEvery int    `mapstructure:"sample_every"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory. A .env file in the
// working directory is loaded into the process environment first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, BETS_DRAFT_TTL, GAMES_ALL_IN_REBATE_PERCENT.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
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

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "faceup")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "faceup")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("admin.ids", []string{})

	v.SetDefault("users.initial_coins", 5000)
	v.SetDefault("users.initial_tickets", 3)

	v.SetDefault("bets.draft_ttl", "2m")
	v.SetDefault("bets.draft_store", "postgres")
	v.SetDefault("bets.max_bet", 0)
	v.SetDefault("bets.op_timeout", "3s")
	v.SetDefault("bets.lock_timeout", "5s")
	v.SetDefault("bets.janitor_interval", "1m")

	v.SetDefault("settlement.debit_attempts", 3)
	v.SetDefault("settlement.credit_attempts", 5)
	v.SetDefault("settlement.record_attempts", 3)
	v.SetDefault("settlement.retry_base_delay", "100ms")
	v.SetDefault("settlement.retry_max_delay", "2s")

	v.SetDefault("games.classic.win_multiplier", 2)
	v.SetDefault("games.classic.blackjack_multiplier", 3)
	v.SetDefault("games.classic.rebate_percent", 0)
	v.SetDefault("games.classic.max_bet", 0)
	v.SetDefault("games.all_in.win_multiplier", 2)
	v.SetDefault("games.all_in.blackjack_multiplier", 3)
	v.SetDefault("games.all_in.rebate_percent", 10)
	v.SetDefault("games.all_in.max_bet", 0)
	v.SetDefault("games.high_stakes.win_multiplier", 3)
	v.SetDefault("games.high_stakes.blackjack_multiplier", 5)
	v.SetDefault("games.high_stakes.rebate_percent", 0)
	v.SetDefault("games.high_stakes.max_bet", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.sample_every", 0)
}

// Validate rejects configurations the settlement engine cannot run with.
func (c *Config) Validate() error {
	if c.Bets.DraftTTL <= 0 {
		return errors.New("bets.draft_ttl must be positive")
	}
	switch c.Bets.DraftStore {
	case "postgres", "memory":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("bets.draft_store=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unknown bets.draft_store %q", c.Bets.DraftStore)
	}
	if c.Settlement.DebitAttempts < 1 || c.Settlement.CreditAttempts < 1 || c.Settlement.RecordAttempts < 1 {
		return errors.New("settlement attempts must be at least 1")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID string) bool {
	return slices.Contains(c.Admin.IDs, userID)
}
