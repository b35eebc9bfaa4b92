package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Funding    FundingConfig
	Dashboard  DashboardConfig
	Statements StatementsConfig
	Integrity  IntegrityConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// FundingConfig controls the in-memory registry and its write-behind persistence.
type FundingConfig struct {
	DefaultCurrency    string
	PersistenceEnabled bool
	PersistWorkers     int
	PersistRetries     int
}

// DashboardConfig governs aggregate caching.
type DashboardConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// StatementsConfig configures ledger statement exports and their download links.
type StatementsConfig struct {
	Enabled         bool
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// IntegrityConfig schedules the ledger reconciliation sweep.
type IntegrityConfig struct {
	Enabled  bool
	Schedule string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Funding = FundingConfig{
		DefaultCurrency:    strings.ToUpper(v.GetString("FUNDING_DEFAULT_CURRENCY")),
		PersistenceEnabled: v.GetBool("FUNDING_PERSISTENCE_ENABLED"),
		PersistWorkers:     positiveOr(v.GetInt("FUNDING_PERSIST_WORKERS"), 2),
		PersistRetries:     positiveOr(v.GetInt("FUNDING_PERSIST_RETRIES"), 3),
	}

	cfg.Dashboard = DashboardConfig{
		CacheEnabled: v.GetBool("ENABLE_DASHBOARD_CACHE"),
		CacheTTL:     parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), time.Minute),
	}

	cfg.Statements = StatementsConfig{
		Enabled:         v.GetBool("ENABLE_STATEMENTS"),
		StorageDir:      v.GetString("STATEMENTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("STATEMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("STATEMENTS_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.Integrity = IntegrityConfig{
		Enabled:  v.GetBool("ENABLE_INTEGRITY_SWEEP"),
		Schedule: v.GetString("INTEGRITY_SCHEDULE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ruralfund")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("FUNDING_DEFAULT_CURRENCY", "USD")
	v.SetDefault("FUNDING_PERSISTENCE_ENABLED", true)
	v.SetDefault("FUNDING_PERSIST_WORKERS", 2)
	v.SetDefault("FUNDING_PERSIST_RETRIES", 3)

	v.SetDefault("ENABLE_DASHBOARD_CACHE", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "1m")

	v.SetDefault("ENABLE_STATEMENTS", true)
	v.SetDefault("STATEMENTS_STORAGE_DIR", "./statements")
	v.SetDefault("STATEMENTS_SIGNED_URL_SECRET", "dev_statements_secret")
	v.SetDefault("STATEMENTS_SIGNED_URL_TTL", "30m")

	v.SetDefault("ENABLE_INTEGRITY_SWEEP", true)
	v.SetDefault("INTEGRITY_SCHEDULE", "@every 15m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// isMissingFile covers SetConfigFile, which reports a missing .env as a path
// error rather than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
