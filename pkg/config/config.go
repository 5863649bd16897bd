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

// Source drivers.
const (
	SourcePostgres = "postgres"
	SourceSQLite   = "sqlite3"
)

type Config struct {
	Env  string
	Port int

	Database DatabaseConfig
	Source   SourceConfig
	Redis    RedisConfig
	Log      LogConfig
	Import   ImportConfig
	Server   ServerConfig
	Reports  ReportsConfig
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

// SourceConfig points at the student-records reporting source.
type SourceConfig struct {
	Driver       string `validate:"oneof=postgres sqlite3"`
	DSN          string `validate:"required"`
	MaxOpenConns int
	CacheEnabled bool
	CacheTTL     time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// ImportConfig tunes how source rows become local records.
type ImportConfig struct {
	Units                 []string `validate:"min=1,dive,required"`
	StartOffset           time.Duration
	Offset                time.Duration
	RelevanceCutoff       string `validate:"omitempty,len=4,numeric"`
	ApplicationOnlyCutoff string `validate:"omitempty,len=4,numeric"`
	SourceCutoff          string `validate:"omitempty,len=4,numeric"`
	StrictUnitCutoffs     map[string]string
	HorizonGraceSemesters int `validate:"gte=0"`
	Workers               int `validate:"gte=1"`
	Retries               int `validate:"gte=0"`
	RetryDelay            time.Duration
	EmplIDAliases         map[string]string
	DryRun                bool
	Verbosity             int `validate:"gte=0,lte=3"`
}

// ServerConfig configures `gradsync serve`.
type ServerConfig struct {
	SyncInterval time.Duration
	RunOnStart   bool
}

// ReportsConfig configures run report exports.
type ReportsConfig struct {
	Enabled         bool
	StorageDir      string
	Format          string `validate:"oneof=csv pdf"`
	Retention       time.Duration
	CleanupInterval time.Duration
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith reads configuration through v, so command line flags bound to v
// take precedence over the environment.
func LoadWith(v *viper.Viper) (*Config, error) {
	_ = godotenv.Load()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

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

	cfg.Source = SourceConfig{
		Driver:       v.GetString("SOURCE_DRIVER"),
		DSN:          v.GetString("SOURCE_DSN"),
		MaxOpenConns: v.GetInt("SOURCE_MAX_OPEN_CONNS"),
		CacheEnabled: v.GetBool("SOURCE_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("SOURCE_CACHE_TTL"), 15*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Import = ImportConfig{
		Units:                 splitAndTrim(v.GetString("IMPORT_UNITS")),
		StartOffset:           time.Duration(v.GetInt("IMPORT_START_OFFSET_DAYS")) * 24 * time.Hour,
		Offset:                time.Duration(v.GetInt("IMPORT_OFFSET_DAYS")) * 24 * time.Hour,
		RelevanceCutoff:       v.GetString("IMPORT_RELEVANCE_CUTOFF"),
		ApplicationOnlyCutoff: v.GetString("IMPORT_APPLICATION_ONLY_CUTOFF"),
		SourceCutoff:          v.GetString("IMPORT_SOURCE_CUTOFF"),
		StrictUnitCutoffs:     splitPairs(v.GetString("IMPORT_STRICT_UNIT_CUTOFFS")),
		HorizonGraceSemesters: v.GetInt("IMPORT_HORIZON_GRACE_SEMESTERS"),
		Workers:               v.GetInt("IMPORT_WORKERS"),
		Retries:               v.GetInt("IMPORT_RETRIES"),
		RetryDelay:            parseDuration(v.GetString("IMPORT_RETRY_DELAY"), time.Second),
		EmplIDAliases:         splitPairs(v.GetString("IMPORT_EMPLID_ALIASES")),
		DryRun:                v.GetBool("IMPORT_DRY_RUN"),
		Verbosity:             v.GetInt("IMPORT_VERBOSITY"),
	}

	cfg.Server = ServerConfig{
		SyncInterval: parseDuration(v.GetString("SYNC_INTERVAL"), 24*time.Hour),
		RunOnStart:   v.GetBool("SYNC_RUN_ON_START"),
	}

	cfg.Reports = ReportsConfig{
		Enabled:         v.GetBool("ENABLE_REPORTS"),
		StorageDir:      v.GetString("REPORTS_STORAGE_DIR"),
		Format:          strings.ToLower(v.GetString("REPORTS_FORMAT")),
		Retention:       parseDuration(v.GetString("REPORTS_RETENTION"), 30*24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "coursys")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("SOURCE_DRIVER", SourcePostgres)
	v.SetDefault("SOURCE_DSN", "host=localhost port=5432 user=reporting dbname=csrpt sslmode=disable")
	v.SetDefault("SOURCE_MAX_OPEN_CONNS", 4)
	v.SetDefault("SOURCE_CACHE_ENABLED", false)
	v.SetDefault("SOURCE_CACHE_TTL", "15m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("IMPORT_UNITS", "")
	v.SetDefault("IMPORT_START_OFFSET_DAYS", 90)
	v.SetDefault("IMPORT_OFFSET_DAYS", 30)
	v.SetDefault("IMPORT_RELEVANCE_CUTOFF", "")
	v.SetDefault("IMPORT_APPLICATION_ONLY_CUTOFF", "")
	v.SetDefault("IMPORT_SOURCE_CUTOFF", "")
	v.SetDefault("IMPORT_STRICT_UNIT_CUTOFFS", "")
	v.SetDefault("IMPORT_HORIZON_GRACE_SEMESTERS", 3)
	v.SetDefault("IMPORT_WORKERS", 1)
	v.SetDefault("IMPORT_RETRIES", 2)
	v.SetDefault("IMPORT_RETRY_DELAY", "1s")
	v.SetDefault("IMPORT_EMPLID_ALIASES", "")
	v.SetDefault("IMPORT_DRY_RUN", false)
	v.SetDefault("IMPORT_VERBOSITY", 1)

	v.SetDefault("SYNC_INTERVAL", "24h")
	v.SetDefault("SYNC_RUN_ON_START", false)

	v.SetDefault("ENABLE_REPORTS", false)
	v.SetDefault("REPORTS_STORAGE_DIR", "./reports")
	v.SetDefault("REPORTS_FORMAT", "csv")
	v.SetDefault("REPORTS_RETENTION", "720h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
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

// splitPairs parses "A=1,B=2" into a map.
func splitPairs(raw string) map[string]string {
	result := map[string]string{}
	for _, part := range splitAndTrim(raw) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key != "" && value != "" {
			result[key] = value
		}
	}
	return result
}
