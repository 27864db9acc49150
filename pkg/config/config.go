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

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Sync     SyncConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SyncConfig tunes the ingestion pipeline.
type SyncConfig struct {
	HTTPTimeout       time.Duration
	RunTimeout        time.Duration
	TokenBuffer       time.Duration
	PageSize          int
	PageDelay         time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	ExportWindow      int
	MaxCellLength     int
	EnrichConcurrency int
	ResolveBatchSize  int
	ParamCeiling      int
	ParamReserved     int
	MaxBatchRows      int
	PropagateTimeout  time.Duration
	ReportGradeLevels []string
	Schedule          string
	ScheduleEnabled   bool
	FailedChunkDir    string
	StatusTTL         time.Duration
	QueueBufferSize   int
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Sync = SyncConfig{
		HTTPTimeout:       parseDuration(v.GetString("SYNC_HTTP_TIMEOUT"), 10*time.Minute),
		RunTimeout:        parseDuration(v.GetString("SYNC_RUN_TIMEOUT"), 2*time.Hour),
		TokenBuffer:       parseDuration(v.GetString("SYNC_TOKEN_BUFFER"), 300*time.Second),
		PageSize:          positiveInt(v.GetInt("SYNC_PAGE_SIZE"), 100),
		PageDelay:         parseDuration(v.GetString("SYNC_PAGE_DELAY"), 250*time.Millisecond),
		RetryAttempts:     positiveInt(v.GetInt("SYNC_RETRY_ATTEMPTS"), 3),
		RetryBackoff:      parseDuration(v.GetString("SYNC_RETRY_BACKOFF"), time.Second),
		ExportWindow:      positiveInt(v.GetInt("SYNC_EXPORT_WINDOW"), 5000),
		MaxCellLength:     positiveInt(v.GetInt("SYNC_MAX_CELL_LENGTH"), 4000),
		EnrichConcurrency: positiveInt(v.GetInt("SYNC_ENRICH_CONCURRENCY"), 20),
		ResolveBatchSize:  positiveInt(v.GetInt("SYNC_RESOLVE_BATCH"), 1000),
		ParamCeiling:      positiveInt(v.GetInt("SYNC_PARAM_CEILING"), 2100),
		ParamReserved:     v.GetInt("SYNC_PARAM_RESERVED"),
		MaxBatchRows:      positiveInt(v.GetInt("SYNC_MAX_BATCH_ROWS"), 1000),
		PropagateTimeout:  parseDuration(v.GetString("SYNC_PROPAGATE_TIMEOUT"), 10*time.Minute),
		ReportGradeLevels: splitAndTrim(v.GetString("SYNC_REPORT_GRADE_LEVELS")),
		Schedule:          v.GetString("SYNC_SCHEDULE"),
		ScheduleEnabled:   v.GetBool("SYNC_SCHEDULE_ENABLED"),
		FailedChunkDir:    v.GetString("SYNC_FAILED_CHUNK_DIR"),
		StatusTTL:         parseDuration(v.GetString("SYNC_STATUS_TTL"), 7*24*time.Hour),
		QueueBufferSize:   positiveInt(v.GetInt("SYNC_QUEUE_BUFFER"), 64),
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
	v.SetDefault("DB_NAME", "sis_sync")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SYNC_HTTP_TIMEOUT", "10m")
	v.SetDefault("SYNC_RUN_TIMEOUT", "2h")
	v.SetDefault("SYNC_TOKEN_BUFFER", "300s")
	v.SetDefault("SYNC_PAGE_SIZE", 100)
	v.SetDefault("SYNC_PAGE_DELAY", "250ms")
	v.SetDefault("SYNC_RETRY_ATTEMPTS", 3)
	v.SetDefault("SYNC_RETRY_BACKOFF", "1s")
	v.SetDefault("SYNC_EXPORT_WINDOW", 5000)
	v.SetDefault("SYNC_MAX_CELL_LENGTH", 4000)
	v.SetDefault("SYNC_ENRICH_CONCURRENCY", 20)
	v.SetDefault("SYNC_RESOLVE_BATCH", 1000)
	v.SetDefault("SYNC_PARAM_CEILING", 2100)
	v.SetDefault("SYNC_PARAM_RESERVED", 30)
	v.SetDefault("SYNC_MAX_BATCH_ROWS", 1000)
	v.SetDefault("SYNC_PROPAGATE_TIMEOUT", "10m")
	v.SetDefault("SYNC_REPORT_GRADE_LEVELS", "3,4,5,6,7,8")
	v.SetDefault("SYNC_SCHEDULE", "0 2 * * *")
	v.SetDefault("SYNC_SCHEDULE_ENABLED", false)
	v.SetDefault("SYNC_FAILED_CHUNK_DIR", "./failed_chunks")
	v.SetDefault("SYNC_STATUS_TTL", "168h")
	v.SetDefault("SYNC_QUEUE_BUFFER", 64)
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

func positiveInt(value, fallback int) int {
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
