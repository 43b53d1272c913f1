package config

import (
	"errors"
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

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	AI           AIConfig
	Quotas       QuotaConfig
	Explanations ExplanationConfig
	Uploads      UploadConfig
	PaperCache   PaperCacheConfig
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

type JWTConfig struct {
	Secret string
	// Expiration applies to parent/admin access tokens.
	Expiration time.Duration
	// ChildExpiration applies to OTP-issued child tokens.
	ChildExpiration time.Duration
	Issuer          string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AIConfig configures the external content-generation provider.
type AIConfig struct {
	APIKey             string
	Model              string
	BaseURL            string
	ChunkSize          int
	MaxAttempts        int
	QuestionTimeout    time.Duration
	ExplanationTimeout time.Duration
	Temperature        float64
}

// QuotaConfig governs child/topic quota resolution and ownership policy.
type QuotaConfig struct {
	DefaultChildLimit int
	DefaultTopicLimit int
	// EnforceOwnership gates owner filtering on child/paper lookups; the
	// legacy behaviour of disabling it is kept reachable by config.
	EnforceOwnership bool
	// ChildUpdateWindowEnabled turns on the seasonal edit window below.
	ChildUpdateWindowEnabled bool
	ChildUpdateWindowFrom    string // MM-DD
	ChildUpdateWindowTo      string // MM-DD
}

// ExplanationConfig tunes the background explanation workers.
type ExplanationConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
	CacheTTL          time.Duration
}

// UploadConfig controls source-material upload storage.
type UploadConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
}

// PaperCacheConfig tunes the Redis-backed paper list cache.
type PaperCacheConfig struct {
	Enabled  bool
	CacheTTL time.Duration
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
		if !errors.As(err, &notFound) {
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

	cfg.JWT = JWTConfig{
		Secret:          v.GetString("JWT_SECRET"),
		Expiration:      parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		ChildExpiration: parseDuration(v.GetString("JWT_CHILD_EXPIRATION"), time.Hour),
		Issuer:          v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.AI = AIConfig{
		APIKey:             v.GetString("AI_API_KEY"),
		Model:              v.GetString("AI_MODEL"),
		BaseURL:            v.GetString("AI_BASE_URL"),
		ChunkSize:          v.GetInt("AI_CHUNK_SIZE"),
		MaxAttempts:        v.GetInt("AI_MAX_ATTEMPTS"),
		QuestionTimeout:    parseDuration(v.GetString("AI_QUESTION_TIMEOUT"), 30*time.Second),
		ExplanationTimeout: parseDuration(v.GetString("AI_EXPLANATION_TIMEOUT"), 45*time.Second),
		Temperature:        v.GetFloat64("AI_TEMPERATURE"),
	}

	cfg.Quotas = QuotaConfig{
		DefaultChildLimit:        v.GetInt("QUOTA_DEFAULT_CHILD_LIMIT"),
		DefaultTopicLimit:        v.GetInt("QUOTA_DEFAULT_TOPIC_LIMIT"),
		EnforceOwnership:         v.GetBool("QUOTA_ENFORCE_OWNERSHIP"),
		ChildUpdateWindowEnabled: v.GetBool("CHILD_UPDATE_WINDOW_ENABLED"),
		ChildUpdateWindowFrom:    v.GetString("CHILD_UPDATE_WINDOW_FROM"),
		ChildUpdateWindowTo:      v.GetString("CHILD_UPDATE_WINDOW_TO"),
	}

	cfg.Explanations = ExplanationConfig{
		WorkerConcurrency: v.GetInt("EXPLANATION_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EXPLANATION_WORKER_RETRIES"),
		CacheTTL:          parseDuration(v.GetString("EXPLANATION_CACHE_TTL"), 10*time.Minute),
	}

	maxUploadSize := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxUploadSize <= 0 {
		maxUploadSize = 10 * 1024 * 1024
	}
	cfg.Uploads = UploadConfig{
		StorageDir:       v.GetString("UPLOADS_STORAGE_DIR"),
		MaxFileSizeBytes: maxUploadSize,
	}

	cfg.PaperCache = PaperCacheConfig{
		Enabled:  v.GetBool("ENABLE_PAPER_CACHE"),
		CacheTTL: parseDuration(v.GetString("PAPER_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "exowa")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_CHILD_EXPIRATION", "1h")
	v.SetDefault("JWT_ISSUER", "exowa-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AI_API_KEY", "")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_BASE_URL", "")
	v.SetDefault("AI_CHUNK_SIZE", 10)
	v.SetDefault("AI_MAX_ATTEMPTS", 3)
	v.SetDefault("AI_QUESTION_TIMEOUT", "30s")
	v.SetDefault("AI_EXPLANATION_TIMEOUT", "45s")
	v.SetDefault("AI_TEMPERATURE", 0.4)

	v.SetDefault("QUOTA_DEFAULT_CHILD_LIMIT", 1)
	v.SetDefault("QUOTA_DEFAULT_TOPIC_LIMIT", 1)
	v.SetDefault("QUOTA_ENFORCE_OWNERSHIP", true)
	v.SetDefault("CHILD_UPDATE_WINDOW_ENABLED", false)
	v.SetDefault("CHILD_UPDATE_WINDOW_FROM", "04-01")
	v.SetDefault("CHILD_UPDATE_WINDOW_TO", "05-30")

	v.SetDefault("EXPLANATION_WORKER_CONCURRENCY", 2)
	v.SetDefault("EXPLANATION_WORKER_RETRIES", 1)
	v.SetDefault("EXPLANATION_CACHE_TTL", "10m")

	v.SetDefault("UPLOADS_STORAGE_DIR", "./uploads")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 10*1024*1024)

	v.SetDefault("ENABLE_PAPER_CACHE", false)
	v.SetDefault("PAPER_CACHE_TTL", "5m")
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
