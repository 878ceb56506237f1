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

const (
	StorageDriverLocal = "local"
	StorageDriverGCS   = "gcs"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Bootstrap  BootstrapConfig
	CORS       CORSConfig
	Log        LogConfig
	Storage    StorageConfig
	Recordings RecordingsConfig
	Flags      FlagsConfig
	Dashboard  DashboardConfig
	AudioJobs  AudioJobsConfig
	TTS        TTSConfig
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
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// BootstrapConfig seeds the first admin account when both fields are set.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the blob backend for TTS audio and student recordings.
type StorageConfig struct {
	Driver          string
	LocalDir        string
	GCSBucket       string
	GCSCredentials  string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// RecordingsConfig controls upload validation.
type RecordingsConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// FlagsConfig holds the thresholds of the flag engine and its schedule.
type FlagsConfig struct {
	SubmissionWindow int
	MinAssignments   int
	SubmissionRatio  float64
	GapDays          int
	TrendWindow      int
	DeclineDelta     float64
	ScanInterval     time.Duration
	ScanConcurrency  int
	Retention        time.Duration
	CleanupInterval  time.Duration
}

// DashboardConfig governs dashboard cache tuning.
type DashboardConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// AudioJobsConfig sizes the bulk audio generation worker pool.
type AudioJobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// TTSConfig points at the speech synthesis endpoint.
type TTSConfig struct {
	Endpoint string
	APIKey   string
	Language string
	Timeout  time.Duration
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.Bootstrap = BootstrapConfig{
		AdminEmail:    v.GetString("BOOTSTRAP_ADMIN_EMAIL"),
		AdminPassword: v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
		AdminName:     v.GetString("BOOTSTRAP_ADMIN_NAME"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		Driver:          strings.ToLower(v.GetString("STORAGE_DRIVER")),
		LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		GCSBucket:       v.GetString("STORAGE_GCS_BUCKET"),
		GCSCredentials:  v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
		SignedURLSecret: v.GetString("MEDIA_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("MEDIA_SIGNED_URL_TTL"), 30*time.Minute),
	}

	maxRecordingSize := v.GetInt64("RECORDINGS_MAX_FILE_SIZE")
	if maxRecordingSize <= 0 {
		maxRecordingSize = 50 * 1024 * 1024
	}
	cfg.Recordings = RecordingsConfig{
		MaxFileSizeBytes: maxRecordingSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("RECORDINGS_ALLOWED_MIME_TYPES")),
	}

	cfg.Flags = FlagsConfig{
		SubmissionWindow: v.GetInt("FLAG_SUBMISSION_WINDOW"),
		MinAssignments:   v.GetInt("FLAG_MIN_ASSIGNMENTS"),
		SubmissionRatio:  v.GetFloat64("FLAG_SUBMISSION_RATIO"),
		GapDays:          v.GetInt("FLAG_GAP_DAYS"),
		TrendWindow:      v.GetInt("FLAG_TREND_WINDOW"),
		DeclineDelta:     v.GetFloat64("FLAG_DECLINE_DELTA"),
		ScanInterval:     parseDuration(v.GetString("FLAG_SCAN_INTERVAL"), 6*time.Hour),
		ScanConcurrency:  v.GetInt("FLAG_SCAN_CONCURRENCY"),
		Retention:        parseDuration(v.GetString("FLAG_RETENTION"), 30*24*time.Hour),
		CleanupInterval:  parseDuration(v.GetString("FLAG_CLEANUP_INTERVAL"), 7*24*time.Hour),
	}

	cfg.Dashboard = DashboardConfig{
		CacheEnabled: v.GetBool("DASHBOARD_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.AudioJobs = AudioJobsConfig{
		Workers:    v.GetInt("AUDIO_JOB_WORKERS"),
		MaxRetries: v.GetInt("AUDIO_JOB_RETRIES"),
		RetryDelay: parseDuration(v.GetString("AUDIO_JOB_RETRY_DELAY"), 5*time.Second),
	}

	cfg.TTS = TTSConfig{
		Endpoint: v.GetString("TTS_ENDPOINT"),
		APIKey:   v.GetString("TTS_API_KEY"),
		Language: v.GetString("TTS_LANGUAGE"),
		Timeout:  parseDuration(v.GetString("TTS_TIMEOUT"), 30*time.Second),
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
	v.SetDefault("DB_NAME", "readaloud")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "readaloud-api")

	v.SetDefault("BOOTSTRAP_ADMIN_EMAIL", "")
	v.SetDefault("BOOTSTRAP_ADMIN_PASSWORD", "")
	v.SetDefault("BOOTSTRAP_ADMIN_NAME", "Administrator")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./media")
	v.SetDefault("STORAGE_GCS_BUCKET", "")
	v.SetDefault("MEDIA_SIGNED_URL_SECRET", "dev_media_secret")
	v.SetDefault("MEDIA_SIGNED_URL_TTL", "30m")

	v.SetDefault("RECORDINGS_MAX_FILE_SIZE", 50*1024*1024)
	v.SetDefault("RECORDINGS_ALLOWED_MIME_TYPES", "audio/webm,audio/ogg,audio/mpeg,audio/wav,audio/x-wav,audio/mp4,audio/flac")

	v.SetDefault("FLAG_SUBMISSION_WINDOW", 10)
	v.SetDefault("FLAG_MIN_ASSIGNMENTS", 2)
	v.SetDefault("FLAG_SUBMISSION_RATIO", 0.5)
	v.SetDefault("FLAG_GAP_DAYS", 7)
	v.SetDefault("FLAG_TREND_WINDOW", 3)
	v.SetDefault("FLAG_DECLINE_DELTA", 1.0)
	v.SetDefault("FLAG_SCAN_INTERVAL", "6h")
	v.SetDefault("FLAG_SCAN_CONCURRENCY", 4)
	v.SetDefault("FLAG_RETENTION", "720h")
	v.SetDefault("FLAG_CLEANUP_INTERVAL", "168h")

	v.SetDefault("DASHBOARD_CACHE_ENABLED", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("AUDIO_JOB_WORKERS", 2)
	v.SetDefault("AUDIO_JOB_RETRIES", 3)
	v.SetDefault("AUDIO_JOB_RETRY_DELAY", "5s")

	v.SetDefault("TTS_ENDPOINT", "https://translate.google.com/translate_tts")
	v.SetDefault("TTS_API_KEY", "")
	v.SetDefault("TTS_LANGUAGE", "en")
	v.SetDefault("TTS_TIMEOUT", "30s")
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
