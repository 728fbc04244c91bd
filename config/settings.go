// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Storage and cache backend selection

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	Server   ServerConfig
	Link     LinkConfig
	Citation CitationConfig
	Prefetch PrefetchConfig
	Redis    RedisConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr    string
	BaseURL string // absolute URL prefix used when building local stream links
	DBPath  string
}

// LinkConfig holds download link issuance configuration.
type LinkConfig struct {
	SignedURLExpiry time.Duration
	SigningTimeout  time.Duration
	BatchLimit      int
	S3Bucket        string // default bucket when file metadata carries none
	AWSRegion       string
	DefaultStorage  string // deployment-wide storage fallback: "local" or "object-store"
}

// CitationConfig holds citation selection and retention configuration.
type CitationConfig struct {
	MaxResults    int
	RetentionDays int
}

// PrefetchConfig holds predictive prefetch configuration.
type PrefetchConfig struct {
	Enabled             bool
	MaxConcurrent       int
	ConfidenceThreshold float64
	CacheTTL            time.Duration
	CacheBackend        string // "memory" or "redis"
}

// RedisConfig holds Redis connection configuration for the prefetch cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// New creates settings from environment variables.
// Returns an error if any variable contains an invalid value.
func New() (Settings, error) {
	expiryMinutes, err := getEnvInt("SIGNED_URL_EXPIRY_MINUTES", 10)
	if err != nil {
		return Settings{}, err
	}
	signingTimeoutSec, err := getEnvInt("SIGNING_TIMEOUT_SECONDS", 5)
	if err != nil {
		return Settings{}, err
	}
	batchLimit, err := getEnvInt("SOURCE_URL_BATCH_LIMIT", 20)
	if err != nil {
		return Settings{}, err
	}
	maxCitations, err := getEnvInt("MAX_FILE_SEARCH_CITATIONS", 10)
	if err != nil {
		return Settings{}, err
	}
	retentionDays, err := getEnvInt("CITATION_RETENTION_DAYS", 30)
	if err != nil {
		return Settings{}, err
	}
	prefetchEnabled, err := getEnvBool("PREFETCH_ENABLED", true)
	if err != nil {
		return Settings{}, err
	}
	maxConcurrent, err := getEnvInt("MAX_CONCURRENT_PREFETCH", 3)
	if err != nil {
		return Settings{}, err
	}
	threshold, err := getEnvFloat64("PREFETCH_CONFIDENCE_THRESHOLD", 0.4)
	if err != nil {
		return Settings{}, err
	}
	cacheTTLMinutes, err := getEnvInt("PREFETCH_CACHE_TTL_MINUTES", 10)
	if err != nil {
		return Settings{}, err
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return Settings{}, err
	}

	cacheBackend := strings.ToLower(getEnvString("PREFETCH_CACHE_BACKEND", "memory"))
	if cacheBackend != "memory" && cacheBackend != "redis" {
		return Settings{}, fmt.Errorf("invalid PREFETCH_CACHE_BACKEND: %q (want memory or redis)", cacheBackend)
	}

	defaultStorage := strings.ToLower(getEnvString("DEFAULT_STORAGE_SOURCE", "local"))
	if defaultStorage != "local" && defaultStorage != "object-store" {
		return Settings{}, fmt.Errorf("invalid DEFAULT_STORAGE_SOURCE: %q (want local or object-store)", defaultStorage)
	}

	return Settings{
		Server: ServerConfig{
			Addr:    getEnvString("CHARON_ADDR", ":8080"),
			BaseURL: strings.TrimRight(getEnvString("BASE_URL", "http://localhost:8080"), "/"),
			DBPath:  getEnvString("CHARON_DB_PATH", "charon.db"),
		},
		Link: LinkConfig{
			SignedURLExpiry: time.Duration(expiryMinutes) * time.Minute,
			SigningTimeout:  time.Duration(signingTimeoutSec) * time.Second,
			BatchLimit:      batchLimit,
			S3Bucket:        getEnvString("S3_BUCKET", ""),
			AWSRegion:       getEnvString("AWS_REGION", "us-east-1"),
			DefaultStorage:  defaultStorage,
		},
		Citation: CitationConfig{
			MaxResults:    maxCitations,
			RetentionDays: retentionDays,
		},
		Prefetch: PrefetchConfig{
			Enabled:             prefetchEnabled,
			MaxConcurrent:       maxConcurrent,
			ConfidenceThreshold: threshold,
			CacheTTL:            time.Duration(cacheTTLMinutes) * time.Minute,
			CacheBackend:        cacheBackend,
		},
		Redis: RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
	}, nil
}

// MustNew creates settings from the environment.
// Panics on invalid values. Use this only when configuration errors
// should be fatal.
func MustNew() Settings {
	settings, err := New()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}
