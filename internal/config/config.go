package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageS3     = "s3"
	StoragePublic = "public"
	StorageMemory = "memory"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Session tokens
	JWTSecret  string
	JWTExpiry  time.Duration
	JWTIssuer  string
	BcryptCost int

	// Federated sign-in (Google Identity)
	GoogleClientID string
	GoogleJWKSURL  string

	// Object storage
	StorageDriver  string
	S3Region       string
	S3Bucket       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3KeyPrefix    string
	PublicBaseURL  string
	SignedURLTTL   time.Duration
	MaxUploadBytes int64

	// Server
	Port         string
	CORSOrigins  string
	RateLimitMax int

	// Redis (optional, shared limiter state)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogRetention time.Duration
	SentryDSN    string
	AppEnv       string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "medilens"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		JWTExpiry:  parseDuration(getEnv("JWT_EXPIRY", "24h"), 24*time.Hour),
		JWTIssuer:  getEnv("JWT_ISSUER", "medilens"),
		BcryptCost: parseInt(getEnv("BCRYPT_COST", "10"), 10),

		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleJWKSURL:  getEnv("GOOGLE_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", StorageS3)),
		S3Region:       getEnv("S3_REGION", "ap-south-1"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle: parseBool(getEnv("S3_USE_PATH_STYLE", "false")),
		S3KeyPrefix:    getEnv("S3_KEY_PREFIX", "scans"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		SignedURLTTL:   parseDuration(getEnv("SIGNED_URL_TTL", "5m"), 5*time.Minute),
		MaxUploadBytes: int64(parseInt(getEnv("MAX_UPLOAD_BYTES", "10485760"), 10<<20)),

		Port:         getEnv("PORT", "5000"),
		CORSOrigins:  getEnv("CORS_ORIGINS", "*"),
		RateLimitMax: parseInt(getEnv("RATE_LIMIT_MAX", "100"), 100),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       parseInt(getEnv("REDIS_DB", "0"), 0),

		LogRetention: parseDuration(getEnv("LOG_RETENTION", "720h"), 30*24*time.Hour),
		SentryDSN:    getEnv("SENTRY_DSN", ""),
		AppEnv:       getEnv("APP_ENV", "development"),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.DBPassword == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}
	switch c.StorageDriver {
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 storage driver"))
		}
	case StoragePublic:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the public storage driver"))
		}
		if c.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required for the public storage driver"))
		}
	case StorageMemory:
	default:
		errs = append(errs, errors.New("STORAGE_DRIVER must be one of s3, public, memory"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
