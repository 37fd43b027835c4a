package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	DBDriver string // "pgx" or "sqlite3"
	DBDSN    string

	JWTSecret string

	// Optional. Empty means the chat list is derived from SQL on every read
	// and sends are not rate limited.
	RedisAddr       string
	SendRateLimit   int64
	SendRateWindow  time.Duration
	KafkaBrokers    []string
	KafkaTopic      string
	PushTimeout     time.Duration
	UploadDir       string
	MaxUploadBytes  int64
	S3              S3Config
	LogLevel        string
	LogFormat       string
	OTELEndpoint    string
	OTELServiceName string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

func (c S3Config) Enabled() bool { return c.Endpoint != "" }

// Load reads the environment. DB_DSN and JWT_SECRET have no usable default.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:            getEnv("ADDR", ":8080"),
		DBDriver:        getEnv("DB_DRIVER", "pgx"),
		DBDSN:           os.Getenv("DB_DSN"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		SendRateLimit:   int64(getInt("SEND_RATE_LIMIT", 30)),
		SendRateWindow:  getDuration("SEND_RATE_WINDOW", 10*time.Second),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "messages.created"),
		PushTimeout:     getDuration("PUSH_TIMEOUT", 2*time.Second),
		UploadDir:       getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes:  int64(getInt("MAX_UPLOAD_BYTES", 25<<20)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		OTELEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELServiceName: getEnv("OTEL_SERVICE_NAME", "go-dm"),
		S3: S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    getEnv("S3_BUCKET", "dm-media"),
			UseSSL:    getEnv("S3_USE_SSL", "false") == "true",
			PublicURL: os.Getenv("S3_PUBLIC_URL"),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	if cfg.DBDriver != "pgx" && cfg.DBDriver != "sqlite3" {
		return nil, errors.New("DB_DRIVER must be pgx or sqlite3")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
