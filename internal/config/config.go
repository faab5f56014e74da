package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config is loaded from the environment. An optional .env file in the
// working directory is read first; real environment variables win.
type Config struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string

	StoreDriver string
	PostgresDSN string
	SQLitePath  string

	RedisAddr          string
	RedisQueueKey      string
	RedisProcessingKey string
	RedisAlertChannel  string
	Workers            int

	UpstreamBaseURL   string
	UpstreamAPIKey    string
	UpstreamRateLimit float64

	MessengerBaseURL   string
	MessengerToken     string
	MessengerRateLimit float64

	LockTimeout         time.Duration
	DispatchTimeout     time.Duration
	PollInterval        time.Duration
	PollBatch           int
	PollMaxAge          time.Duration
	OrphanThreshold     time.Duration
	OrphanSweepInterval time.Duration
	OrphanBatch         int
	AlertAfterAttempts  int
	QueueReapInterval   time.Duration
}

func Load() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "production"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/jobs.db"),

		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisQueueKey:      getEnv("REDIS_QUEUE_KEY", "callbacks:queue"),
		RedisProcessingKey: getEnv("REDIS_PROCESSING_KEY", "callbacks:processing"),
		RedisAlertChannel:  getEnv("REDIS_ALERT_CHANNEL", "alerts:delivery"),
		Workers:            getEnvInt("WORKERS", 4),

		UpstreamBaseURL:   os.Getenv("UPSTREAM_BASE_URL"),
		UpstreamAPIKey:    os.Getenv("UPSTREAM_API_KEY"),
		UpstreamRateLimit: getEnvFloat("UPSTREAM_RATE_LIMIT", 5),

		MessengerBaseURL:   getEnv("MESSENGER_BASE_URL", "https://api.telegram.org"),
		MessengerToken:     os.Getenv("MESSENGER_TOKEN"),
		MessengerRateLimit: getEnvFloat("MESSENGER_RATE_LIMIT", 25),

		LockTimeout:         getEnvDuration("LOCK_TIMEOUT", 5*time.Minute),
		DispatchTimeout:     getEnvDuration("DISPATCH_TIMEOUT", 60*time.Second),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 15*time.Second),
		PollBatch:           getEnvInt("POLL_BATCH", 100),
		PollMaxAge:          getEnvDuration("POLL_MAX_AGE", 24*time.Hour),
		OrphanThreshold:     getEnvDuration("ORPHAN_THRESHOLD", 30*time.Minute),
		OrphanSweepInterval: getEnvDuration("ORPHAN_SWEEP_INTERVAL", 5*time.Minute),
		OrphanBatch:         getEnvInt("ORPHAN_BATCH", 100),
		AlertAfterAttempts:  getEnvInt("ALERT_AFTER_ATTEMPTS", 3),
		QueueReapInterval:   getEnvDuration("QUEUE_REAP_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres"))
		}
	case StoreDriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TIMEOUT must be positive"))
	}
	if c.DispatchTimeout <= 0 || c.DispatchTimeout >= c.LockTimeout {
		errs = append(errs, errors.New("DISPATCH_TIMEOUT must be positive and shorter than LOCK_TIMEOUT"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.OrphanThreshold <= 0 || c.OrphanSweepInterval <= 0 {
		errs = append(errs, errors.New("ORPHAN_THRESHOLD and ORPHAN_SWEEP_INTERVAL must be positive"))
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollBatch <= 0 {
		c.PollBatch = 100
	}
	if c.OrphanBatch <= 0 {
		c.OrphanBatch = 100
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password in a postgres URL for logging.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
