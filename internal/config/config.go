package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	HeartbeatInterval time.Duration
	SweepInterval     time.Duration

	RedisAddr       string
	RedisPassword   string
	ProfileCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	JWTSecret string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    0, // SSE connections are long-lived; no write deadline
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		HeartbeatInterval: 30 * time.Second,
		SweepInterval:     10 * time.Second,

		ProfileCacheTTL: 5 * time.Minute,

		KafkaTopic: "ride-events",
		LogLevel:   "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.HeartbeatInterval, "STREAM_HEARTBEAT_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "STREAM_SWEEP_INTERVAL", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.ProfileCacheTTL, "PROFILE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.JWTSecret = os.Getenv("ACCESS_TOKEN_SECRET")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("STREAM_HEARTBEAT_INTERVAL must be > 0"))
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("STREAM_SWEEP_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// WatcherConfig holds the knobs for the feedwatch client process.
type WatcherConfig struct {
	BaseURL           string
	MetricsAddr       string
	Token             string
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	LogLevel          string
}

func defaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		BaseURL:           "http://localhost:8080",
		MetricsAddr:       ":2112",
		ReconnectAttempts: 5,
		ReconnectBackoff:  3 * time.Second,
		LogLevel:          "info",
	}
}

func LoadWatcherConfig() (WatcherConfig, error) {
	cfg := defaultWatcherConfig()
	var errs []error

	setStringFromEnv(&cfg.BaseURL, "FEED_BASE_URL")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	cfg.Token = os.Getenv("FEED_TOKEN")
	setIntFromEnv(&cfg.ReconnectAttempts, "STREAM_RECONNECT_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.ReconnectBackoff, "STREAM_RECONNECT_BACKOFF", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("STREAM_RECONNECT_ATTEMPTS must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
