package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all tunable parameters for the dispatch process. Values
// are loaded from environment variables with defaults that match the
// behavior passengers and drivers already expect, so the binary can run
// locally without excessive setup.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	GatewayBaseURL string
	GatewayToken   string
	GatewayWSURL   string // optional websocket event feed; webhook is used when empty
	WebhookSecret  string

	PGDSN         string
	RunMigrations bool

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr     string
	RedisPassword string

	// Conversation and ride timing. Persisted timestamps plus these
	// constants are what the restore pass recomputes timers from.
	InactivityWarning time.Duration
	InactivityTimeout time.Duration
	KeepaliveInterval time.Duration
	RatingPromptDelay time.Duration
	RatingDeadline    time.Duration
	MinWaitMinutes    int
	CPFMaxAttempts    int

	TestDriverJID string

	LogLevel string
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		KafkaTopic:        "ride-events",
		InactivityWarning: 150 * time.Second,
		InactivityTimeout: 5 * time.Minute,
		KeepaliveInterval: 6 * time.Minute,
		RatingPromptDelay: 2 * time.Hour,
		RatingDeadline:    24 * time.Hour,
		MinWaitMinutes:    5,
		CPFMaxAttempts:    3,
		LogLevel:          "info",
	}
}

func Load() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.GatewayBaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	cfg.GatewayToken = os.Getenv("GATEWAY_TOKEN")
	cfg.GatewayWSURL = strings.TrimSpace(os.Getenv("GATEWAY_WS_URL"))
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	setDurationFromEnv(&cfg.InactivityWarning, "CONVERSATION_WARNING", &errs)
	setDurationFromEnv(&cfg.InactivityTimeout, "CONVERSATION_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.KeepaliveInterval, "KEEPALIVE_INTERVAL", &errs)
	setDurationFromEnv(&cfg.RatingPromptDelay, "RATING_PROMPT_DELAY", &errs)
	setDurationFromEnv(&cfg.RatingDeadline, "RATING_DEADLINE", &errs)
	setIntFromEnv(&cfg.MinWaitMinutes, "MIN_WAIT_MINUTES", &errs)
	setIntFromEnv(&cfg.CPFMaxAttempts, "CPF_MAX_ATTEMPTS", &errs)

	cfg.TestDriverJID = strings.TrimSpace(os.Getenv("TEST_DRIVER_JID"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.MinWaitMinutes <= 0 {
		errs = append(errs, fmt.Errorf("MIN_WAIT_MINUTES must be > 0"))
	}
	if cfg.CPFMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CPF_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.InactivityWarning >= cfg.InactivityTimeout {
		errs = append(errs, fmt.Errorf("CONVERSATION_WARNING must be shorter than CONVERSATION_TIMEOUT"))
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
