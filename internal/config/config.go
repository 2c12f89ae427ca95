package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Feed kinds accepted in FEED_KIND and SIM_PUBLISHERS.
const (
	FeedWebsocket = "ws"
	FeedRedis     = "redis"
	FeedKafka     = "kafka"
	FeedAMQP      = "amqp"
)

// HTTPConfig holds the listener settings shared by both binaries.
type HTTPConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DriverConfig configures the driver agent: where offers come from, which
// backend decides accepts, and where presence and history go.
type DriverConfig struct {
	HTTPConfig

	BackendURL     string
	BackendTimeout time.Duration

	FeedKind  string
	FeedURL   string
	FeedTopic string

	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	AMQPURL       string
	AMQPExchange  string

	PGDSN         string
	RunMigrations bool

	// AcceptTimeout bounds a single accept round trip. Zero disables it.
	AcceptTimeout time.Duration
	PresenceTTL   time.Duration

	FCMEndpoint    string
	FCMKey         string
	FCMDeviceToken string

	// SessionSecret enables bearer tokens on the control API when set.
	SessionSecret string
	SessionTTL    time.Duration

	LogLevel string
}

// SeedAccount is a login created when the simulator starts.
type SeedAccount struct {
	Email    string
	Password string
	City     string
}

type SimConfig struct {
	HTTPConfig

	Topic      string
	Publishers []string

	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	AMQPURL       string
	AMQPExchange  string
	LockTTL       time.Duration

	AdminIDs []string
	Admins   []SeedAccount
	Drivers  []SeedAccount

	LogLevel string
}

func defaultHTTPConfig(addr string) HTTPConfig {
	return HTTPConfig{
		HTTPAddr:        addr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

func defaultDriverConfig() DriverConfig {
	return DriverConfig{
		HTTPConfig:     defaultHTTPConfig(":8081"),
		BackendURL:     "http://localhost:8080",
		BackendTimeout: 10 * time.Second,
		FeedKind:       FeedWebsocket,
		FeedURL:        "ws://localhost:8080/ws",
		FeedTopic:      "nova_corrida",
		AMQPExchange:   "rides",
		PresenceTTL:    10 * time.Minute,
		SessionTTL:     12 * time.Hour,
		LogLevel:       "info",
	}
}

func defaultSimConfig() SimConfig {
	return SimConfig{
		HTTPConfig:   defaultHTTPConfig(":8080"),
		Topic:        "nova_corrida",
		Publishers:   []string{FeedWebsocket},
		AMQPExchange: "rides",
		LockTTL:      24 * time.Hour,
		LogLevel:     "info",
	}
}

func loadHTTPConfig(cfg *HTTPConfig, errs *[]error) {
	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", errs)
}

func LoadDriverConfig() (DriverConfig, error) {
	cfg := defaultDriverConfig()
	var errs []error

	loadHTTPConfig(&cfg.HTTPConfig, &errs)

	setStringFromEnv(&cfg.BackendURL, "BACKEND_URL")
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)

	setStringFromEnv(&cfg.FeedKind, "FEED_KIND")
	cfg.FeedKind = strings.ToLower(cfg.FeedKind)
	setStringFromEnv(&cfg.FeedURL, "FEED_URL")
	setStringFromEnv(&cfg.FeedTopic, "FEED_TOPIC")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	setDurationFromEnv(&cfg.AcceptTimeout, "ACCEPT_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.PresenceTTL, "PRESENCE_TTL", &errs)

	cfg.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	cfg.FCMKey = os.Getenv("FCM_KEY")
	cfg.FCMDeviceToken = os.Getenv("FCM_DEVICE_TOKEN")

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	setDurationFromEnv(&cfg.SessionTTL, "SESSION_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	switch cfg.FeedKind {
	case FeedWebsocket:
		if cfg.FeedURL == "" {
			errs = append(errs, errors.New("FEED_URL is required for ws feed"))
		}
	case FeedAMQP:
		if cfg.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required for amqp feed"))
		}
	case FeedRedis:
		if cfg.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for redis feed"))
		}
	case FeedKafka:
		if len(cfg.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka feed"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FEED_KIND %q", cfg.FeedKind))
	}
	if cfg.AcceptTimeout < 0 {
		errs = append(errs, errors.New("ACCEPT_TIMEOUT must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadSimConfig() (SimConfig, error) {
	cfg := defaultSimConfig()
	var errs []error

	loadHTTPConfig(&cfg.HTTPConfig, &errs)
	setStringFromEnv(&cfg.Topic, "FEED_TOPIC")
	if v := os.Getenv("SIM_PUBLISHERS"); v != "" {
		cfg.Publishers = splitAndTrim(strings.ToLower(v))
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	setDurationFromEnv(&cfg.LockTTL, "RIDE_LOCK_TTL", &errs)

	if v := os.Getenv("ADMIN_IDS"); v != "" {
		cfg.AdminIDs = splitAndTrim(v)
	}
	cfg.Admins = parseSeedAccounts(os.Getenv("SIM_ADMINS"), "SIM_ADMINS", &errs)
	cfg.Drivers = parseSeedAccounts(os.Getenv("SIM_DRIVERS"), "SIM_DRIVERS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	for _, p := range cfg.Publishers {
		switch p {
		case FeedWebsocket:
		case FeedRedis:
			if cfg.RedisAddr == "" {
				errs = append(errs, errors.New("REDIS_ADDR is required for redis publisher"))
			}
		case FeedKafka:
			if len(cfg.KafkaBrokers) == 0 {
				errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka publisher"))
			}
		case FeedAMQP:
			if cfg.AMQPURL == "" {
				errs = append(errs, errors.New("AMQP_URL is required for amqp publisher"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown publisher %q", p))
		}
	}
	if len(cfg.AdminIDs) > 0 && len(cfg.AdminIDs) != len(cfg.Admins) {
		errs = append(errs, errors.New("ADMIN_IDS must list one id per SIM_ADMINS entry"))
	}

	return cfg, errors.Join(errs...)
}

// parseSeedAccounts reads "email:password[:city]" entries separated by commas.
func parseSeedAccounts(v, key string, errs *[]error) []SeedAccount {
	var out []SeedAccount
	for _, entry := range splitAndTrim(v) {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			*errs = append(*errs, fmt.Errorf("invalid %s entry %q", key, entry))
			continue
		}
		acc := SeedAccount{Email: parts[0], Password: parts[1]}
		if len(parts) == 3 {
			acc.City = parts[2]
		}
		out = append(out, acc)
	}
	return out
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
