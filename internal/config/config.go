package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Port        string
	TrackerPort string
	LogLevel    string

	StoreDriver string
	DB          DBConfig

	KafkaBrokers []string
	ChangeTopic  string

	StripeSecretKey     string
	StripeWebhookSecret string
	PublicBaseURL       string
	Currency            string

	AuthJWTSecret string
	AuthURL       string
	AuthAPIKey    string
	// AdminRole, when set, is the user role required on admin routes.
	AdminRole     string

	RedisAddr       string
	RedisPassword   string
	RateLimitMax    int
	RateLimitWindow time.Duration

	// StrictStatusUpdates turns admin status writes into a compare-and-swap
	// on the status that was read. Off means last write wins.
	StrictStatusUpdates bool
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func Load() Config {
	return Config{
		Port:        getEnv("PORT", "8080"),
		TrackerPort: getEnv("TRACKER_PORT", "8083"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "storefront"),
			Password: getEnv("DB_PASSWORD", "storefront"),
			Name:     getEnv("DB_NAME", "storefront"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "")),
		ChangeTopic:         getEnv("CHANGE_TOPIC", "storefront.changes"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		Currency:            strings.ToLower(getEnv("CURRENCY", "usd")),
		AuthJWTSecret:       os.Getenv("AUTH_JWT_SECRET"),
		AuthURL:             strings.TrimRight(os.Getenv("AUTH_URL"), "/"),
		AuthAPIKey:          os.Getenv("AUTH_API_KEY"),
		AdminRole:           strings.TrimSpace(os.Getenv("ADMIN_ROLE")),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RateLimitMax:        getEnvInt("RATE_LIMIT_MAX", 10),
		RateLimitWindow:     getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		StrictStatusUpdates: getEnvBool("STRICT_STATUS_UPDATES", false),
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver))
	}
	if c.AuthJWTSecret == "" && c.AuthURL == "" {
		errs = append(errs, errors.New("one of AUTH_JWT_SECRET or AUTH_URL is required for admin routes"))
	}
	if c.AuthJWTSecret != "" && len(c.AuthJWTSecret) < 32 {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must be at least 32 characters long"))
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

// NewLogger builds the JSON logger every process shares.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
