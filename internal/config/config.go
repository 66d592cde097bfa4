package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/rl1809/cafe-order/internal/core/domain"
)

type Config struct {
	Env      string
	HTTPPort string
	GRPCPort string

	// shell
	OrderServiceURL     string
	RequestTimeout      time.Duration
	PollInterval        time.Duration
	PollMaxBackoff      time.Duration
	TrackingMaxDuration time.Duration
	SessionTTL          time.Duration
	BreakerFailures     uint32
	TaxRate             decimal.Decimal

	// order service
	OrderHTTPPort    string
	OrderGRPCPort    string
	RedisAddr        string
	RedisPassword    string
	MySQLDSN         string
	KitchenWorkers   int
	KitchenQueueSize int
	KitchenStepDelay time.Duration
	BeanValueCents   int
	AuthTokens       map[string]domain.Principal
}

// Load reads a .env file outside production and then the environment.
func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	if env != "production" {
		// a missing .env is fine, the process environment still applies
		_ = godotenv.Load()
	}

	taxRate, err := getDecimal("TAX_RATE", "0.08")
	if err != nil {
		return nil, err
	}
	tokens, err := ParseAuthTokens(getEnv("AUTH_TOKENS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:      env,
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "50051"),

		OrderServiceURL:     getEnv("ORDER_SERVICE_URL", "http://localhost:5001"),
		TaxRate:             taxRate,
		BreakerFailures:     uint32(getInt("BREAKER_FAILURES", 5)),
		OrderHTTPPort:       getEnv("ORDER_HTTP_PORT", "5001"),
		OrderGRPCPort:       getEnv("ORDER_GRPC_PORT", "50052"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		MySQLDSN:            getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/cafe?parseTime=true"),
		KitchenWorkers:      getInt("KITCHEN_WORKERS", 4),
		KitchenQueueSize:    getInt("KITCHEN_QUEUE_SIZE", 1000),
		BeanValueCents:      getInt("BEAN_VALUE_CENTS", 10),
		AuthTokens:          tokens,
		RequestTimeout:      getDuration("REQUEST_TIMEOUT", 10*time.Second),
		PollInterval:        getDuration("POLL_INTERVAL", 2*time.Second),
		PollMaxBackoff:      getDuration("POLL_MAX_BACKOFF", 30*time.Second),
		TrackingMaxDuration: getDuration("TRACKING_MAX_DURATION", 2*time.Hour),
		SessionTTL:          getDuration("SESSION_TTL", 12*time.Hour),
		KitchenStepDelay:    getDuration("KITCHEN_STEP_DELAY", 5*time.Second),
	}
	return cfg, nil
}

// ParseAuthTokens parses "token=user[:admin],..." into a lookup table.
func ParseAuthTokens(s string) (map[string]domain.Principal, error) {
	out := make(map[string]domain.Principal)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, user, ok := strings.Cut(entry, "=")
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("invalid AUTH_TOKENS entry %q", entry)
		}
		p := domain.Principal{UserID: user}
		if name, role, found := strings.Cut(user, ":"); found {
			if role != "admin" {
				return nil, fmt.Errorf("invalid role %q in AUTH_TOKENS", role)
			}
			p = domain.Principal{UserID: name, Admin: true}
		}
		out[token] = p
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func getDecimal(key, defaultValue string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
