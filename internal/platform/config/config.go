package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Audit sink backends.
const (
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

// Server captures process level configuration.
type Server struct {
	Addr           string
	PolicyFile     string
	PolicyWatch    bool
	JWTSigningKey  string
	JWTIssuer      string
	AdminTokenHash string
	RequestTimeout time.Duration
	Audit          AuditConfig
	Ops            OpsConfig
	RateLimit      RateLimitConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Log            LogConfig
}

type AuditConfig struct {
	Sink           string
	Timeout        time.Duration
	SecurityBuffer int
}

// OpsConfig tunes how operational diagnostics reach the ops sink. SampleRates
// maps an ops action to the fraction of its events kept; unlisted actions keep
// everything.
type OpsConfig struct {
	SampleRates      map[string]float64
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// RateLimitConfig throttles record traffic per caller. Zero Requests disables it.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DatabaseConfig is empty when records and audit events stay in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig backs the audit retry queue and token revocation. An empty URL
// disables both.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

type LogConfig struct {
	Format string
	Level  string
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first; real environment
// variables win over it.
func FromEnv() (Server, error) {
	_ = godotenv.Load(".env")

	cfg := Server{
		Addr:           getEnv("KEEPER_ADDR", ":8080"),
		PolicyFile:     getEnv("KEEPER_POLICY_FILE", "configs/policy.yaml"),
		PolicyWatch:    getEnvAsBool("KEEPER_POLICY_WATCH", false),
		JWTSigningKey:  getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:      getEnv("JWT_ISSUER", "keeper"),
		AdminTokenHash: getEnv("KEEPER_ADMIN_TOKEN_HASH", ""),
		RequestTimeout: getEnvAsDuration("KEEPER_REQUEST_TIMEOUT", 5*time.Second),
		Audit: AuditConfig{
			Sink:           strings.ToLower(getEnv("KEEPER_AUDIT_SINK", SinkMemory)),
			Timeout:        getEnvAsDuration("KEEPER_AUDIT_TIMEOUT", 2*time.Second),
			SecurityBuffer: getEnvAsInt("KEEPER_SECURITY_BUFFER", 1024),
		},
		Ops: OpsConfig{
			BreakerThreshold: getEnvAsInt("KEEPER_OPS_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvAsDuration("KEEPER_OPS_BREAKER_COOLDOWN", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvAsInt("KEEPER_RATE_LIMIT", 0),
			Window:   getEnvAsDuration("KEEPER_RATE_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:         getEnv("KEEPER_AUDIT_TOPIC", "keeper.audit"),
			ConsumerGroup: getEnv("KEEPER_AUDIT_CONSUMER_GROUP", "keeper-audit-materializer"),
		},
		Log: LogConfig{
			Format: getEnv("KEEPER_LOG_FORMAT", "json"),
			Level:  getEnv("KEEPER_LOG_LEVEL", "info"),
		},
	}
	rates, err := parseRates(getEnv("KEEPER_OPS_SAMPLE_RATES", ""))
	if err != nil {
		return Server{}, fmt.Errorf("KEEPER_OPS_SAMPLE_RATES: %w", err)
	}
	cfg.Ops.SampleRates = rates

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c Server) Validate() error {
	switch c.Audit.Sink {
	case SinkMemory:
	case SinkPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("KEEPER_AUDIT_SINK=postgres requires DATABASE_URL")
		}
	case SinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("KEEPER_AUDIT_SINK=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown KEEPER_AUDIT_SINK %q", c.Audit.Sink)
	}
	if c.PolicyFile == "" {
		return fmt.Errorf("KEEPER_POLICY_FILE is required")
	}
	if c.RateLimit.Requests < 0 || (c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0) {
		return fmt.Errorf("KEEPER_RATE_LIMIT and KEEPER_RATE_WINDOW must be positive")
	}
	if c.Ops.BreakerThreshold <= 0 || c.Ops.BreakerCooldown <= 0 {
		return fmt.Errorf("KEEPER_OPS_BREAKER_THRESHOLD and KEEPER_OPS_BREAKER_COOLDOWN must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("KEEPER_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRates reads "action=rate" pairs, e.g. "storage_conflict=0.1,audit_retry_queued=1".
func parseRates(s string) (map[string]float64, error) {
	rates := make(map[string]float64)
	for _, pair := range splitList(s) {
		action, raw, ok := strings.Cut(pair, "=")
		action = strings.TrimSpace(action)
		if !ok || action == "" {
			return nil, fmt.Errorf("expected action=rate, got %q", pair)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || rate < 0 || rate > 1 {
			return nil, fmt.Errorf("rate for %s must be a number within [0,1]", action)
		}
		rates[action] = rate
	}
	return rates, nil
}
