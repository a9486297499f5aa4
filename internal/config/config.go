// Package config loads the easyinvoice configuration from the environment.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	"github.com/djlord-it/easy-invoice/internal/leaderelection"
)

// Config holds all configuration for the easyinvoice application.
// Values are loaded from environment variables; see Usage for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// OwnerID scopes the automations API and the trigger command.
	OwnerID string `json:"owner_id,omitempty"`

	PollInterval  time.Duration `json:"-"`
	PollBatchSize int           `json:"poll_batch_size"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	// MetricsPort serves metrics on a separate listener when set.
	MetricsPort string `json:"metrics_port,omitempty"`

	ReconcileEnabled      bool          `json:"reconcile_enabled"`
	ReconcileInterval     time.Duration `json:"-"`
	ReconcileIntervalStr  string        `json:"reconcile_interval"`
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`
	ReconcileBatchSize    int           `json:"reconcile_batch_size"`

	// LeaderElection restricts polling to the replica holding a Postgres
	// advisory lock.
	LeaderElection             bool          `json:"leader_election"`
	LeaderLockKey              int64         `json:"leader_lock_key"`
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	// EmailProvider: "manual" records sends without delivering, "resend"
	// delivers through the Resend API.
	EmailProvider   string  `json:"email_provider"`
	ResendAPIKey    string  `json:"-"`
	ResendFromEmail string  `json:"resend_from_email,omitempty"`
	EmailRatePerSec float64 `json:"email_rate_per_sec"`

	RenderServiceURL string        `json:"render_service_url"`
	RenderTimeout    time.Duration `json:"-"`
	RenderTimeoutStr string        `json:"render_timeout"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	AnalyticsWindow       time.Duration `json:"-"`
	AnalyticsWindowStr    string        `json:"analytics_window"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// invalid collects values that could not be parsed; Validate reports them.
	invalid ValidationErrors
}

const (
	EmailProviderManual = "manual"
	EmailProviderResend = "resend"
)

// LoadDotEnv loads variables from the given files into the environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		OwnerID:                    strings.TrimSpace(os.Getenv("OWNER_ID")),
		DBOpTimeoutStr:             envOr("DB_OP_TIMEOUT", "5s"),
		DBConnMaxLifetimeStr:       envOr("DB_CONN_MAX_LIFETIME", "30m"),
		DBConnMaxIdleTimeStr:       envOr("DB_CONN_MAX_IDLE_TIME", "5m"),
		HTTPShutdownTimeoutStr:     envOr("HTTP_SHUTDOWN_TIMEOUT", "10s"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                envOr("METRICS_PATH", "/metrics"),
		MetricsPort:                os.Getenv("METRICS_PORT"),
		ReconcileEnabled:           os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:       envOr("RECONCILE_INTERVAL", "5m"),
		ReconcileThresholdStr:      envOr("RECONCILE_THRESHOLD", "30m"),
		LeaderElection:             os.Getenv("LEADER_ELECTION_ENABLED") == "true",
		LeaderRetryIntervalStr:     envOr("LEADER_RETRY_INTERVAL", "5s"),
		LeaderHeartbeatIntervalStr: envOr("LEADER_HEARTBEAT_INTERVAL", "2s"),
		EmailProvider:              strings.ToLower(envOr("EMAIL_PROVIDER", EmailProviderManual)),
		ResendAPIKey:               os.Getenv("RESEND_API_KEY"),
		ResendFromEmail:            os.Getenv("RESEND_FROM_EMAIL"),
		RenderServiceURL:           strings.TrimRight(envOr("RENDER_SERVICE_URL", "http://localhost:3001"), "/"),
		RenderTimeoutStr:           envOr("RENDER_TIMEOUT", "30s"),
		CircuitBreakerCooldownStr:  envOr("CIRCUIT_BREAKER_COOLDOWN", "2m"),
		AnalyticsWindowStr:         envOr("ANALYTICS_WINDOW", "1h"),
		AnalyticsRetentionStr:      envOr("ANALYTICS_RETENTION", "720h"),
		LogLevel:                   strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:                  strings.ToLower(envOr("LOG_FORMAT", "json")),
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	cfg.PollInterval = time.Duration(cfg.positiveInt("POLL_INTERVAL_SECONDS", 300)) * time.Second
	cfg.PollBatchSize = cfg.positiveInt("POLL_BATCH_SIZE", 100)
	cfg.DBMaxOpenConns = cfg.positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = cfg.positiveInt("DB_MAX_IDLE_CONNS", 5)
	cfg.ReconcileBatchSize = cfg.positiveInt("RECONCILE_BATCH_SIZE", 100)

	cfg.CircuitBreakerThreshold = 5
	if s := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			cfg.invalidValue("CIRCUIT_BREAKER_THRESHOLD", s, "must be a non-negative integer")
		}
	}

	cfg.LeaderLockKey = leaderelection.DefaultLockKey
	if s := os.Getenv("LEADER_LOCK_KEY"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			cfg.LeaderLockKey = n
		} else {
			cfg.invalidValue("LEADER_LOCK_KEY", s, "must be a 64-bit integer")
		}
	}

	cfg.EmailRatePerSec = 2
	if s := os.Getenv("EMAIL_RATE_PER_SEC"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
			cfg.EmailRatePerSec = f
		} else {
			cfg.invalidValue("EMAIL_RATE_PER_SEC", s, "must be a non-negative number")
		}
	}

	// Parse durations; validation is handled separately by Validate().
	for _, d := range cfg.durations() {
		if v, err := time.ParseDuration(*d.raw); err == nil {
			*d.dst = v
		}
	}

	return cfg
}

type durationField struct {
	env string
	raw *string
	dst *time.Duration
}

func (c *Config) durations() []durationField {
	return []durationField{
		{"DB_OP_TIMEOUT", &c.DBOpTimeoutStr, &c.DBOpTimeout},
		{"DB_CONN_MAX_LIFETIME", &c.DBConnMaxLifetimeStr, &c.DBConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", &c.DBConnMaxIdleTimeStr, &c.DBConnMaxIdleTime},
		{"HTTP_SHUTDOWN_TIMEOUT", &c.HTTPShutdownTimeoutStr, &c.HTTPShutdownTimeout},
		{"RECONCILE_INTERVAL", &c.ReconcileIntervalStr, &c.ReconcileInterval},
		{"RECONCILE_THRESHOLD", &c.ReconcileThresholdStr, &c.ReconcileThreshold},
		{"LEADER_RETRY_INTERVAL", &c.LeaderRetryIntervalStr, &c.LeaderRetryInterval},
		{"LEADER_HEARTBEAT_INTERVAL", &c.LeaderHeartbeatIntervalStr, &c.LeaderHeartbeatInterval},
		{"RENDER_TIMEOUT", &c.RenderTimeoutStr, &c.RenderTimeout},
		{"CIRCUIT_BREAKER_COOLDOWN", &c.CircuitBreakerCooldownStr, &c.CircuitBreakerCooldown},
		{"ANALYTICS_WINDOW", &c.AnalyticsWindowStr, &c.AnalyticsWindow},
		{"ANALYTICS_RETENTION", &c.AnalyticsRetentionStr, &c.AnalyticsRetention},
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// positiveInt reads key as a positive integer, keeping def when unset or
// invalid.
func (c *Config) positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		c.invalidValue(key, s, "must be a positive integer")
		return def
	}
	return n
}

func (c *Config) invalidValue(key, value, msg string) {
	c.invalid = append(c.invalid, ValidationError{Field: key, Message: msg + ", got " + strconv.Quote(value)})
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		Config
		DatabaseURL  string `json:"database_url"`
		ResendAPIKey string `json:"resend_api_key,omitempty"`
		PollInterval string `json:"poll_interval"`
	}{
		Config:       c,
		DatabaseURL:  maskSecret(c.DatabaseURL),
		ResendAPIKey: maskSecret(c.ResendAPIKey),
		PollInterval: c.PollInterval.String(),
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}

// Usage lists the supported environment variables.
const Usage = `Environment variables:
  DATABASE_URL               PostgreSQL connection string (required)
  REDIS_ADDR                 Redis address for analytics counters (optional)
  HTTP_ADDR                  API listen address (default :8080, falls back to PORT)
  OWNER_ID                   Owner whose automations the API and trigger command manage
  POLL_INTERVAL_SECONDS      Seconds between poll cycles (default 300)
  POLL_BATCH_SIZE            Maximum rules executed per cycle (default 100)
  DB_OP_TIMEOUT              Timeout per database operation (default 5s)
  DB_MAX_OPEN_CONNS          (default 25)
  DB_MAX_IDLE_CONNS          (default 5)
  DB_CONN_MAX_LIFETIME       (default 30m)
  DB_CONN_MAX_IDLE_TIME      (default 5m)
  HTTP_SHUTDOWN_TIMEOUT      Graceful shutdown timeout (default 10s)
  METRICS_ENABLED            Expose Prometheus metrics (true|false)
  METRICS_PATH               (default /metrics)
  METRICS_PORT               Serve metrics on a separate port
  RECONCILE_ENABLED          Report runs stuck in running (true|false)
  RECONCILE_INTERVAL         (default 5m)
  RECONCILE_THRESHOLD        (default 30m)
  RECONCILE_BATCH_SIZE       (default 100)
  LEADER_ELECTION_ENABLED    Poll only on the replica holding the advisory lock (true|false)
  LEADER_LOCK_KEY            Advisory lock key (default 1701408374)
  LEADER_RETRY_INTERVAL      (default 5s)
  LEADER_HEARTBEAT_INTERVAL  (default 2s)
  EMAIL_PROVIDER             manual|resend (default manual)
  RESEND_API_KEY             Required with EMAIL_PROVIDER=resend
  RESEND_FROM_EMAIL          Required with EMAIL_PROVIDER=resend
  EMAIL_RATE_PER_SEC         Outgoing email rate, 0 for unlimited (default 2)
  RENDER_SERVICE_URL         PDF render service (default http://localhost:3001)
  RENDER_TIMEOUT             (default 30s)
  CIRCUIT_BREAKER_THRESHOLD  Consecutive failures before opening, 0 disables (default 5)
  CIRCUIT_BREAKER_COOLDOWN   (default 2m)
  ANALYTICS_WINDOW           1m|5m|1h|24h (default 1h)
  ANALYTICS_RETENTION        (default 720h)
  LOG_LEVEL                  debug|info|warn|error (default info)
  LOG_FORMAT                 json|console (default json)
`
