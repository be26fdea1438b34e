package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the easyalarm application.
// Values are loaded from environment variables, optionally seeded from a
// .env file in the working directory.
type Config struct {
	DatabaseURL   string `envconfig:"DATABASE_URL" json:"database_url"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379" json:"redis_addr"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" json:"redis_password,omitempty"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0" validate:"min=0,max=15" json:"redis_db"`
	HTTPAddr      string `envconfig:"HTTP_ADDR" json:"http_addr"`
	Port          string `envconfig:"PORT" json:"-"`

	// AlarmTimezone is the IANA zone wall-clock alarm times are evaluated in.
	AlarmTimezone string `envconfig:"ALARM_TIMEZONE" default:"UTC" json:"alarm_timezone"`

	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m" json:"sweep_interval"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"4" validate:"min=1" json:"sweep_concurrency"`
	SweepBatchSize   int           `envconfig:"SWEEP_BATCH_SIZE" default:"1000" validate:"min=1" json:"sweep_batch_size"`

	QueueConcurrency     int           `envconfig:"QUEUE_CONCURRENCY" default:"10" validate:"min=1" json:"queue_concurrency"`
	QueuePollInterval    time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"500ms" json:"queue_poll_interval"`
	QueueMaxAttempts     int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3" validate:"min=1" json:"queue_max_attempts"`
	QueueBackoffBase     time.Duration `envconfig:"QUEUE_BACKOFF_BASE" default:"2s" json:"queue_backoff_base"`
	QueueJanitorSchedule string        `envconfig:"QUEUE_JANITOR_SCHEDULE" default:"*/10 * * * *" json:"queue_janitor_schedule"`

	// QueueBreakerThreshold: 0 disables the circuit breaker.
	QueueBreakerThreshold int           `envconfig:"QUEUE_BREAKER_THRESHOLD" default:"5" validate:"min=0" json:"queue_breaker_threshold"`
	QueueBreakerCooldown  time.Duration `envconfig:"QUEUE_BREAKER_COOLDOWN" default:"30s" json:"queue_breaker_cooldown"`

	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"100" validate:"min=1,max=1000" json:"history_limit"`

	// IndexBackend: "redis" is shared by every instance, "memory" is single-instance.
	IndexBackend string `envconfig:"INDEX_BACKEND" default:"redis" validate:"oneof=redis memory" json:"index_backend"`

	// PubSubBackend: "redis" fans out across instances, "memory" is single-instance.
	PubSubBackend string `envconfig:"PUBSUB_BACKEND" default:"redis" validate:"oneof=redis memory" json:"pubsub_backend"`

	StreamTokenSecret string        `envconfig:"STREAM_TOKEN_SECRET" json:"stream_token_secret"`
	StreamTokenTTL    time.Duration `envconfig:"STREAM_TOKEN_TTL" default:"5m" json:"stream_token_ttl"`
	StreamHeartbeat   time.Duration `envconfig:"STREAM_HEARTBEAT" default:"15s" json:"stream_heartbeat"`

	DBOpTimeout       time.Duration `envconfig:"DB_OP_TIMEOUT" default:"5s" json:"db_op_timeout"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25" validate:"min=1" json:"db_max_open_conns"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5" validate:"min=0" json:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m" json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m" json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s" json:"http_shutdown_timeout"`

	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false" json:"metrics_enabled"`
	MetricsPath    string `envconfig:"METRICS_PATH" default:"/metrics" validate:"startswith=/" json:"metrics_path"`
	MetricsPort    int    `envconfig:"METRICS_PORT" default:"9090" validate:"min=1,max=65535" json:"metrics_port"`

	// LeaderElectionEnabled gates the sweeper and cold-start rebuild behind
	// a Postgres advisory lock. Required when running more than one instance.
	LeaderElectionEnabled bool `envconfig:"LEADER_ELECTION_ENABLED" default:"false" json:"leader_election_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `envconfig:"LEADER_LOCK_KEY" default:"728001" validate:"min=1" json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval time.Duration `envconfig:"LEADER_RETRY_INTERVAL" default:"5s" json:"leader_retry_interval"`

	// LeaderHeartbeatInterval pings the dedicated connection to detect local
	// connection death. It does NOT renew the advisory lock.
	LeaderHeartbeatInterval time.Duration `envconfig:"LEADER_HEARTBEAT_INTERVAL" default:"2s" json:"leader_heartbeat_interval"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error" json:"log_level"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"false" json:"log_json"`
}

// Load reads configuration from the environment. A .env file, when present,
// fills variables that are not already set. Semantic checks are left to
// Validate so the config command can print what was loaded.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "process environment configuration")
	}

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if cfg.Port != "" {
			cfg.HTTPAddr = ":" + cfg.Port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	return cfg, nil
}

// Location resolves AlarmTimezone. Validate reports a bad zone; this falls
// back to UTC so callers never hold a nil location.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.AlarmTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	type plain Config
	masked := plain(c)
	masked.DatabaseURL = maskSecret(masked.DatabaseURL)
	masked.RedisPassword = maskSecret(masked.RedisPassword)
	masked.StreamTokenSecret = maskSecret(masked.StreamTokenSecret)

	// Durations render as Go duration strings rather than nanoseconds.
	raw, err := json.Marshal(masked)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for name, d := range c.durations() {
		fields[name] = d.String()
	}
	return json.MarshalIndent(fields, "", "  ")
}

func (c Config) durations() map[string]time.Duration {
	return map[string]time.Duration{
		"sweep_interval":            c.SweepInterval,
		"queue_poll_interval":       c.QueuePollInterval,
		"queue_backoff_base":        c.QueueBackoffBase,
		"queue_breaker_cooldown":    c.QueueBreakerCooldown,
		"stream_token_ttl":          c.StreamTokenTTL,
		"stream_heartbeat":          c.StreamHeartbeat,
		"db_op_timeout":             c.DBOpTimeout,
		"db_conn_max_lifetime":      c.DBConnMaxLifetime,
		"db_conn_max_idle_time":     c.DBConnMaxIdleTime,
		"http_shutdown_timeout":     c.HTTPShutdownTimeout,
		"leader_retry_interval":     c.LeaderRetryInterval,
		"leader_heartbeat_interval": c.LeaderHeartbeatInterval,
	}
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "redis://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
