package config

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

var configKeys = []string{
	"DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "HTTP_ADDR", "PORT",
	"ALARM_TIMEZONE", "SWEEP_INTERVAL", "SWEEP_CONCURRENCY", "SWEEP_BATCH_SIZE",
	"QUEUE_CONCURRENCY", "QUEUE_POLL_INTERVAL", "QUEUE_MAX_ATTEMPTS", "QUEUE_BACKOFF_BASE",
	"QUEUE_JANITOR_SCHEDULE", "QUEUE_BREAKER_THRESHOLD", "QUEUE_BREAKER_COOLDOWN",
	"HISTORY_LIMIT", "INDEX_BACKEND", "PUBSUB_BACKEND", "STREAM_TOKEN_SECRET", "STREAM_TOKEN_TTL",
	"STREAM_HEARTBEAT", "DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
	"DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME", "HTTP_SHUTDOWN_TIMEOUT",
	"METRICS_ENABLED", "METRICS_PATH", "METRICS_PORT", "LEADER_ELECTION_ENABLED",
	"LEADER_LOCK_KEY", "LEADER_RETRY_INTERVAL", "LEADER_HEARTBEAT_INTERVAL",
	"LOG_LEVEL", "LOG_JSON",
}

// clearEnv unsets every config variable for the duration of the test.
// An empty value is not the same as unset: it would bypass defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		if v, ok := os.LookupEnv(k); ok {
			os.Unsetenv(k)
			t.Cleanup(func() { os.Setenv(k, v) })
		}
	}
}

func mustLoad(t *testing.T) Config {
	t.Helper()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := mustLoad(t)

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.AlarmTimezone != "UTC" {
		t.Errorf("AlarmTimezone = %q, want UTC", cfg.AlarmTimezone)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.SweepInterval)
	}
	if cfg.StreamTokenTTL != 5*time.Minute {
		t.Errorf("StreamTokenTTL = %v, want 5m", cfg.StreamTokenTTL)
	}
	if cfg.StreamHeartbeat != 15*time.Second {
		t.Errorf("StreamHeartbeat = %v, want 15s", cfg.StreamHeartbeat)
	}
	if cfg.QueueMaxAttempts != 3 || cfg.QueueBackoffBase != 2*time.Second {
		t.Errorf("queue retry = %d attempts, base %v", cfg.QueueMaxAttempts, cfg.QueueBackoffBase)
	}
	if cfg.PubSubBackend != "redis" || cfg.IndexBackend != "redis" {
		t.Errorf("backends = %q/%q, want redis", cfg.IndexBackend, cfg.PubSubBackend)
	}
	if cfg.DBMaxOpenConns != 25 || cfg.DBMaxIdleConns != 5 {
		t.Errorf("DB pool = %d/%d, want 25/5", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	}
	if cfg.DBConnMaxLifetime != 30*time.Minute {
		t.Errorf("DBConnMaxLifetime = %v, want 30m", cfg.DBConnMaxLifetime)
	}
	if cfg.LeaderLockKey != 728001 {
		t.Errorf("LeaderLockKey = %d, want 728001", cfg.LeaderLockKey)
	}
	if cfg.MetricsEnabled || cfg.LeaderElectionEnabled {
		t.Error("metrics and leader election should default to disabled")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("QUEUE_CONCURRENCY", "32")
	t.Setenv("ALARM_TIMEZONE", "Europe/Paris")
	t.Setenv("PUBSUB_BACKEND", "memory")
	t.Setenv("LEADER_ELECTION_ENABLED", "true")
	t.Setenv("LEADER_LOCK_KEY", "42")

	cfg := mustLoad(t)

	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v, want 30s", cfg.SweepInterval)
	}
	if cfg.QueueConcurrency != 32 {
		t.Errorf("QueueConcurrency = %d, want 32", cfg.QueueConcurrency)
	}
	if cfg.Location().String() != "Europe/Paris" {
		t.Errorf("Location = %v", cfg.Location())
	}
	if cfg.PubSubBackend != "memory" || !cfg.LeaderElectionEnabled || cfg.LeaderLockKey != 42 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")

	if cfg := mustLoad(t); cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}

	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	if cfg := mustLoad(t); cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("HTTPAddr = %q, want HTTP_ADDR to win", cfg.HTTPAddr)
	}
}

func TestLoad_UnparseableValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("SWEEP_CONCURRENCY", "four")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric SWEEP_CONCURRENCY")
	}
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	cfg := Config{AlarmTimezone: "Mars/Olympus"}
	if cfg.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location())
	}
}

func TestMaskedJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://user:hunter2@db/alarms")
	t.Setenv("STREAM_TOKEN_SECRET", "a-very-long-stream-secret")

	data, err := mustLoad(t).MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON failed: %v", err)
	}
	out := string(data)

	if strings.Contains(out, "hunter2") || strings.Contains(out, "a-very-long-stream-secret") {
		t.Errorf("secret leaked: %s", out)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fields["database_url"] != "postgres://***" {
		t.Errorf("database_url = %v", fields["database_url"])
	}
	if fields["stream_token_secret"] != "***" {
		t.Errorf("stream_token_secret = %v", fields["stream_token_secret"])
	}
	if fields["sweep_interval"] != "1m0s" {
		t.Errorf("sweep_interval = %v, want duration string", fields["sweep_interval"])
	}
	if _, ok := fields["db_max_open_conns"]; !ok {
		t.Error("MaskedJSON missing db_max_open_conns field")
	}
	if _, ok := fields["PORT"]; ok {
		t.Error("PORT should not be rendered")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"postgres://u:p@h/db", "postgres://***"},
		{"postgresql://u:p@h/db", "postgresql://***"},
		{"redis://:pw@h:6379", "redis://***"},
		{"plain", "***"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
