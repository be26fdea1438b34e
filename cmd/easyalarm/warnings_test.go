package main

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/djlord-it/easy-alarm/internal/config"
)

// captureWarnings calls logConfigWarnings with the given config and returns
// the captured log messages.
func captureWarnings(cfg config.Config) []observer.LoggedEntry {
	core, logs := observer.New(zapcore.InfoLevel)
	logConfigWarnings(cfg, zap.New(core).Sugar())
	return logs.All()
}

func contains(entries []observer.LoggedEntry, substr string) bool {
	for _, e := range entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestLogConfigWarnings_MemoryBackendsWithLeaderElection(t *testing.T) {
	cfg := config.Config{
		LeaderElectionEnabled: true,
		IndexBackend:          "memory",
		PubSubBackend:         "memory",
		MetricsEnabled:        true,
		QueueBreakerThreshold: 5,
	}
	entries := captureWarnings(cfg)

	if !contains(entries, "[P0] INDEX_BACKEND=memory") {
		t.Error("expected memory index P0 warning, got:", entries)
	}
	if !contains(entries, "[P0] PUBSUB_BACKEND=memory") {
		t.Error("expected memory pubsub P0 warning, got:", entries)
	}
	if contains(entries, "LEADER_ELECTION_ENABLED=false") {
		t.Error("did not expect single-instance info with leader election on")
	}
	for _, e := range entries {
		if strings.Contains(e.Message, "[P0]") && e.Level != zapcore.WarnLevel {
			t.Errorf("P0 logged at %v, want warn", e.Level)
		}
	}
}

func TestLogConfigWarnings_SingleInstanceDefaults(t *testing.T) {
	cfg := config.Config{
		IndexBackend:          "memory",
		PubSubBackend:         "memory",
		MetricsEnabled:        false,
		QueueBreakerThreshold: 0,
	}
	entries := captureWarnings(cfg)

	// Memory backends are fine on a single instance.
	if contains(entries, "[P0]") {
		t.Error("did not expect any P0 warnings, got:", entries)
	}
	if !contains(entries, "LEADER_ELECTION_ENABLED=false") {
		t.Error("expected single-instance info, got:", entries)
	}
	if !contains(entries, "[P1] METRICS_ENABLED=false") {
		t.Error("expected metrics P1 warning, got:", entries)
	}
	if !contains(entries, "QUEUE_BREAKER_THRESHOLD=0") {
		t.Error("expected breaker disabled info, got:", entries)
	}
}

func TestLogConfigWarnings_ProductionShapeIsQuiet(t *testing.T) {
	cfg := config.Config{
		LeaderElectionEnabled: true,
		IndexBackend:          "redis",
		PubSubBackend:         "redis",
		MetricsEnabled:        true,
		QueueBreakerThreshold: 5,
	}
	if entries := captureWarnings(cfg); len(entries) != 0 {
		t.Errorf("expected no output, got: %v", entries)
	}
}
