package leaderelection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
)

type mockMetrics struct {
	mu       sync.Mutex
	statuses []bool
	acquired int
	lost     []string
}

func (m *mockMetrics) LeaderStatusChanged(isLeader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, isLeader)
}

func (m *mockMetrics) LeaderAcquired() { m.mu.Lock(); m.acquired++; m.mu.Unlock() }

func (m *mockMetrics) LeaderLost(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = append(m.lost, reason)
}

func testConfig(heartbeat time.Duration) Config {
	return Config{LockKey: 42, RetryInterval: 10 * time.Millisecond, HeartbeatInterval: heartbeat}
}


func TestRunOnce_LockHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`pg_try_advisory_lock`).WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	elected := false
	e := New(db, testConfig(time.Hour), zap.NewNop().Sugar()).
		OnElected(func(context.Context) { elected = true })

	if reason := e.runOnce(context.Background()); reason != "" {
		t.Errorf("reason = %q, want empty", reason)
	}
	if elected || e.IsLeader() {
		t.Error("follower must not be elected")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunOnce_LeadsUntilShutdownThenUnlocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`pg_try_advisory_lock`).WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`pg_advisory_unlock`).WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	electedCh := make(chan context.Context, 1)
	demoted := 0
	metrics := &mockMetrics{}

	e := New(db, testConfig(time.Hour), zap.NewNop().Sugar()).
		WithMetrics(metrics).
		OnElected(func(ctx context.Context) { electedCh <- ctx }).
		OnDemoted(func() { demoted++ })

	done := make(chan string, 1)
	go func() { done <- e.runOnce(ctx) }()

	var leaderCtx context.Context
	select {
	case leaderCtx = <-electedCh:
	case <-time.After(time.Second):
		t.Fatal("onElected not called")
	}
	if !e.IsLeader() {
		t.Error("IsLeader = false while holding the lock")
	}

	cancel()
	select {
	case reason := <-done:
		if reason != ReasonShutdown {
			t.Errorf("reason = %q, want shutdown", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("runOnce did not return after shutdown")
	}

	if leaderCtx.Err() == nil {
		t.Error("leader context not cancelled")
	}
	if demoted != 1 || e.IsLeader() {
		t.Errorf("demoted = %d, leader = %v", demoted, e.IsLeader())
	}
	if len(metrics.statuses) != 2 || !metrics.statuses[0] || metrics.statuses[1] {
		t.Errorf("statuses = %v", metrics.statuses)
	}
	if len(metrics.lost) != 1 || metrics.lost[0] != ReasonShutdown {
		t.Errorf("lost = %v", metrics.lost)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunOnce_ConnectionLoss(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectPing().WillReturnError(errors.New("connection reset"))

	e := New(db, testConfig(10*time.Millisecond), zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if reason := e.runOnce(ctx); reason != ReasonConnLost {
		t.Errorf("reason = %q, want conn_lost", reason)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 100; i++ {
		mock.ExpectQuery(`pg_try_advisory_lock`).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		New(db, testConfig(time.Hour), zap.NewNop().Sugar()).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
