package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/scheduler"
	"github.com/djlord-it/easy-alarm/internal/schedindex"
	"github.com/djlord-it/easy-alarm/internal/testutil"
)

var now = time.Date(2025, time.June, 2, 9, 0, 30, 0, time.UTC)

type mockIndex struct {
	ids []uuid.UUID
	err error

	mu     sync.Mutex
	cutoff time.Time
	limit  int
}

func (m *mockIndex) DueBefore(_ context.Context, t time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff, m.limit = t, limit
	return m.ids, m.err
}

type mockTrigger struct {
	mu       sync.Mutex
	seen     []uuid.UUID
	failFor  map[uuid.UUID]bool
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (m *mockTrigger) Trigger(_ context.Context, id uuid.UUID) (scheduler.Outcome, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(m.delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, id)
	if m.failFor[id] {
		return "", errors.New("store unavailable")
	}
	return scheduler.OutcomeRescheduled, nil
}

type mockMetrics struct {
	mu          sync.Mutex
	due, failed int
	calls       int
}

func (m *mockMetrics) SweepCompleted(_ time.Duration, due, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.due, m.failed = due, failed
	m.calls++
}

func newTestReconciler(cfg Config, idx Index, trig Trigger) *Reconciler {
	return New(cfg, idx, trig, zap.NewNop().Sugar()).WithClock(func() time.Time { return now })
}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestSweep_TriggersEveryDueAlarm(t *testing.T) {
	due := ids(5)
	idx := &mockIndex{ids: due}
	trig := &mockTrigger{}
	metrics := &mockMetrics{}
	r := newTestReconciler(DefaultConfig(), idx, trig).WithMetrics(metrics)

	gotDue, failed := r.Sweep(context.Background())

	if gotDue != 5 || failed != 0 {
		t.Errorf("Sweep = %d due, %d failed", gotDue, failed)
	}
	if len(trig.seen) != 5 {
		t.Errorf("triggered %d alarms, want 5", len(trig.seen))
	}
	if !idx.cutoff.Equal(now) || idx.limit != DefaultConfig().BatchSize {
		t.Errorf("DueBefore(%v, %d)", idx.cutoff, idx.limit)
	}
	if metrics.calls != 1 || metrics.due != 5 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestSweep_FailuresAreIsolated(t *testing.T) {
	due := ids(4)
	trig := &mockTrigger{failFor: map[uuid.UUID]bool{due[1]: true, due[2]: true}}
	r := newTestReconciler(DefaultConfig(), &mockIndex{ids: due}, trig)

	gotDue, failed := r.Sweep(context.Background())

	if gotDue != 4 || failed != 2 {
		t.Errorf("Sweep = %d due, %d failed; want 4, 2", gotDue, failed)
	}
	if len(trig.seen) != 4 {
		t.Errorf("triggered %d alarms, want all 4", len(trig.seen))
	}
}

func TestSweep_BoundsParallelism(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	trig := &mockTrigger{delay: 10 * time.Millisecond}
	r := newTestReconciler(cfg, &mockIndex{ids: ids(8)}, trig)

	r.Sweep(context.Background())

	if p := trig.peak.Load(); p > 2 || p < 1 {
		t.Errorf("peak parallelism = %d, want 1..2", p)
	}
}

func TestSweep_IndexErrorSkipsCycle(t *testing.T) {
	trig := &mockTrigger{}
	r := newTestReconciler(DefaultConfig(), &mockIndex{err: errors.New("redis down")}, trig)

	if due, failed := r.Sweep(context.Background()); due != 0 || failed != 0 {
		t.Errorf("Sweep = %d, %d", due, failed)
	}
	if len(trig.seen) != 0 {
		t.Error("no alarm should be triggered")
	}
}

func TestSweep_EmptyIndex(t *testing.T) {
	metrics := &mockMetrics{}
	r := newTestReconciler(DefaultConfig(), &mockIndex{}, &mockTrigger{}).WithMetrics(metrics)

	if due, _ := r.Sweep(context.Background()); due != 0 {
		t.Errorf("due = %d", due)
	}
	if metrics.calls != 1 {
		t.Errorf("metrics calls = %d, want 1", metrics.calls)
	}
}

func TestSweep_WithRealIndexOnlyDueAlarms(t *testing.T) {
	ctx := testutil.TestContext(t)
	idx := schedindex.NewMemIndex()
	dueID, laterID := uuid.New(), uuid.New()
	_ = idx.Upsert(ctx, schedindex.Entry{AlarmID: dueID, TriggerAt: now.Add(-time.Minute)})
	_ = idx.Upsert(ctx, schedindex.Entry{AlarmID: laterID, TriggerAt: now.Add(time.Minute)})

	trig := &mockTrigger{}
	r := newTestReconciler(DefaultConfig(), idx, trig)
	r.Sweep(ctx)

	if len(trig.seen) != 1 || trig.seen[0] != dueID {
		t.Errorf("triggered %v, want only %s", trig.seen, dueID)
	}
}

func TestRun_SweepsImmediatelyAndStops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	trig := &mockTrigger{}
	r := newTestReconciler(cfg, &mockIndex{ids: ids(1)}, trig)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		trig.mu.Lock()
		n := len(trig.seen)
		trig.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("startup sweep did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
