package schedindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// MemIndex is a single-process index ordered by a btree. Keys are
// "<zero-padded unix ms>::<id>" so lexical order equals time order.
type MemIndex struct {
	mu      sync.Mutex
	ordered btree.Map[string, uuid.UUID]
	byID    map[uuid.UUID]Entry
}

func NewMemIndex() *MemIndex {
	return &MemIndex{byID: make(map[uuid.UUID]Entry)}
}

func orderKey(t time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%020d::%s", score(t)+offsetMillis, id)
}

// offsetMillis shifts pre-1970 instants into the non-negative range so the
// zero-padded key still sorts numerically.
const offsetMillis = int64(1) << 62

func (m *MemIndex) Upsert(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.byID[e.AlarmID]; ok {
		m.ordered.Delete(orderKey(prev.TriggerAt, prev.AlarmID))
	}
	m.byID[e.AlarmID] = e
	m.ordered.Set(orderKey(e.TriggerAt, e.AlarmID), e.AlarmID)
	return nil
}

func (m *MemIndex) Remove(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.byID[id]; ok {
		m.ordered.Delete(orderKey(prev.TriggerAt, id))
		delete(m.byID, id)
	}
	return nil
}

func (m *MemIndex) DueBefore(_ context.Context, t time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := score(t)
	var ids []uuid.UUID
	m.ordered.Scan(func(_ string, id uuid.UUID) bool {
		if score(m.byID[id].TriggerAt) > cutoff {
			return false
		}
		ids = append(ids, id)
		return limit <= 0 || len(ids) < limit
	})
	return ids, nil
}

func (m *MemIndex) Get(_ context.Context, id uuid.UUID) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemIndex) Len(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.byID)), nil
}
