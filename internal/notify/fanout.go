// Package notify delivers fired-alarm notifications: one publish on the
// owner's channel for live sessions, plus an entry in the owner's bounded
// recent-history list.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

// DefaultHistoryLimit is the per-owner history cap.
const DefaultHistoryLimit = 100

// Channel returns the pub/sub channel carrying an owner's notifications.
func Channel(ownerID string) string {
	return "alarms:user:" + ownerID
}

// Publisher broadcasts a message to current subscribers of a channel.
// Publishing with no subscribers is not an error.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg []byte) error
}

// HistoryStore keeps a capped most-recent-first list per owner.
type HistoryStore interface {
	Append(ctx context.Context, ownerID string, entry []byte, limit int) error
	Recent(ctx context.Context, ownerID string, limit int) ([][]byte, error)
}

// MetricsSink records fan-out metrics. All methods must be non-blocking.
type MetricsSink interface {
	NotificationPublished(kind string)
	NotificationFailed(stage string)
}

type Fanout struct {
	pub     Publisher
	history HistoryStore
	limit   int
	logger  *zap.SugaredLogger
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func NewFanout(pub Publisher, history HistoryStore, logger *zap.SugaredLogger) *Fanout {
	return &Fanout{
		pub:     pub,
		history: history,
		limit:   DefaultHistoryLimit,
		logger:  logger.Named("notify"),
		clock:   time.Now,
	}
}

func (f *Fanout) WithHistoryLimit(n int) *Fanout {
	if n > 0 {
		f.limit = n
	}
	return f
}

func (f *Fanout) WithMetrics(sink MetricsSink) *Fanout {
	f.metrics = sink
	return f
}

// WithClock overrides the time source. Test use only.
func (f *Fanout) WithClock(clock func() time.Time) *Fanout {
	f.clock = clock
	return f
}

// Deliver publishes p to its owner's channel and appends it to the owner's
// history. A failed publish is returned without touching history so the
// caller's retry records the fire once.
func (f *Fanout) Deliver(ctx context.Context, p domain.NotificationPayload) error {
	msg, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}

	if err := f.pub.Publish(ctx, Channel(p.OwnerID), msg); err != nil {
		f.failed("publish")
		return errors.Wrapf(err, "publish to %s", Channel(p.OwnerID))
	}
	if f.metrics != nil {
		f.metrics.NotificationPublished(string(p.Kind))
	}

	entry, err := json.Marshal(domain.HistoryEntry{Payload: p, FiredAt: f.clock().UTC()})
	if err != nil {
		return errors.Wrap(err, "encode history entry")
	}
	histErr := f.history.Append(ctx, p.OwnerID, entry, f.limit)
	if histErr != nil {
		f.failed("history")
		// History is best-effort; the live notification matters more.
		f.logger.Warnw("history append failed",
			"owner_id", p.OwnerID,
			"alarm_id", p.AlarmID,
			"error", histErr,
		)
	}

	f.logger.Debugw("notification delivered", "owner_id", p.OwnerID, "alarm_id", p.AlarmID)
	return nil
}

// History returns up to limit recent entries for an owner, most recent first.
func (f *Fanout) History(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > f.limit {
		limit = f.limit
	}
	raw, err := f.history.Recent(ctx, ownerID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "read history for %s", ownerID)
	}

	out := make([]domain.HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.HistoryEntry
		if err := json.Unmarshal(r, &e); err != nil {
			f.logger.Warnw("skipping undecodable history entry", "owner_id", ownerID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *Fanout) failed(stage string) {
	if f.metrics != nil {
		f.metrics.NotificationFailed(stage)
	}
}
