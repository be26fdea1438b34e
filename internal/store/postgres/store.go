package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

// ErrAlarmExists is returned when inserting an alarm whose id is taken.
var ErrAlarmExists = errors.New("alarm already exists")

// activePageSize bounds each page read by ListActiveAlarms.
const activePageSize = 500

// Store persists alarms in PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithOpTimeout bounds each store call. Zero keeps only the caller's deadline.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row rowScanner) (domain.Alarm, error) {
	var (
		a          domain.Alarm
		kind       string
		tod        string
		weekdays   pq.Int64Array
		reminderID uuid.NullUUID
		scheduleID uuid.NullUUID
		targetDate sql.NullString
		next       sql.NullTime
		last       sql.NullTime
	)

	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.Title,
		&kind,
		&tod,
		&a.Repeats,
		&weekdays,
		&a.Active,
		&reminderID,
		&scheduleID,
		&targetDate,
		&next,
		&last,
		&a.TriggerCount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return domain.Alarm{}, err
	}

	a.Kind = domain.Kind(kind)
	if a.TimeOfDay, err = domain.ParseTimeOfDay(tod); err != nil {
		return domain.Alarm{}, errors.Wrapf(err, "alarm %s", a.ID)
	}
	if len(weekdays) > 0 {
		days := make([]int, len(weekdays))
		for i, d := range weekdays {
			days[i] = int(d)
		}
		a.Weekdays = domain.NewWeekdaySet(days...)
	}
	if reminderID.Valid {
		a.ReminderID = &reminderID.UUID
	}
	if scheduleID.Valid {
		a.ScheduleID = &scheduleID.UUID
	}
	if targetDate.Valid {
		d, err := domain.ParseDate(targetDate.String)
		if err != nil {
			return domain.Alarm{}, errors.Wrapf(err, "alarm %s", a.ID)
		}
		a.TargetDate = &d
	}
	if next.Valid {
		t := next.Time
		a.NextTriggerAt = &t
	}
	if last.Valid {
		t := last.Time
		a.LastTriggeredAt = &t
	}
	return a, nil
}

func scanAlarms(rows *sql.Rows) ([]domain.Alarm, error) {
	defer rows.Close()

	var result []domain.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetAlarm returns domain.ErrAlarmNotFound when no row matches.
func (s *Store) GetAlarm(ctx context.Context, id uuid.UUID) (domain.Alarm, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	a, err := scanAlarm(s.db.QueryRowContext(ctx, queryGetAlarm, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alarm{}, domain.ErrAlarmNotFound
	}
	if err != nil {
		return domain.Alarm{}, errors.Wrap(err, "get alarm")
	}
	return a, nil
}

// ListAlarms returns an owner's alarms, newest first.
func (s *Store) ListAlarms(ctx context.Context, ownerID string, limit, offset int) ([]domain.Alarm, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListAlarms, ownerID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list alarms")
	}
	return scanAlarms(rows)
}

// ListActiveAlarms returns every active alarm, reading in pages.
func (s *Store) ListActiveAlarms(ctx context.Context) ([]domain.Alarm, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var all []domain.Alarm
	for offset := 0; ; offset += activePageSize {
		rows, err := s.db.QueryContext(ctx, queryListActiveAlarms, activePageSize, offset)
		if err != nil {
			return nil, errors.Wrap(err, "list active alarms")
		}
		page, err := scanAlarms(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < activePageSize {
			return all, nil
		}
	}
}

// CreateAlarm inserts a new alarm row.
func (s *Store) CreateAlarm(ctx context.Context, a domain.Alarm) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertAlarm,
		a.ID,
		a.OwnerID,
		a.Title,
		string(a.Kind),
		a.TimeOfDay.String(),
		a.Repeats,
		weekdayArray(a.Weekdays),
		a.Active,
		nullUUID(a.ReminderID),
		nullUUID(a.ScheduleID),
		nullDate(a.TargetDate),
		a.NextTriggerAt,
		a.LastTriggeredAt,
		a.TriggerCount,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrAlarmExists
		}
		return errors.Wrap(err, "insert alarm")
	}
	return nil
}

// UpdateAlarm rewrites the user-editable fields of an owner's alarm.
// Trigger bookkeeping columns are left to the scheduler.
func (s *Store) UpdateAlarm(ctx context.Context, a domain.Alarm) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryUpdateAlarm,
		a.ID,
		a.OwnerID,
		a.Title,
		string(a.Kind),
		a.TimeOfDay.String(),
		a.Repeats,
		weekdayArray(a.Weekdays),
		a.Active,
		nullUUID(a.ReminderID),
		nullUUID(a.ScheduleID),
		nullDate(a.TargetDate),
		a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "update alarm")
	}
	return expectRow(result)
}

// DeleteAlarm removes an owner's alarm.
func (s *Store) DeleteAlarm(ctx context.Context, id uuid.UUID, ownerID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var deleted uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteAlarm, id, ownerID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrAlarmNotFound
	}
	if err != nil {
		return errors.Wrap(err, "delete alarm")
	}
	return nil
}

// SetNextTrigger persists the computed next fire instant; nil clears it.
func (s *Store) SetNextTrigger(ctx context.Context, id uuid.UUID, next *time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, querySetNextTrigger, id, next)
	if err != nil {
		return errors.Wrap(err, "set next trigger")
	}
	return expectRow(result)
}

// AdvanceAlarm records a fire and moves the alarm to its next occurrence.
func (s *Store) AdvanceAlarm(ctx context.Context, id uuid.UUID, firedAt, next time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryAdvanceAlarm, id, firedAt, next)
	if err != nil {
		return errors.Wrap(err, "advance alarm")
	}
	return expectRow(result)
}

// RetireAlarm deactivates an alarm. When firedAt is set the fire is recorded
// as well.
func (s *Store) RetireAlarm(ctx context.Context, id uuid.UUID, firedAt *time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryRetireAlarm, id, firedAt)
	if err != nil {
		return errors.Wrap(err, "retire alarm")
	}
	return expectRow(result)
}

func expectRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlarmNotFound
	}
	return nil
}

func weekdayArray(s domain.WeekdaySet) pq.Int64Array {
	out := make(pq.Int64Array, len(s))
	for i, w := range s {
		out[i] = int64(w)
	}
	return out
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullDate(d *domain.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// isDuplicateKeyError reports a PostgreSQL unique violation (23505).
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
