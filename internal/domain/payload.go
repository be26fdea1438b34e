package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationPayload is published to live sessions when an alarm fires.
// Built fresh on every fire; never mutated afterwards.
type NotificationPayload struct {
	AlarmID    string `json:"alarm_id"`
	OwnerID    string `json:"owner_id"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	ReminderID string `json:"reminder_id,omitempty"`
	ScheduleID string `json:"schedule_id,omitempty"`
	FiredAt    string `json:"fired_at"`
	Kind       Kind   `json:"kind"`
}

// HistoryEntry is one element of an owner's bounded recent-history list.
type HistoryEntry struct {
	Payload NotificationPayload `json:"payload"`
	FiredAt time.Time           `json:"fired_at"`
}

// JobPayload is the body of a delayed job. The pipeline always re-reads the
// alarm row; the owner id is carried for operator inspection only.
type JobPayload struct {
	AlarmID uuid.UUID `json:"alarm_id"`
	Kind    Kind      `json:"kind"`
	OwnerID string    `json:"owner_id"`
}

// JobKey is the deduplication key of an alarm's delayed job.
func JobKey(kind Kind, alarmID uuid.UUID) string {
	return string(kind) + ":" + alarmID.String()
}
