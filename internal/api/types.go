package api

import (
	"time"

	"github.com/djlord-it/easy-alarm/internal/domain"
)

type CreateAlarmRequest struct {
	Title      string  `json:"title" validate:"max=200"`
	Kind       string  `json:"kind" validate:"required,oneof=recurring one_shot"`
	TimeOfDay  string  `json:"time_of_day" validate:"required"`
	Repeats    bool    `json:"repeats"`
	Weekdays   []int   `json:"weekdays,omitempty" validate:"omitempty,max=7,dive,min=0,max=6"`
	TargetDate *string `json:"target_date,omitempty"`
	ReminderID *string `json:"reminder_id,omitempty" validate:"omitempty,uuid"`
	ScheduleID *string `json:"schedule_id,omitempty" validate:"omitempty,uuid"`
}

// UpdateAlarmRequest is a partial update; absent fields keep their value.
type UpdateAlarmRequest struct {
	Title      *string `json:"title,omitempty" validate:"omitempty,max=200"`
	TimeOfDay  *string `json:"time_of_day,omitempty"`
	Repeats    *bool   `json:"repeats,omitempty"`
	Weekdays   *[]int  `json:"weekdays,omitempty" validate:"omitempty,max=7,dive,min=0,max=6"`
	Active     *bool   `json:"active,omitempty"`
	TargetDate *string `json:"target_date,omitempty"`
}

type AlarmResponse struct {
	ID              string  `json:"id"`
	OwnerID         string  `json:"owner_id"`
	Title           string  `json:"title"`
	Kind            string  `json:"kind"`
	TimeOfDay       string  `json:"time_of_day"`
	Repeats         bool    `json:"repeats"`
	Weekdays        []int   `json:"weekdays"`
	Active          bool    `json:"active"`
	ReminderID      *string `json:"reminder_id,omitempty"`
	ScheduleID      *string `json:"schedule_id,omitempty"`
	TargetDate      *string `json:"target_date,omitempty"`
	NextTriggerAt   *string `json:"next_trigger_at"`
	LastTriggeredAt *string `json:"last_triggered_at"`
	TriggerCount    int     `json:"trigger_count"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type ListAlarmsResponse struct {
	Alarms []AlarmResponse `json:"alarms"`
}

type HistoryResponse struct {
	Entries []domain.HistoryEntry `json:"entries"`
}

type StreamTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type FailedJobResponse struct {
	Key        string `json:"key"`
	Payload    any    `json:"payload"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	FinishedAt string `json:"finished_at"`
}

type ListFailedJobsResponse struct {
	Jobs []FailedJobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toAlarmResponse(a domain.Alarm) AlarmResponse {
	resp := AlarmResponse{
		ID:              a.ID.String(),
		OwnerID:         a.OwnerID,
		Title:           a.Title,
		Kind:            string(a.Kind),
		TimeOfDay:       a.TimeOfDay.String(),
		Repeats:         a.Repeats,
		Weekdays:        a.Weekdays.Ints(),
		Active:          a.Active,
		NextTriggerAt:   formatTimePtr(a.NextTriggerAt),
		LastTriggeredAt: formatTimePtr(a.LastTriggeredAt),
		TriggerCount:    a.TriggerCount,
		CreatedAt:       formatTime(a.CreatedAt),
		UpdatedAt:       formatTime(a.UpdatedAt),
	}
	if a.ReminderID != nil {
		s := a.ReminderID.String()
		resp.ReminderID = &s
	}
	if a.ScheduleID != nil {
		s := a.ScheduleID.String()
		resp.ScheduleID = &s
	}
	if a.TargetDate != nil {
		s := a.TargetDate.String()
		resp.TargetDate = &s
	}
	return resp
}
