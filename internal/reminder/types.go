package reminder

import (
	"errors"
	"fmt"
	"time"
)

// Status values for reminders.
const (
	StatusPending      = "pending"
	StatusSent         = "sent"
	StatusAcknowledged = "acknowledged"
	StatusCancelled    = "cancelled"
)

// Notification channels.
const (
	ChannelChat  = "chat"
	ChannelVoice = "voice"
	ChannelBoth  = "both"
)

// RecurrenceKind is the coarse recurrence classification stored on a reminder.
type RecurrenceKind string

const (
	RecurrenceNone    RecurrenceKind = "none"
	RecurrenceDaily   RecurrenceKind = "daily"
	RecurrenceWeekly  RecurrenceKind = "weekly"
	RecurrenceMonthly RecurrenceKind = "monthly"
	RecurrenceCustom  RecurrenceKind = "custom"
)

// Frequency is the unit a recurrence interval is counted in.
type Frequency string

const (
	FrequencyDay   Frequency = "day"
	FrequencyWeek  Frequency = "week"
	FrequencyMonth Frequency = "month"
	FrequencyYear  Frequency = "year"
)

// RecurrencePattern describes how a reminder repeats. Weekdays use
// time.Weekday numbering (0 = Sunday).
type RecurrencePattern struct {
	Frequency   Frequency `json:"frequency"`
	Interval    int       `json:"interval"`
	DayOfWeek   *int      `json:"dayOfWeek,omitempty"`
	DaysOfWeek  []int     `json:"daysOfWeek,omitempty"`
	DayOfMonth  *int      `json:"dayOfMonth,omitempty"`
	MonthOfYear *int      `json:"monthOfYear,omitempty"`
}

// Reminder represents a scheduled reminder owned by a user.
type Reminder struct {
	ID               int64              `json:"id"`
	UserPhone        string             `json:"user_phone"`
	Content          string             `json:"content"`
	ScheduledFor     time.Time          `json:"scheduled_for"`
	Recurrence       RecurrenceKind     `json:"recurrence"`
	Pattern          *RecurrencePattern `json:"pattern,omitempty"`
	EndDate          *time.Time         `json:"end_date,omitempty"`
	Status           string             `json:"status"`
	Channel          string             `json:"channel"`
	SeriesOrigin     int64              `json:"series_origin,omitempty"`
	PreviousInstance int64              `json:"previous_instance,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// IsRecurring reports whether the reminder spawns further instances.
func (r *Reminder) IsRecurring() bool {
	return r.Recurrence != "" && r.Recurrence != RecurrenceNone && r.Pattern != nil
}

// TimeOfDay is a wall-clock hour and minute.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// User is identified by phone number and owns the conversation state.
type User struct {
	Phone           string               `json:"phone"`
	Timezone        string               `json:"timezone"`
	Channel         string               `json:"channel"`
	TimePreferences map[string]TimeOfDay `json:"time_preferences,omitempty"`
	State           State                `json:"-"`
	LastInteraction time.Time            `json:"last_interaction"`
}

// ErrNotFound is returned when a reminder or user does not exist.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// validTransition enforces the monotonic status lifecycle:
// pending -> sent -> acknowledged, with cancelled reachable from any
// non-terminal status.
func validTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusSent || to == StatusAcknowledged || to == StatusCancelled
	case StatusSent:
		return to == StatusAcknowledged || to == StatusCancelled
	case StatusAcknowledged, StatusCancelled:
		return false
	}
	return false
}
