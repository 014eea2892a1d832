// Package intent defines the structured intent union produced from user
// messages and the single place where upstream payloads are normalised.
package intent

import (
	"fmt"

	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
)

// Type discriminates the intent union.
type Type string

const (
	TypeReminder           Type = "reminder"
	TypeIncompleteReminder Type = "incomplete_reminder"
	TypeReminderDatetime   Type = "reminder_datetime"
	TypeReminderContent    Type = "reminder_content"
	TypeUnclearDatetime    Type = "unclear_datetime"
	TypeNotReminder        Type = "not_reminder"
	TypeListReminders      Type = "list_reminders"
	TypeDeleteReminder     Type = "delete_reminder"
	TypeUpdateReminder     Type = "update_reminder"
	TypePreference         Type = "preference"
	TypeConfirmation       Type = "confirmation"
	TypeSelection          Type = "selection"
	TypeUnclearSelection   Type = "unclear_selection"
	TypeDateClarification  Type = "date_clarification"
)

// Types lists every intent type the assistant understands.
var Types = []Type{
	TypeReminder, TypeIncompleteReminder, TypeReminderDatetime, TypeReminderContent,
	TypeUnclearDatetime, TypeNotReminder, TypeListReminders, TypeDeleteReminder,
	TypeUpdateReminder, TypePreference, TypeConfirmation, TypeSelection,
	TypeUnclearSelection, TypeDateClarification,
}

// Known reports whether t is one of the fixed intent types.
func Known(t Type) bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// List filters.
const (
	FilterAll     = "all"
	FilterToday   = "today"
	FilterWeek    = "week"
	FilterContent = "content"
)

// Preference actions.
const (
	ActionGet = "get"
	ActionSet = "set"
)

// Date clarification options.
const (
	OptionToday    = "today"
	OptionNextWeek = "next_week"
)

// Intent is a normalised structured intent. Absent values are zero.
type Intent struct {
	Type Type

	Content       string
	Date          string
	Time          string
	TimeReference string
	RelativeTime  *timeparse.RelativeTime
	Missing       []string

	// Recurrence is empty when the payload did not say, and
	// RecurrenceNone when it said the reminder happens once.
	Recurrence reminder.RecurrenceKind
	Pattern    *reminder.RecurrencePattern
	EndDate    string

	Filter     string
	Query      string
	ReminderID int64
	Updates    reminder.Updates

	Action          string
	PreferenceKey   string
	PreferenceValue string

	Confirmed *bool
	Selection int
	Option    string

	// Reply is an optional conversational answer for not_reminder.
	Reply string

	// Original is the user text the intent was extracted from.
	Original string
	// Fallback is set when the intent came from the keyword heuristic
	// rather than a parsed payload.
	Fallback bool
}

// TimeRequest returns the time fragments as a resolver request.
func (i Intent) TimeRequest() timeparse.Request {
	return timeparse.Request{
		Date:          i.Date,
		Time:          i.Time,
		TimeReference: i.TimeReference,
		RelativeTime:  i.RelativeTime,
	}
}

// Recurring reports whether the intent asks for a repeating reminder.
func (i Intent) Recurring() bool {
	return i.Recurrence != "" && i.Recurrence != reminder.RecurrenceNone
}

// UpstreamParseFailure reports a structured-intent payload that was not
// valid JSON or had no recognisable shape.
type UpstreamParseFailure struct {
	Raw string
	Err error
}

func (e *UpstreamParseFailure) Error() string {
	return fmt.Sprintf("failed to parse intent payload: %v", e.Err)
}

func (e *UpstreamParseFailure) Unwrap() error {
	return e.Err
}
