// Package validate checks reminder content and schedule times before a
// reminder is created.
package validate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
)

const (
	GracePeriod      = 5 * time.Minute
	ConflictBuffer   = 15 * time.Minute
	DefaultDuration  = 30 * time.Minute
	MaxContentLength = 500
)

// Content rejection reasons.
const (
	ReasonEmptyContent   = "empty_content"
	ReasonTimeReference  = "content_is_time_reference"
	ReasonContentTooLong = "content_too_long"
	ReasonDateInPast     = "date_in_past"
)

// ValidationError is a content or scheduling constraint violation. Message
// is safe to show to the user.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// RangeFinder looks up a user's non-cancelled reminders in a time range.
type RangeFinder interface {
	FindInRange(ctx context.Context, phone string, from, to time.Time) ([]reminder.Reminder, error)
}

// Validator applies the date and conflict rules against a clock.
type Validator struct {
	finder RangeFinder
	now    func() time.Time
}

// New creates a Validator. now may be nil to use the wall clock.
func New(finder RangeFinder, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{finder: finder, now: now}
}

// DateResult is the outcome of ValidateDate.
type DateResult struct {
	Valid      bool
	Adjusted   bool
	Date       time.Time
	Message    string
	Suggestion *time.Time
}

// Err returns the violation as a ValidationError, or nil when valid.
func (r DateResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Reason: ReasonDateInPast, Message: r.Message}
}

// ValidateDate accepts future instants unchanged and snaps instants that
// passed less than GracePeriod ago to one minute from now. Older instants
// are rejected with a suggested alternative at the same time of day.
func (v *Validator) ValidateDate(t time.Time, loc *time.Location) DateResult {
	if loc == nil {
		loc = time.Local
	}
	now := v.now().In(loc)
	t = t.In(loc)

	if !t.Before(now) {
		return DateResult{Valid: true, Date: t}
	}

	if now.Sub(t) <= GracePeriod {
		return DateResult{
			Valid:    true,
			Adjusted: true,
			Date:     now.Add(time.Minute).Truncate(time.Second),
			Message:  "That time just passed, so I've set it for one minute from now.",
		}
	}

	var suggestion time.Time
	if sameDate(t, now) {
		suggestion = t.AddDate(0, 0, 1)
	} else {
		suggestion = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if suggestion.Before(now) {
			suggestion = suggestion.AddDate(0, 0, 1)
		}
	}

	return DateResult{
		Valid: false,
		Date:  t,
		Message: fmt.Sprintf("%s is in the past. Would you like me to set it for %s instead?",
			timeparse.FormatWhen(t, loc), timeparse.FormatWhen(suggestion, loc)),
		Suggestion: &suggestion,
	}
}

// ContentResult is the outcome of ValidateContent.
type ContentResult struct {
	Valid   bool
	Message string
	Reason  string
}

// Err returns the violation as a ValidationError, or nil when valid.
func (r ContentResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Reason: r.Reason, Message: r.Message}
}

var timeReferenceWords = map[string]bool{
	"morning": true, "afternoon": true, "evening": true, "night": true,
	"tonight": true, "noon": true, "midnight": true, "lunch": true,
	"dinner": true, "breakfast": true, "lunchtime": true, "dinnertime": true,
	"bedtime": true, "today": true, "tomorrow": true, "later": true,
	"soon": true, "this morning": true, "this afternoon": true,
	"this evening": true, "in the morning": true, "in the afternoon": true,
	"in the evening": true, "at night": true, "at noon": true,
}

// ValidateContent rejects empty text, text that is only a time reference
// and text longer than MaxContentLength characters.
func ValidateContent(text string) ContentResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ContentResult{
			Reason:  ReasonEmptyContent,
			Message: "I need to know what to remind you about. What should the reminder say?",
		}
	}

	if IsTimeReference(trimmed) {
		return ContentResult{
			Reason:  ReasonTimeReference,
			Message: "Got the time. What would you like me to remind you about?",
		}
	}

	if n := utf8.RuneCountInString(trimmed); n > MaxContentLength {
		return ContentResult{
			Reason: ReasonContentTooLong,
			Message: fmt.Sprintf("That reminder is %d characters long. Please shorten it to %d characters or fewer.",
				n, MaxContentLength),
		}
	}

	return ContentResult{Valid: true}
}

// IsTimeReference reports whether text is exactly a bare time-of-day word
// or phrase, optionally prefixed with "today" or "tomorrow".
func IsTimeReference(text string) bool {
	key := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	key = strings.TrimRight(key, ".!?")
	if timeReferenceWords[key] {
		return true
	}
	for _, prefix := range []string{"today ", "tomorrow "} {
		if rest, ok := strings.CutPrefix(key, prefix); ok && timeReferenceWords[rest] {
			return true
		}
	}
	return false
}

// ConflictResult reports reminders that collide with a candidate time.
// A conflict is a decision point for the caller, not an error.
type ConflictResult struct {
	HasConflict bool
	Conflicts   []reminder.Reminder
	Message     string
}

// ConflictIDs returns the IDs of the colliding reminders.
func (r ConflictResult) ConflictIDs() []int64 {
	ids := make([]int64, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		ids = append(ids, c.ID)
	}
	return ids
}

// CheckConflicts looks for reminders within
// [t - ConflictBuffer, t + duration + ConflictBuffer]. Reminders whose ID
// is in exclude are ignored.
func (v *Validator) CheckConflicts(ctx context.Context, phone string, t time.Time, duration time.Duration, loc *time.Location, exclude ...int64) (ConflictResult, error) {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if loc == nil {
		loc = time.Local
	}

	from := t.Add(-ConflictBuffer)
	to := t.Add(duration + ConflictBuffer)
	found, err := v.finder.FindInRange(ctx, phone, from, to)
	if err != nil {
		return ConflictResult{}, fmt.Errorf("failed to check conflicts: %w", err)
	}

	var conflicts []reminder.Reminder
	for _, r := range found {
		if r.Status == reminder.StatusCancelled || slices.Contains(exclude, r.ID) {
			continue
		}
		conflicts = append(conflicts, r)
	}

	switch len(conflicts) {
	case 0:
		return ConflictResult{}, nil
	case 1:
		c := conflicts[0]
		return ConflictResult{
			HasConflict: true,
			Conflicts:   conflicts,
			Message: fmt.Sprintf("You already have a reminder to %q on %s. Do you still want to schedule this one?",
				c.Content, timeparse.FormatWhen(c.ScheduledFor, loc)),
		}, nil
	}
	return ConflictResult{
		HasConflict: true,
		Conflicts:   conflicts,
		Message:     fmt.Sprintf("You already have %d reminders around that time. Do you still want to schedule this one?", len(conflicts)),
	}, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
