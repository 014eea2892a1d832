// Package timeparse turns the date and time fragments of a structured
// intent into a single instant in the user's timezone.
package timeparse

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/notexe/remindme/internal/reminder"
)

// DefaultTimeReferences are the named times of day used when a user has
// not defined their own.
var DefaultTimeReferences = map[string]reminder.TimeOfDay{
	"morning":   {Hour: 9},
	"afternoon": {Hour: 14},
	"evening":   {Hour: 18},
	"night":     {Hour: 20},
	"noon":      {Hour: 12},
	"midnight":  {Hour: 0},
	"lunch":     {Hour: 12, Minute: 30},
	"dinner":    {Hour: 19},
	"breakfast": {Hour: 8},
}

// DefaultReference is applied when a request carries no time information.
const DefaultReference = "morning"

// DateParseError reports an unparseable or invalid date or time. Message
// is safe to show to the user.
type DateParseError struct {
	Input   string
	Message string
}

func (e *DateParseError) Error() string {
	return e.Message
}

// RelativeTime is an offset from now in minutes or hours.
type RelativeTime struct {
	Unit   string `json:"unit"`
	Amount int    `json:"amount"`
}

// Request holds the time fragments of an intent. Empty strings mean absent.
type Request struct {
	Date          string
	Time          string
	TimeReference string
	RelativeTime  *RelativeTime
}

// HasTime reports whether the request carries any time-of-day information.
func (r Request) HasTime() bool {
	return r.Time != "" || r.TimeReference != "" || (r.RelativeTime != nil && r.RelativeTime.Amount > 0) ||
		relativePhrase.MatchString(strings.ToLower(r.Date))
}

var relativePhrase = regexp.MustCompile(`\bin\s+(\d+|an?)\s+(minutes?|mins?|hours?|hrs?)\b`)

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger used for degraded-mode warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolver resolves date and time phrases against a clock.
type Resolver struct {
	now    func() time.Time
	logger *slog.Logger
	rules  []dateRule
}

// NewResolver creates a Resolver with the standard rule set.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		rules:  dateRules,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the resolver's current time in the given timezone.
func (r *Resolver) Now(timezone string) time.Time {
	return r.now().In(r.Location(timezone))
}

// Location loads the IANA zone, falling back to the process's local zone
// with a warning when the name is empty or unknown.
func (r *Resolver) Location(timezone string) *time.Location {
	loc, ok := Location(timezone)
	if !ok {
		r.logger.Warn("timezone unavailable, using local time", "timezone", timezone)
	}
	return loc
}

// Location loads the IANA zone. The boolean is false when the zone could
// not be loaded and time.Local was returned instead.
func Location(timezone string) (*time.Location, bool) {
	if timezone == "" {
		return time.Local, false
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Local, false
	}
	return loc, true
}

// Resolve produces one instant from the request.
func (r *Resolver) Resolve(req Request, prefs map[string]reminder.TimeOfDay, timezone string) (time.Time, error) {
	loc := r.Location(timezone)
	now := r.now().In(loc)

	if rt := req.RelativeTime; rt != nil && rt.Amount > 0 {
		if d, ok := relativeDuration(strings.ToLower(rt.Unit), rt.Amount); ok {
			return now.Add(d), nil
		}
	}

	res, err := r.resolveDate(req.Date, now)
	if err != nil {
		return time.Time{}, err
	}
	if res.instant {
		return res.date, nil
	}

	ref := req.TimeReference
	if ref == "" && req.Time == "" && strings.Contains(strings.ToLower(req.Date), "tonight") {
		ref = "night"
	}
	clock, err := resolveClock(req.Time, ref, prefs)
	if err != nil {
		return time.Time{}, err
	}

	t := time.Date(res.date.Year(), res.date.Month(), res.date.Day(), clock.Hour, clock.Minute, 0, 0, loc)
	if t.Before(now) && sameDate(t, now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// ResolveDate applies the date rules alone and returns the start of the
// resolved day.
func (r *Resolver) ResolveDate(date, timezone string) (time.Time, error) {
	now := r.Now(timezone)
	res, err := r.resolveDate(date, now)
	if err != nil {
		return time.Time{}, err
	}
	return startOfDay(res.date), nil
}

func (r *Resolver) resolveDate(date string, now time.Time) (dateResult, error) {
	text := strings.ToLower(strings.TrimSpace(date))
	if text != "" {
		for _, rule := range r.rules {
			m := rule.pattern.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			return rule.build(m, now)
		}
	}
	return dateResult{date: startOfDay(now)}, nil
}

var (
	clock24 = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::\d{2})?$`)
	clock12 = regexp.MustCompile(`^(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?$`)
)

// resolveClock picks the time of day: explicit clock first, then the named
// reference, then the default reference.
func resolveClock(timeStr, ref string, prefs map[string]reminder.TimeOfDay) (reminder.TimeOfDay, error) {
	timeStr = strings.ToLower(strings.TrimSpace(timeStr))
	if timeStr != "" {
		if tod, ok, err := parseClock(timeStr); ok || err != nil {
			return tod, err
		}
		// Named references sometimes arrive in the time field.
		if tod, ok := LookupReference(timeStr, prefs); ok {
			return tod, nil
		}
		if ref == "" {
			return reminder.TimeOfDay{}, unknownReference(timeStr)
		}
	}

	if ref = strings.TrimSpace(ref); ref != "" {
		tod, ok := LookupReference(ref, prefs)
		if !ok {
			return reminder.TimeOfDay{}, unknownReference(ref)
		}
		return tod, nil
	}

	tod, _ := LookupReference(DefaultReference, prefs)
	return tod, nil
}

// ParseClock parses "17:30", "5pm" or "5:30 pm" into a time of day.
func ParseClock(text string) (reminder.TimeOfDay, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	tod, ok, err := parseClock(text)
	if err != nil {
		return reminder.TimeOfDay{}, err
	}
	if !ok {
		return reminder.TimeOfDay{}, &DateParseError{
			Input:   text,
			Message: fmt.Sprintf("I couldn't read %q as a time. Try something like 7:30, 19:30 or 7:30pm.", text),
		}
	}
	return tod, nil
}

func parseClock(text string) (reminder.TimeOfDay, bool, error) {
	if m := clock24.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		tod, err := checkClock(text, h, mins)
		return tod, true, err
	}

	if m := clock12.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins := 0
		if m[2] != "" {
			mins, _ = strconv.Atoi(m[2])
		}
		switch strings.ReplaceAll(m[3], ".", "") {
		case "am":
			if h == 12 {
				h = 0
			}
		case "pm":
			if h < 12 {
				h += 12
			}
		}
		tod, err := checkClock(text, h, mins)
		return tod, true, err
	}

	return reminder.TimeOfDay{}, false, nil
}

func checkClock(input string, h, m int) (reminder.TimeOfDay, error) {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return reminder.TimeOfDay{}, &DateParseError{
			Input:   input,
			Message: fmt.Sprintf("%q is not a valid time. Hours go from 0 to 23 and minutes from 0 to 59.", input),
		}
	}
	return reminder.TimeOfDay{Hour: h, Minute: m}, nil
}

// LookupReference resolves a named time of day, checking the user's own
// preferences before the defaults.
func LookupReference(name string, prefs map[string]reminder.TimeOfDay) (reminder.TimeOfDay, bool) {
	key := NormalizeReference(name)
	if tod, ok := prefs[key]; ok {
		return tod, true
	}
	tod, ok := DefaultTimeReferences[key]
	return tod, ok
}

// NormalizeReference lower-cases a reference and strips filler words such
// as "in the" or "at".
func NormalizeReference(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range []string{"in the ", "at ", "the ", "this ", "before ", "after "} {
		key = strings.TrimPrefix(key, prefix)
	}
	return strings.TrimSpace(key)
}

func unknownReference(name string) error {
	return &DateParseError{
		Input: name,
		Message: fmt.Sprintf("I don't recognise %q as a time. Try a clock time like 3pm or 15:00, "+
			"or a time of day such as morning, afternoon, evening or night.", name),
	}
}

// FormatWhen renders an instant for user-facing messages, e.g.
// "Tuesday, June 3 at 5:00 PM".
func FormatWhen(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("Monday, January 2 at 3:04 PM")
}

var bareWeekday = regexp.MustCompile(`^(?:on\s+)?(` + weekdayPattern + `)$`)

// IsBareWeekday reports whether date is a weekday name with no "this" or
// "next" qualifier, returning the weekday.
func IsBareWeekday(date string) (time.Weekday, bool) {
	m := bareWeekday.FindStringSubmatch(strings.ToLower(strings.TrimSpace(date)))
	if m == nil {
		return 0, false
	}
	return weekdays[m[1]], true
}
