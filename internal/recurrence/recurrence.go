// Package recurrence parses repeat phrases into rules, advances recurring
// reminders and describes rules for confirmations.
package recurrence

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/notexe/remindme/internal/reminder"
)

// Parsed is the outcome of parsing a recurrence phrase.
type Parsed struct {
	Kind    reminder.RecurrenceKind
	Pattern reminder.RecurrencePattern
	EndDate *time.Time
}

const weekdayAlt = `monday|tuesday|wednesday|thursday|friday|saturday|sunday`

var weekdayIndex = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var (
	weekdayName  = regexp.MustCompile(`\b(` + weekdayAlt + `)s?\b`)
	dailyRe      = regexp.MustCompile(`\b(every\s*day|each\s+day|daily)\b`)
	weeklyRe     = regexp.MustCompile(`\b(every\s+week|each\s+week|weekly)\b`)
	monthlyRe    = regexp.MustCompile(`\b(every\s+month|each\s+month|monthly)\b`)
	yearlyRe     = regexp.MustCompile(`\b(every\s+year|each\s+year|yearly|annually)\b`)
	everyNRe     = regexp.MustCompile(`\bevery\s+(\d+)\s+(day|week|month|year)s?\b`)
	everyOtherRe = regexp.MustCompile(`\bevery\s+(?:other|second)\s+(day|week|month|year|` + weekdayAlt + `)\b`)
	weekdaysRe   = regexp.MustCompile(`\bevery\s+weekday\b|\bon\s+weekdays\b`)
	everyDayRe   = regexp.MustCompile(`\bevery\s+(` + weekdayAlt + `)\b`)
	untilRe      = regexp.MustCompile(`\buntil\s+(.+)$`)
	repeatCueRe  = regexp.MustCompile(`\b(every|each|daily|weekly|monthly|yearly|annually|weekdays)\b`)
)

// HasRepeatCue reports whether text contains a word that signals a
// repeating event. Weekday names alone do not count.
func HasRepeatCue(text string) bool {
	return repeatCueRe.MatchString(strings.ToLower(text))
}

// Parse extracts a recurrence rule from free text, or returns nil when the
// text does not describe a repeating event. The first matching form wins.
func Parse(text string, now time.Time) *Parsed {
	lower := strings.ToLower(text)
	body := lower
	if loc := untilRe.FindStringIndex(lower); loc != nil {
		body = lower[:loc[0]]
	}

	p := parseBody(body)
	if p == nil {
		return nil
	}
	p.EndDate = ParseUntil(lower, now)
	return p
}

func parseBody(body string) *Parsed {
	if days := distinctWeekdays(body); len(days) >= 2 {
		return &Parsed{
			Kind:    reminder.RecurrenceWeekly,
			Pattern: reminder.RecurrencePattern{Frequency: reminder.FrequencyWeek, Interval: 1, DaysOfWeek: days},
		}
	}

	switch {
	case dailyRe.MatchString(body):
		return simple(reminder.RecurrenceDaily)
	case weeklyRe.MatchString(body):
		return simple(reminder.RecurrenceWeekly)
	case monthlyRe.MatchString(body):
		return simple(reminder.RecurrenceMonthly)
	}

	if m := everyNRe.FindStringSubmatch(body); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			n = 1
		}
		return &Parsed{
			Kind:    reminder.RecurrenceCustom,
			Pattern: reminder.RecurrencePattern{Frequency: reminder.Frequency(m[2]), Interval: n},
		}
	}

	if m := everyOtherRe.FindStringSubmatch(body); m != nil {
		p := reminder.RecurrencePattern{Interval: 2}
		if wd, ok := weekdayIndex[m[1]]; ok {
			day := int(wd)
			p.Frequency = reminder.FrequencyWeek
			p.DayOfWeek = &day
		} else {
			p.Frequency = reminder.Frequency(m[1])
		}
		return &Parsed{Kind: reminder.RecurrenceCustom, Pattern: p}
	}

	if weekdaysRe.MatchString(body) {
		return &Parsed{
			Kind: reminder.RecurrenceWeekly,
			Pattern: reminder.RecurrencePattern{
				Frequency:  reminder.FrequencyWeek,
				Interval:   1,
				DaysOfWeek: []int{1, 2, 3, 4, 5},
			},
		}
	}

	if m := everyDayRe.FindStringSubmatch(body); m != nil {
		day := int(weekdayIndex[m[1]])
		return &Parsed{
			Kind:    reminder.RecurrenceWeekly,
			Pattern: reminder.RecurrencePattern{Frequency: reminder.FrequencyWeek, Interval: 1, DayOfWeek: &day},
		}
	}

	if yearlyRe.MatchString(body) {
		return &Parsed{
			Kind:    reminder.RecurrenceCustom,
			Pattern: reminder.RecurrencePattern{Frequency: reminder.FrequencyYear, Interval: 1},
		}
	}

	return nil
}

func simple(kind reminder.RecurrenceKind) *Parsed {
	return &Parsed{Kind: kind, Pattern: *KindPattern(kind)}
}

func distinctWeekdays(text string) []int {
	seen := map[int]bool{}
	var days []int
	for _, m := range weekdayName.FindAllStringSubmatch(text, -1) {
		d := int(weekdayIndex[m[1]])
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days
}

// KindPattern maps a simple recurrence kind to its rule. It returns nil for
// none and custom, which carry no implied rule.
func KindPattern(kind reminder.RecurrenceKind) *reminder.RecurrencePattern {
	switch kind {
	case reminder.RecurrenceDaily:
		return &reminder.RecurrencePattern{Frequency: reminder.FrequencyDay, Interval: 1}
	case reminder.RecurrenceWeekly:
		return &reminder.RecurrencePattern{Frequency: reminder.FrequencyWeek, Interval: 1}
	case reminder.RecurrenceMonthly:
		return &reminder.RecurrencePattern{Frequency: reminder.FrequencyMonth, Interval: 1}
	}
	return nil
}

// Next computes the occurrence after base. The boolean is false when the
// rule is unusable or the next occurrence is not before end.
func Next(base time.Time, p reminder.RecurrencePattern, end *time.Time) (time.Time, bool) {
	interval := p.Interval
	if interval < 1 {
		interval = 1
	}

	var next time.Time
	switch p.Frequency {
	case reminder.FrequencyDay:
		next = base.AddDate(0, 0, interval)
	case reminder.FrequencyWeek:
		next = nextWeekly(base, p, interval)
	case reminder.FrequencyMonth:
		next = addMonths(base, interval, p.DayOfMonth)
	case reminder.FrequencyYear:
		next = addMonths(base, 12*interval, nil)
	default:
		return time.Time{}, false
	}

	if end != nil && !next.Before(*end) {
		return time.Time{}, false
	}
	return next, true
}

func nextWeekly(base time.Time, p reminder.RecurrencePattern, interval int) time.Time {
	current := int(base.Weekday())

	switch {
	case len(p.DaysOfWeek) > 0:
		days := append([]int(nil), p.DaysOfWeek...)
		sort.Ints(days)
		for _, d := range days {
			if d > current {
				return base.AddDate(0, 0, d-current)
			}
		}
		// Wrap to the first day of the set in the next active week.
		return base.AddDate(0, 0, 7-current+days[0]+7*(interval-1))

	case p.DayOfWeek != nil:
		next := base.AddDate(0, 0, 7*interval)
		shift := (*p.DayOfWeek - int(next.Weekday()) + 7) % 7
		return next.AddDate(0, 0, shift)
	}

	return base.AddDate(0, 0, 7*interval)
}

// addMonths advances by n months keeping the time of day. The day is
// dayOfMonth when set, else base's day, clamped to the target month.
func addMonths(base time.Time, n int, dayOfMonth *int) time.Time {
	first := time.Date(base.Year(), base.Month()+time.Month(n), 1,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())

	day := base.Day()
	if dayOfMonth != nil && *dayOfMonth > 0 {
		day = *dayOfMonth
	}
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// Align moves start forward onto the first day the rule allows, so a
// "every Monday" reminder created on a Friday first fires on Monday.
func Align(start time.Time, p reminder.RecurrencePattern) time.Time {
	if p.Frequency != reminder.FrequencyWeek {
		return start
	}
	current := int(start.Weekday())

	switch {
	case len(p.DaysOfWeek) > 0:
		best := 7
		for _, d := range p.DaysOfWeek {
			if diff := (d - current + 7) % 7; diff < best {
				best = diff
			}
		}
		return start.AddDate(0, 0, best)
	case p.DayOfWeek != nil:
		return start.AddDate(0, 0, (*p.DayOfWeek-current+7)%7)
	}
	return start
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
