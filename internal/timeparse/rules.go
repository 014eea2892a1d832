package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const weekdayPattern = `monday|tuesday|wednesday|thursday|friday|saturday|sunday`

// Longest alternatives first so "sept" wins over "sep".
const monthPattern = `january|february|march|april|may|june|july|august|september|october|november|december|sept|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// dateResult is what a rule produces. When instant is set the value
// already carries its time of day and bypasses clock resolution.
type dateResult struct {
	date    time.Time
	instant bool
}

type dateRule struct {
	name    string
	pattern *regexp.Regexp
	build   func(m []string, now time.Time) (dateResult, error)
}

// dateRules are tried in order against the lower-cased date phrase; the
// first rule whose pattern matches decides the result.
var dateRules = []dateRule{
	{
		name:    "relative-minutes-hours",
		pattern: regexp.MustCompile(`\bin\s+(\d+|an?)\s+(minutes?|mins?|hours?|hrs?)\b`),
		build: func(m []string, now time.Time) (dateResult, error) {
			d, _ := relativeDuration(m[2], parseAmount(m[1]))
			return dateResult{date: now.Add(d), instant: true}, nil
		},
	},
	{
		name:    "iso-date",
		pattern: regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`),
		build: func(m []string, now time.Time) (dateResult, error) {
			year, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			day, _ := strconv.Atoi(m[3])
			if month < 1 || month > 12 {
				return dateResult{}, &DateParseError{
					Input:   m[0],
					Message: fmt.Sprintf("Invalid date %s: the month must be between 1 and 12.", m[0]),
				}
			}
			if err := checkDay(m[0], year, time.Month(month), day); err != nil {
				return dateResult{}, err
			}
			return dateResult{date: dateIn(year, time.Month(month), day, now.Location())}, nil
		},
	},
	{
		name:    "relative-day",
		pattern: regexp.MustCompile(`\b(day after tomorrow|tomorrow|today|tonight)\b`),
		build: func(m []string, now time.Time) (dateResult, error) {
			offset := 0
			switch m[1] {
			case "tomorrow":
				offset = 1
			case "day after tomorrow":
				offset = 2
			}
			return dateResult{date: startOfDay(now).AddDate(0, 0, offset)}, nil
		},
	},
	{
		name:    "next",
		pattern: regexp.MustCompile(`\bnext\s+(` + weekdayPattern + `|week|month)\b`),
		build: func(m []string, now time.Time) (dateResult, error) {
			today := startOfDay(now)
			switch m[1] {
			case "week":
				return dateResult{date: today.AddDate(0, 0, 7)}, nil
			case "month":
				return dateResult{date: addMonthsClamped(today, 1)}, nil
			}
			return dateResult{date: nextWeekday(today, weekdays[m[1]])}, nil
		},
	},
	{
		name:    "in-n-units",
		pattern: regexp.MustCompile(`\bin\s+(\d+|an?)\s+(days?|weeks?|months?|minutes?|hours?)\b`),
		build: func(m []string, now time.Time) (dateResult, error) {
			n := parseAmount(m[1])
			today := startOfDay(now)
			switch strings.TrimSuffix(m[2], "s") {
			case "day":
				return dateResult{date: today.AddDate(0, 0, n)}, nil
			case "week":
				return dateResult{date: today.AddDate(0, 0, 7*n)}, nil
			case "month":
				return dateResult{date: addMonthsClamped(today, n)}, nil
			}
			d, _ := relativeDuration(m[2], n)
			return dateResult{date: now.Add(d), instant: true}, nil
		},
	},
	{
		name:    "this-weekday",
		pattern: regexp.MustCompile(`\bthis\s+(` + weekdayPattern + `)\b`),
		build: func(m []string, now time.Time) (dateResult, error) {
			return dateResult{date: thisWeekday(startOfDay(now), weekdays[m[1]])}, nil
		},
	},
	{
		name:    "bare-weekday",
		pattern: regexp.MustCompile(`\b(` + weekdayPattern + `)s?\b`),
		build: func(m []string, now time.Time) (dateResult, error) {
			return dateResult{date: thisWeekday(startOfDay(now), weekdays[m[1]])}, nil
		},
	},
	{
		name:    "month-day",
		pattern: regexp.MustCompile(`\b(` + monthPattern + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4}))?`),
		build: func(m []string, now time.Time) (dateResult, error) {
			return monthDay(m[0], months[m[1]], m[2], m[3], now)
		},
	},
	{
		name:    "day-month",
		pattern: regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthPattern + `)\b(?:,?\s+(\d{4}))?`),
		build: func(m []string, now time.Time) (dateResult, error) {
			return monthDay(m[0], months[m[2]], m[1], m[3], now)
		},
	},
}

// monthDay builds a date from a month name and day. Without an explicit
// year a date that already passed this year rolls over to next year, and
// the day is checked against the year it lands in.
func monthDay(input string, month time.Month, dayStr, yearStr string, now time.Time) (dateResult, error) {
	day, _ := strconv.Atoi(dayStr)
	year := now.Year()
	if yearStr != "" {
		year, _ = strconv.Atoi(yearStr)
	} else if month < now.Month() || (month == now.Month() && day < now.Day()) {
		year++
	}

	if err := checkDay(input, year, month, day); err != nil {
		return dateResult{}, err
	}
	return dateResult{date: dateIn(year, month, day, now.Location())}, nil
}

// checkDay reports a DateParseError naming the valid range when day does
// not exist in the given month.
func checkDay(input string, year int, month time.Month, day int) error {
	max := DaysIn(year, month)
	if day >= 1 && day <= max {
		return nil
	}
	name := month.String()
	if month == time.February {
		name = fmt.Sprintf("%s %d", name, year)
	}
	return &DateParseError{
		Input:   input,
		Message: fmt.Sprintf("Invalid date: %s only has %d days. Please choose a day between 1 and %d.", name, max, max),
	}
}

// DaysIn returns the number of days in the month, accounting for leap years.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func dateIn(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// nextWeekday returns the first day strictly after today that falls on wd.
// When today already is wd the result is a full week ahead.
func nextWeekday(today time.Time, wd time.Weekday) time.Time {
	diff := (int(wd) - int(today.Weekday()) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return today.AddDate(0, 0, diff)
}

// thisWeekday returns today when it is wd, otherwise the next wd.
func thisWeekday(today time.Time, wd time.Weekday) time.Time {
	diff := int(wd) - int(today.Weekday())
	if diff < 0 {
		diff += 7
	}
	return today.AddDate(0, 0, diff)
}

func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), 0, t.Location())
	day := t.Day()
	if max := DaysIn(first.Year(), first.Month()); day > max {
		day = max
	}
	return first.AddDate(0, 0, day-1)
}

func parseAmount(s string) int {
	if s == "a" || s == "an" {
		return 1
	}
	n, _ := strconv.Atoi(s)
	return n
}

// relativeDuration converts a minute or hour amount into a duration.
func relativeDuration(unit string, amount int) (time.Duration, bool) {
	switch {
	case strings.HasPrefix(unit, "min"):
		return time.Duration(amount) * time.Minute, true
	case strings.HasPrefix(unit, "h"):
		return time.Duration(amount) * time.Hour, true
	}
	return 0, false
}
