package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/notexe/remindme/internal/reminder"
)

// Describe renders a rule for confirmations, for example
// "every Monday and Wednesday at 8:00 AM, starting Monday, June 2, until December 31, 2025".
func Describe(p reminder.RecurrencePattern, start time.Time, end *time.Time) string {
	var b strings.Builder
	b.WriteString(describeRule(p))

	if !start.IsZero() {
		b.WriteString(" at ")
		b.WriteString(start.Format("3:04 PM"))
		b.WriteString(", starting ")
		b.WriteString(start.Format("Monday, January 2"))
	}
	if end != nil {
		b.WriteString(", until ")
		b.WriteString(end.In(start.Location()).Format("January 2, 2006"))
	}
	return b.String()
}

func describeRule(p reminder.RecurrencePattern) string {
	interval := p.Interval
	if interval < 1 {
		interval = 1
	}
	unit := string(p.Frequency)

	switch {
	case p.Frequency == reminder.FrequencyWeek && len(p.DaysOfWeek) > 0:
		days := joinNames(dayNames(p.DaysOfWeek))
		if interval == 1 {
			return "every " + days
		}
		return every(interval, unit) + " on " + days

	case p.Frequency == reminder.FrequencyWeek && p.DayOfWeek != nil:
		day := time.Weekday(*p.DayOfWeek).String()
		if interval <= 2 {
			return intervalPhrase(interval) + " " + day
		}
		return every(interval, unit) + " on " + day

	case p.Frequency == reminder.FrequencyMonth && p.DayOfMonth != nil:
		return every(interval, unit) + " on the " + ordinal(*p.DayOfMonth)

	case p.Frequency == reminder.FrequencyYear && p.MonthOfYear != nil:
		return every(interval, unit) + " in " + time.Month(*p.MonthOfYear).String()
	}

	return every(interval, unit)
}

// every renders "every day", "every other week" or "every 3 months".
func every(interval int, unit string) string {
	if interval > 2 {
		return fmt.Sprintf("every %d %ss", interval, unit)
	}
	return intervalPhrase(interval) + " " + unit
}

func intervalPhrase(interval int) string {
	switch interval {
	case 1:
		return "every"
	case 2:
		return "every other"
	}
	return fmt.Sprintf("every %d", interval)
}

func dayNames(days []int) []string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, time.Weekday(d).String())
	}
	return names
}

// joinNames joins with an Oxford comma: "a", "a and b", "a, b, and c".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
