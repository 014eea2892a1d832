package recurrence

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

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

const monthAlt = `january|february|march|april|may|june|july|august|september|october|november|december|sept|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`

var (
	untilCut    = regexp.MustCompile(`\s+(?:at|from|starting|beginning)\s+.*$`)
	bareMonth   = regexp.MustCompile(`^(?:the\s+end\s+of\s+)?(` + monthAlt + `)(?:\s+(\d{4}))?$`)
	isoDate     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	monthDayRe  = regexp.MustCompile(`^(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?$`)
	dayMonthRe  = regexp.MustCompile(`^(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthAlt + `)(?:,?\s+(\d{4}))?$`)
	trailingPun = regexp.MustCompile(`[\s.,;:!?]+$`)
)

// ParseUntil extracts the end date from an "until ..." clause. A bare month
// name ends on the last day of that month's nearest future occurrence; a
// full date ends at the close of that day. Returns nil when absent or
// unreadable.
func ParseUntil(text string, now time.Time) *time.Time {
	m := untilRe.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return nil
	}
	value := untilCut.ReplaceAllString(strings.TrimSpace(m[1]), "")
	value = trailingPun.ReplaceAllString(value, "")
	loc := now.Location()

	if mm := bareMonth.FindStringSubmatch(value); mm != nil {
		month := months[mm[1]]
		year := now.Year()
		if mm[2] != "" {
			year, _ = strconv.Atoi(mm[2])
		} else if month < now.Month() {
			year++
		}
		end := endOfDay(time.Date(year, month, daysIn(year, month), 0, 0, 0, 0, loc))
		return &end
	}

	if mm := isoDate.FindStringSubmatch(value); mm != nil {
		year, _ := strconv.Atoi(mm[1])
		month, _ := strconv.Atoi(mm[2])
		day, _ := strconv.Atoi(mm[3])
		return validDay(year, time.Month(month), day, loc)
	}

	if mm := monthDayRe.FindStringSubmatch(value); mm != nil {
		return phraseDay(months[mm[1]], mm[2], mm[3], now)
	}
	if mm := dayMonthRe.FindStringSubmatch(value); mm != nil {
		return phraseDay(months[mm[2]], mm[1], mm[3], now)
	}

	return nil
}

func phraseDay(month time.Month, dayStr, yearStr string, now time.Time) *time.Time {
	day, _ := strconv.Atoi(dayStr)
	year := now.Year()
	if yearStr != "" {
		year, _ = strconv.Atoi(yearStr)
	}
	end := validDay(year, month, day, now.Location())
	if end != nil && yearStr == "" && end.Before(now) {
		end = validDay(year+1, month, day, now.Location())
	}
	return end
}

func validDay(year int, month time.Month, day int, loc *time.Location) *time.Time {
	if month < time.January || month > time.December || day < 1 || day > daysIn(year, month) {
		return nil
	}
	end := endOfDay(time.Date(year, month, day, 0, 0, 0, 0, loc))
	return &end
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
