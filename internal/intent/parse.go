package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
)

var errMissingType = errors.New("payload has no type")

// Parse normalises a raw upstream payload into an Intent. When the payload
// cannot be read it returns the heuristic fallback intent together with an
// *UpstreamParseFailure, so callers can always continue the conversation.
func Parse(raw, original string) (Intent, error) {
	obj, err := decodeObject(raw)
	if err == nil && str(obj, "type") == "" {
		err = errMissingType
	}
	if err != nil {
		return Fallback(original), &UpstreamParseFailure{Raw: raw, Err: err}
	}

	in := fromObject(obj)
	in.Original = original
	return in, nil
}

// Fallback classifies text by keyword when no structured payload is
// available: mentions of reminding, today or tomorrow suggest an
// incomplete reminder, anything else is not a reminder.
func Fallback(original string) Intent {
	lower := strings.ToLower(original)
	t := TypeNotReminder
	for _, kw := range []string{"remind", "tomorrow", "today"} {
		if strings.Contains(lower, kw) {
			t = TypeIncompleteReminder
			break
		}
	}
	return Intent{Type: t, Original: original, Fallback: true}
}

// decodeObject extracts the outermost JSON object from model output,
// repairing it when it does not decode as-is.
func decodeObject(raw string) (map[string]any, error) {
	cleaned := cleanCodeFences(raw)
	if cleaned == "" {
		return nil, errors.New("empty payload")
	}

	candidate := cleaned
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start != -1 && end > start {
		candidate = cleaned[start : end+1]
	} else if start != -1 {
		candidate = cleaned[start:]
	}

	var obj map[string]any
	err := json.Unmarshal([]byte(candidate), &obj)
	if err == nil && obj != nil {
		return obj, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr != nil {
		return nil, fmt.Errorf("failed to repair JSON: %w", repairErr)
	}
	obj = nil
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse repaired JSON: %w", err)
	}
	if obj == nil {
		return nil, errors.New("payload is not an object")
	}
	return obj, nil
}

func cleanCodeFences(content string) string {
	content = strings.TrimSpace(content)

	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")

	content = strings.TrimSuffix(content, "```")

	return strings.TrimSpace(content)
}

func fromObject(obj map[string]any) Intent {
	in := Intent{
		Type:          Type(strings.ToLower(str(obj, "type"))),
		Content:       str(obj, "content", "reminder_content", "task"),
		Date:          str(obj, "date"),
		Time:          str(obj, "time"),
		TimeReference: str(obj, "timeReference", "time_reference"),
		RelativeTime:  relativeTime(obj, "relativeTime", "relative_time"),
		Missing:       strList(obj, "missing"),
		EndDate:       str(obj, "endDate", "end_date", "until"),
		Filter:        strings.ToLower(str(obj, "filter")),
		Query:         str(obj, "query", "search", "contentFilter", "content_filter"),
		ReminderID:    int64(num(obj, "reminderId", "reminder_id", "id")),
		Action:        strings.ToLower(str(obj, "action")),
		Confirmed:     boolean(obj, "confirmed", "confirm", "answer"),
		Selection:     num(obj, "selection", "number", "index"),
		Option:        option(str(obj, "option", "choice")),
		Reply:         str(obj, "reply", "response", "message"),
	}

	// An absent recurrence stays empty so callers can tell it apart from
	// an explicit "none".
	if kind := str(obj, "recurrence", "recurrence_type", "recurrenceType"); kind != "" {
		in.Recurrence = recurrenceKind(kind)
	}
	if p := pattern(obj, "recurrencePattern", "recurrence_pattern", "pattern"); p != nil {
		in.Pattern = p
		if !in.Recurring() {
			in.Recurrence = reminder.RecurrenceCustom
		}
	}

	if u, ok := object(obj, "updates"); ok {
		in.Updates = reminder.Updates{
			Content:       str(u, "content"),
			Date:          str(u, "date"),
			Time:          str(u, "time"),
			TimeReference: str(u, "timeReference", "time_reference"),
		}
	}

	in.PreferenceKey = strings.ToLower(str(obj, "key", "preference", "setting"))
	in.PreferenceValue = str(obj, "value")

	return in
}

// absent reports the sentinel spellings models use for a missing value.
func absent(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "undefined", "nil", "n/a", "unknown":
		return true
	}
	return false
}

func lookup(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func str(obj map[string]any, keys ...string) string {
	v, ok := lookup(obj, keys...)
	if !ok {
		return ""
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	default:
		return ""
	}
	s = strings.TrimSpace(s)
	if absent(s) {
		return ""
	}
	return s
}

func num(obj map[string]any, keys ...string) int {
	v, ok := lookup(obj, keys...)
	if !ok {
		return 0
	}
	return toInt(v)
}

func toInt(v any) int {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return int(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func boolean(obj map[string]any, keys ...string) *bool {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil
	}
	var b bool
	switch x := v.(type) {
	case bool:
		b = x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "confirmed", "ok", "sure":
			b = true
		case "false", "no", "n", "declined", "cancel":
			b = false
		default:
			return nil
		}
	case float64:
		b = x != 0
	default:
		return nil
	}
	return &b
}

func strList(obj map[string]any, keys ...string) []string {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil
	}
	var out []string
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if s, ok := item.(string); ok && !absent(s) {
				out = append(out, strings.ToLower(strings.TrimSpace(s)))
			}
		}
	case string:
		for _, part := range strings.Split(x, ",") {
			if !absent(part) {
				out = append(out, strings.ToLower(strings.TrimSpace(part)))
			}
		}
	}
	return out
}

func object(obj map[string]any, keys ...string) (map[string]any, bool) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func relativeTime(obj map[string]any, keys ...string) *timeparse.RelativeTime {
	m, ok := object(obj, keys...)
	if !ok {
		return nil
	}
	amount := num(m, "amount", "value")
	unit := strings.ToLower(str(m, "unit"))
	switch {
	case strings.HasPrefix(unit, "min"):
		unit = "minutes"
	case strings.HasPrefix(unit, "h"):
		unit = "hours"
	default:
		return nil
	}
	if amount <= 0 {
		return nil
	}
	return &timeparse.RelativeTime{Unit: unit, Amount: amount}
}

func recurrenceKind(s string) reminder.RecurrenceKind {
	switch k := reminder.RecurrenceKind(strings.ToLower(s)); k {
	case reminder.RecurrenceDaily, reminder.RecurrenceWeekly, reminder.RecurrenceMonthly, reminder.RecurrenceCustom:
		return k
	}
	return reminder.RecurrenceNone
}

var weekdayNumbers = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

func weekday(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		d := int(x)
		return d, d >= 0 && d <= 6
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		if d, ok := weekdayNumbers[s]; ok {
			return d, true
		}
		d, err := strconv.Atoi(s)
		return d, err == nil && d >= 0 && d <= 6
	}
	return 0, false
}

func pattern(obj map[string]any, keys ...string) *reminder.RecurrencePattern {
	m, ok := object(obj, keys...)
	if !ok {
		return nil
	}

	freq := reminder.Frequency(strings.TrimSuffix(strings.ToLower(str(m, "frequency", "unit")), "s"))
	switch freq {
	case "daily":
		freq = reminder.FrequencyDay
	case "weekly":
		freq = reminder.FrequencyWeek
	case "monthly":
		freq = reminder.FrequencyMonth
	case "yearly":
		freq = reminder.FrequencyYear
	}
	switch freq {
	case reminder.FrequencyDay, reminder.FrequencyWeek, reminder.FrequencyMonth, reminder.FrequencyYear:
	default:
		return nil
	}

	p := &reminder.RecurrencePattern{Frequency: freq, Interval: num(m, "interval")}
	if p.Interval < 1 {
		p.Interval = 1
	}

	if v, ok := lookup(m, "dayOfWeek", "day_of_week"); ok {
		if d, ok := weekday(v); ok {
			p.DayOfWeek = &d
		}
	}
	if v, ok := lookup(m, "daysOfWeek", "days_of_week"); ok {
		if items, ok := v.([]any); ok {
			seen := map[int]bool{}
			for _, item := range items {
				if d, ok := weekday(item); ok && !seen[d] {
					seen[d] = true
					p.DaysOfWeek = append(p.DaysOfWeek, d)
				}
			}
			sort.Ints(p.DaysOfWeek)
		}
	}
	if d := num(m, "dayOfMonth", "day_of_month"); d >= 1 && d <= 31 {
		p.DayOfMonth = &d
	}
	if mo := num(m, "monthOfYear", "month_of_year"); mo >= 1 && mo <= 12 {
		p.MonthOfYear = &mo
	}
	return p
}

func option(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "next"):
		return OptionNextWeek
	case strings.Contains(s, "today"):
		return OptionToday
	}
	return s
}
