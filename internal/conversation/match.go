package conversation

import (
	"strings"
	"unicode"

	"github.com/notexe/remindme/internal/reminder"
)

// matchThreshold is the share of query tokens that must match.
const matchThreshold = 0.6

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "to": true, "for": true,
	"about": true, "reminder": true, "reminders": true, "one": true,
}

func matchReminders(query string, rs []reminder.Reminder) []reminder.Reminder {
	var out []reminder.Reminder
	for _, r := range rs {
		if fuzzyMatch(query, r.Content) {
			out = append(out, r)
		}
	}
	return out
}

// fuzzyMatch reports whether content contains query (or the reverse), or
// whether enough query tokens match content tokens allowing for plural and
// gerund endings.
func fuzzyMatch(query, content string) bool {
	q := normalizeText(query)
	c := normalizeText(content)
	if q == "" || c == "" {
		return false
	}
	if strings.Contains(c, q) || strings.Contains(q, c) {
		return true
	}

	qt := tokens(q)
	ct := tokens(c)
	if len(qt) == 0 {
		return false
	}

	matched := 0
	for _, qw := range qt {
		for _, cw := range ct {
			if tokenMatch(qw, cw) {
				matched++
				break
			}
		}
	}
	return float64(matched)/float64(len(qt)) >= matchThreshold
}

func normalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func tokens(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

func tokenMatch(a, b string) bool {
	if a == b {
		return true
	}
	sa, sb := stem(a), stem(b)
	return sa == sb || sa == b || a == sb
}

func stem(w string) string {
	switch {
	case len(w) > 5 && strings.HasSuffix(w, "ing"):
		return strings.TrimSuffix(w, "ing")
	case len(w) > 3 && strings.HasSuffix(w, "s"):
		return strings.TrimSuffix(w, "s")
	}
	return w
}
