// Package metrics exposes Prometheus collectors for conversation turns and
// notification delivery.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "remindme"

// Metrics holds the assistant's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	turns            *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	remindersCreated *prometheus.CounterVec
	intentFallbacks  prometheus.Counter
	notifications    *prometheus.CounterVec
}

// MustNew registers the collectors with reg, reusing collectors that are
// already registered under the same names. Other registration errors panic.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		turns: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Conversation turns handled, by intent type and outcome.",
		}, []string{"intent", "outcome"})),
		turnDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turn_duration_seconds",
			Help:      "Time spent handling one conversation turn, including the LLM call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"})),
		remindersCreated: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "created_total",
			Help:      "Reminders created, by recurrence kind.",
		}, []string{"recurrence"})),
		intentFallbacks: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "fallbacks_total",
			Help:      "Upstream intent payloads that could not be parsed.",
		})),
		notifications: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "notifications_total",
			Help:      "Notification delivery attempts, by channel and result.",
		}, []string{"channel", "result"})),
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveTurn records one handled turn.
func (m *Metrics) ObserveTurn(intentType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if intentType == "" {
		intentType = "none"
	}
	m.turns.WithLabelValues(intentType, outcome).Inc()
	m.turnDuration.WithLabelValues(intentType).Observe(d.Seconds())
}

// ReminderCreated counts a persisted reminder.
func (m *Metrics) ReminderCreated(recurrence string) {
	if m == nil {
		return
	}
	if recurrence == "" {
		recurrence = "none"
	}
	m.remindersCreated.WithLabelValues(recurrence).Inc()
}

// IntentFallback counts an unreadable upstream payload.
func (m *Metrics) IntentFallback() {
	if m == nil {
		return
	}
	m.intentFallbacks.Inc()
}

// Notification counts a delivery attempt.
func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}
