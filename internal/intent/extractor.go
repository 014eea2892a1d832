package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/notexe/remindme/internal/api"
	"github.com/notexe/remindme/internal/config"
	"github.com/notexe/remindme/internal/logging"
	"github.com/notexe/remindme/internal/reminder"
)

const systemPromptTemplate = `You turn WhatsApp messages sent to a reminder assistant into one JSON object.
Current date and time: %s (%s). Conversation stage: %s.

Return raw JSON only, no markdown formatting. Always include "type", one of:
- "reminder": content, date and time are all known. Fields: content, date, time, timeReference, relativeTime, recurrence, recurrencePattern, endDate.
- "incomplete_reminder": the user wants a reminder but something is missing. Fields: content, date, time, timeReference, missing (array of "content", "date", "time").
- "reminder_datetime": a reply that only gives a date and/or time. Fields: date, time, timeReference, relativeTime.
- "reminder_content": a reply that only says what to be reminded about. Fields: content.
- "unclear_datetime": the user tried to give a date or time but it cannot be understood.
- "not_reminder": small talk or anything unrelated. Optional field: reply (a short friendly answer).
- "list_reminders": Fields: filter ("all", "today", "week", "content"), query.
- "delete_reminder": Fields: reminderId or query (words from the reminder content).
- "update_reminder": Fields: reminderId or query, updates {content, date, time, timeReference}.
- "preference": Fields: action ("get" or "set"), key ("timezone", "channel" or a time name like "morning"), value.
- "confirmation": a yes/no answer. Fields: confirmed (true or false).
- "selection": picking an item from a numbered list. Fields: selection (the number).
- "unclear_selection": the user answered a numbered list but the choice is unclear.
- "date_clarification": choosing between today and next week. Fields: option ("today" or "next_week").

Field rules:
- date: "today", "tomorrow", "next monday", "this friday", "in 3 days", a month and day like "April 15", or YYYY-MM-DD. Leave absent if not given.
- time: 24h "HH:MM" when the user gave a clock time. timeReference: words like "morning", "evening", "lunch".
- relativeTime: {"unit": "minutes" or "hours", "amount": N} for "in 20 minutes" or "in 2 hours".
- recurrence: "none", "daily", "weekly", "monthly" or "custom". recurrencePattern: {"frequency": "day"|"week"|"month"|"year", "interval": N, "dayOfWeek": 0-6, "daysOfWeek": [0-6], "dayOfMonth": 1-31} with Sunday = 0.
- content: what to be reminded about, without the date or time words.
- Omit fields you do not know. Never invent dates.`

// Extractor asks an LLM provider for the structured intent of a message.
type Extractor struct {
	provider api.Provider
	model    config.ModelSettings
	logger   *slog.Logger
}

// NewExtractor creates an Extractor over the given provider.
func NewExtractor(provider api.Provider, model config.ModelSettings, logger *slog.Logger) *Extractor {
	return &Extractor{
		provider: provider,
		model:    model,
		logger:   logging.Component(logger, "intent"),
	}
}

// Extract returns the intent for text. A provider failure is returned as
// an error; an unreadable payload yields the fallback intent along with an
// *UpstreamParseFailure.
func (e *Extractor) Extract(ctx context.Context, text string, stage reminder.StateKind, now time.Time) (Intent, error) {
	resp, err := e.provider.SendMessage(ctx, api.MessageRequest{
		System:      SystemPrompt(stage, now),
		Messages:    []api.Message{{Role: "user", Content: text}},
		Model:       e.model.Name,
		MaxTokens:   e.model.MaxTokens,
		Temperature: e.model.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("failed to extract intent with %s: %w", e.provider.Name(), err)
	}

	in, err := Parse(resp.Content, text)
	var upf *UpstreamParseFailure
	if errors.As(err, &upf) {
		e.logger.Warn("unreadable intent payload, using keyword fallback",
			"error", upf.Err, "fallback_type", in.Type, "payload", truncate(resp.Content, 200))
	}
	e.logger.Debug("intent extracted", "type", in.Type, "stage", stage,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return in, err
}

// SystemPrompt renders the extraction prompt for a conversation stage.
func SystemPrompt(stage reminder.StateKind, now time.Time) string {
	if stage == "" {
		stage = reminder.StateInitial
	}
	return fmt.Sprintf(systemPromptTemplate, now.Format("Monday, 2006-01-02 15:04"), now.Location(), stage)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so the log line stays valid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
