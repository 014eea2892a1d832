package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/notexe/remindme/internal/intent"
	"github.com/notexe/remindme/internal/reminder"
	"github.com/notexe/remindme/internal/timeparse"
)

var channelAliases = map[string]string{
	"chat": reminder.ChannelChat, "message": reminder.ChannelChat, "messages": reminder.ChannelChat,
	"text": reminder.ChannelChat, "whatsapp": reminder.ChannelChat,
	"voice": reminder.ChannelVoice, "call": reminder.ChannelVoice, "phone": reminder.ChannelVoice,
	"both": reminder.ChannelBoth,
}

func (e *Engine) handlePreference(_ context.Context, t *turn, in intent.Intent) (string, error) {
	t.next = t.user.State
	key := preferenceKey(in.PreferenceKey)

	if in.Action != intent.ActionSet {
		return describePreference(t.user, key), nil
	}
	value := strings.TrimSpace(in.PreferenceValue)
	if key == "" || value == "" {
		return "Which setting should I change, and to what? For example \"set my timezone to Europe/London\".", nil
	}

	switch key {
	case "timezone":
		loc, ok := timeparse.Location(value)
		if !ok {
			return fmt.Sprintf("I don't recognise the timezone %q. Use a name like Europe/London or America/New_York.", value), nil
		}
		t.user.Timezone = loc.String()
		return fmt.Sprintf("Your timezone is now %s.", t.user.Timezone), nil

	case "channel":
		ch, ok := channelAliases[strings.ToLower(value)]
		if !ok {
			return "I can notify you by chat, voice call or both. Which would you like?", nil
		}
		t.user.Channel = ch
		return fmt.Sprintf("I'll notify you by %s from now on.", channelName(ch)), nil
	}

	tod, err := timeparse.ParseClock(value)
	if err != nil {
		var dpe *timeparse.DateParseError
		if errors.As(err, &dpe) {
			return dpe.Message, nil
		}
		return msgUnclearDatetime, nil
	}
	if t.user.TimePreferences == nil {
		t.user.TimePreferences = map[string]reminder.TimeOfDay{}
	}
	t.user.TimePreferences[key] = tod
	return fmt.Sprintf("Got it, %q now means %s for you.", key, tod), nil
}

func preferenceKey(key string) string {
	key = timeparse.NormalizeReference(key)
	switch key {
	case "timezone", "time zone", "tz", "zone":
		return "timezone"
	case "channel", "notification", "notifications", "notification channel":
		return "channel"
	}
	return key
}

func describePreference(u *reminder.User, key string) string {
	switch key {
	case "timezone":
		return fmt.Sprintf("Your timezone is %s.", displayTimezone(u.Timezone))
	case "channel":
		return fmt.Sprintf("I notify you by %s.", channelName(u.Channel))
	case "":
		var b strings.Builder
		fmt.Fprintf(&b, "Timezone: %s\nNotifications: %s", displayTimezone(u.Timezone), channelName(u.Channel))
		names := make([]string, 0, len(u.TimePreferences))
		for name := range u.TimePreferences {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n%s: %s", name, u.TimePreferences[name])
		}
		return b.String()
	}

	if tod, ok := timeparse.LookupReference(key, u.TimePreferences); ok {
		return fmt.Sprintf("%q is %s for you.", key, tod)
	}
	return fmt.Sprintf("You haven't set a time for %q.", key)
}

func displayTimezone(tz string) string {
	if tz == "" {
		return "not set"
	}
	return tz
}

func channelName(ch string) string {
	switch ch {
	case reminder.ChannelVoice:
		return "voice call"
	case reminder.ChannelBoth:
		return "chat and voice call"
	}
	return "chat message"
}
