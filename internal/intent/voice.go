package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// VoiceKind classifies a spoken reply to a reminder call.
type VoiceKind string

const (
	VoiceCompleted VoiceKind = "completed"
	VoiceDelay     VoiceKind = "delay"
	VoiceCancel    VoiceKind = "cancel"
	VoiceUnknown   VoiceKind = "unknown"
)

// DefaultDelayMinutes applies when a delay names no duration.
const DefaultDelayMinutes = 30

// VoiceResponse is the classified speech transcript.
type VoiceResponse struct {
	Kind    VoiceKind
	Minutes int
}

// Checked in order: completion beats delay, delay beats cancel.
var voiceKeywords = []struct {
	kind    VoiceKind
	phrases []string
}{
	{VoiceCompleted, []string{
		"yes", "yeah", "yep", "yup", "done", "completed", "complete", "finished",
		"did it", "i did", "already did", "took it", "taken care of", "all done",
	}},
	{VoiceDelay, []string{
		"later", "snooze", "postpone", "delay", "remind me again", "remind me in",
		"not now", "in a bit", "in a while", "give me", "wait", "busy",
		"minutes", "minute", "hour", "hours",
	}},
	{VoiceCancel, []string{
		"cancel", "stop", "no", "nope", "don't", "dont", "never mind", "nevermind",
		"forget it", "skip", "delete", "remove",
	}},
}

var (
	nonWord       = regexp.MustCompile(`[^a-z0-9']+`)
	delayDuration = regexp.MustCompile(`(\d+)\s*(minutes?|mins?|hours?|hrs?)`)
)

// ClassifyVoice maps a speech transcript to completed, delay, cancel or
// unknown using ordered keyword lists.
func ClassifyVoice(transcript string) VoiceResponse {
	normalized := " " + strings.TrimSpace(nonWord.ReplaceAllString(strings.ToLower(transcript), " ")) + " "

	for _, group := range voiceKeywords {
		for _, phrase := range group.phrases {
			if !strings.Contains(normalized, " "+phrase+" ") {
				continue
			}
			if group.kind == VoiceDelay {
				return VoiceResponse{Kind: VoiceDelay, Minutes: delayMinutes(normalized)}
			}
			return VoiceResponse{Kind: group.kind}
		}
	}
	return VoiceResponse{Kind: VoiceUnknown}
}

func delayMinutes(text string) int {
	if m := delayDuration.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			if strings.HasPrefix(m[2], "h") {
				return n * 60
			}
			return n
		}
	}
	switch {
	case strings.Contains(text, " half an hour "):
		return 30
	case strings.Contains(text, " an hour "), strings.Contains(text, " one hour "):
		return 60
	}
	return DefaultDelayMinutes
}
