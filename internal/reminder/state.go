package reminder

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateKind names the active stage of a user's conversation.
type StateKind string

const (
	StateInitial                StateKind = "initial"
	StateFollowupDatetime       StateKind = "followup_datetime"
	StateFollowupContent        StateKind = "followup_content"
	StateRescheduleConfirmation StateKind = "reschedule_confirmation"
	StateConflictResolution     StateKind = "conflict_resolution"
	StateDeleteSelection        StateKind = "delete_reminder_selection"
	StateUpdateSelection        StateKind = "update_reminder_selection"
	StateDateClarification      StateKind = "date_clarification"
)

// State is the conversation stage persisted on a User. Exactly one variant
// is active at a time; the set of variants is closed.
type State interface {
	Kind() StateKind
	isState()
}

// Recurring carries a recurrence request through confirmation round-trips.
type Recurring struct {
	Kind    RecurrenceKind     `json:"kind"`
	Pattern *RecurrencePattern `json:"pattern,omitempty"`
	EndDate *time.Time         `json:"end_date,omitempty"`
}

// Updates holds the requested changes for an update_reminder intent.
type Updates struct {
	Content       string `json:"content,omitempty"`
	Date          string `json:"date,omitempty"`
	Time          string `json:"time,omitempty"`
	TimeReference string `json:"time_reference,omitempty"`
}

// Empty reports whether no change was requested.
func (u Updates) Empty() bool {
	return u.Content == "" && u.Date == "" && u.Time == "" && u.TimeReference == ""
}

type Initial struct{}

type FollowupDatetime struct {
	Content       string     `json:"content"`
	Date          string     `json:"date,omitempty"`
	Time          string     `json:"time,omitempty"`
	TimeReference string     `json:"time_reference,omitempty"`
	Recurring     *Recurring `json:"recurring,omitempty"`
}

type FollowupContent struct {
	Date          string     `json:"date,omitempty"`
	Time          string     `json:"time,omitempty"`
	TimeReference string     `json:"time_reference,omitempty"`
	Recurring     *Recurring `json:"recurring,omitempty"`
}

type RescheduleConfirmation struct {
	Content       string     `json:"content"`
	SuggestedDate time.Time  `json:"suggested_date"`
	Recurring     *Recurring `json:"recurring,omitempty"`
}

type ConflictResolution struct {
	Content      string     `json:"content"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	ConflictIDs  []int64    `json:"conflict_ids"`
	Recurring    *Recurring `json:"recurring,omitempty"`
}

type DeleteSelection struct {
	CandidateIDs []int64 `json:"candidate_ids"`
}

type UpdateSelection struct {
	CandidateIDs []int64 `json:"candidate_ids"`
	Updates      Updates `json:"updates"`
}

type DateClarification struct {
	Content        string     `json:"content"`
	TodayOption    string     `json:"today_option"`
	NextWeekOption string     `json:"next_week_option"`
	Time           string     `json:"time,omitempty"`
	TimeReference  string     `json:"time_reference,omitempty"`
	Recurring      *Recurring `json:"recurring,omitempty"`
}

func (Initial) Kind() StateKind                { return StateInitial }
func (FollowupDatetime) Kind() StateKind       { return StateFollowupDatetime }
func (FollowupContent) Kind() StateKind        { return StateFollowupContent }
func (RescheduleConfirmation) Kind() StateKind { return StateRescheduleConfirmation }
func (ConflictResolution) Kind() StateKind     { return StateConflictResolution }
func (DeleteSelection) Kind() StateKind        { return StateDeleteSelection }
func (UpdateSelection) Kind() StateKind        { return StateUpdateSelection }
func (DateClarification) Kind() StateKind      { return StateDateClarification }

func (Initial) isState()                {}
func (FollowupDatetime) isState()       {}
func (FollowupContent) isState()        {}
func (RescheduleConfirmation) isState() {}
func (ConflictResolution) isState()     {}
func (DeleteSelection) isState()        {}
func (UpdateSelection) isState()        {}
func (DateClarification) isState()      {}

type stateEnvelope struct {
	Kind StateKind       `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalState encodes a state as {"kind": ..., "data": {...}}.
func MarshalState(s State) ([]byte, error) {
	if s == nil {
		s = Initial{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s state: %w", s.Kind(), err)
	}
	return json.Marshal(stateEnvelope{Kind: s.Kind(), Data: data})
}

// UnmarshalState decodes an envelope produced by MarshalState. Empty input
// and unknown kinds decode to Initial.
func UnmarshalState(raw []byte) (State, error) {
	if len(raw) == 0 {
		return Initial{}, nil
	}

	var env stateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Initial{}, fmt.Errorf("failed to decode state envelope: %w", err)
	}

	var target State
	switch env.Kind {
	case StateFollowupDatetime:
		target = decodeState[FollowupDatetime](env.Data)
	case StateFollowupContent:
		target = decodeState[FollowupContent](env.Data)
	case StateRescheduleConfirmation:
		target = decodeState[RescheduleConfirmation](env.Data)
	case StateConflictResolution:
		target = decodeState[ConflictResolution](env.Data)
	case StateDeleteSelection:
		target = decodeState[DeleteSelection](env.Data)
	case StateUpdateSelection:
		target = decodeState[UpdateSelection](env.Data)
	case StateDateClarification:
		target = decodeState[DateClarification](env.Data)
	default:
		return Initial{}, nil
	}
	if target == nil {
		return Initial{}, fmt.Errorf("failed to decode %s state payload", env.Kind)
	}
	return target, nil
}

func decodeState[T State](data json.RawMessage) State {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
	}
	return v
}
