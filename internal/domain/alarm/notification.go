package alarm

import (
	"encoding/json"
	"fmt"
)

// OperationType is the closed set of directives a server notification can carry.
type OperationType uint8

const (
	// OperationCreate schedules the alarm described by the notification.
	OperationCreate OperationType = iota
	// OperationDelete cancels a previously scheduled alarm.
	OperationDelete
)

// operationNames maps the closed variant to its wire representation.
var operationNames = map[OperationType]string{
	OperationCreate: "create",
	OperationDelete: "delete",
}

// String returns the wire name of the operation.
func (o OperationType) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}

	return fmt.Sprintf("unknown(%d)", uint8(o))
}

// MarshalJSON encodes the operation as its wire name.
// Unknown values are rejected so an invalid variant can never be serialized.
func (o OperationType) MarshalJSON() ([]byte, error) {
	name, ok := operationNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown operation: %d", uint8(o))
	}

	return json.Marshal(name)
}

// UnmarshalJSON decodes the wire name into the closed variant.
func (o *OperationType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode operation: %w", err)
	}

	for op, n := range operationNames {
		if n == name {
			*o = op

			return nil
		}
	}

	return fmt.Errorf("unknown operation: %q", name)
}

// NotificationSessionKey is one redundantly wrapped copy of an alarm's session key.
// The same underlying key is delivered once per registered push channel so that
// any one of the recipient's devices can decrypt the notification.
type NotificationSessionKey struct {
	// PushChannelID identifies the push channel whose key wraps this copy.
	PushChannelID string `json:"pushChannelId"`
	// WrappedSessionKey is the session key encrypted under the channel key, base64.
	WrappedSessionKey string `json:"wrappedSessionKey"`
}

// RepeatRule describes how an alarm repeats. All fields are ciphertext until
// decrypted with the notification's session key.
type RepeatRule struct {
	// Frequency is the encrypted repeat period (decimal RepeatPeriod).
	Frequency string `json:"frequency"`
	// Interval is the encrypted repeat interval (decimal, 1 = every period).
	Interval string `json:"interval"`
	// EndType is the encrypted end condition kind (decimal EndType).
	EndType string `json:"endType"`
	// EndValue is the encrypted end condition value: an occurrence count for
	// EndTypeCount, epoch milliseconds for EndTypeUntilDate, unused otherwise.
	EndValue string `json:"endValue,omitempty"`
	// Timezone is the encrypted IANA timezone name the rule is evaluated in.
	Timezone string `json:"timezone"`
}

// AlarmNotification is a single reminder directive delivered by the server.
// Payload fields are opaque base64 ciphertext until decrypted with the
// resolved session key; Identifier and the session key list are plaintext.
type AlarmNotification struct {
	// Operation says whether this notification creates or deletes an alarm.
	Operation OperationType `json:"operation"`
	// Identifier is the stable identity of the logical alarm. It keys
	// membership in the persisted recurring-alarm set.
	Identifier string `json:"identifier"`
	// Trigger is the encrypted reminder offset specification (see AlarmTrigger).
	Trigger string `json:"trigger"`
	// Summary is the encrypted human-readable description.
	Summary string `json:"summary"`
	// EventStart is the encrypted event start time, decimal epoch milliseconds.
	EventStart string `json:"eventStart"`
	// EventEnd is the encrypted event end time, decimal epoch milliseconds.
	EventEnd string `json:"eventEnd"`
	// User is the encrypted identifier of the owning user.
	User string `json:"user"`
	// RepeatRule is present only for recurring alarms.
	RepeatRule *RepeatRule `json:"repeatRule,omitempty"`
	// SessionKeys lists the wrapped copies of the session key, one per push
	// channel the notification was delivered to. Empty on delete
	// notifications, which carry no usable key material.
	SessionKeys []NotificationSessionKey `json:"sessionKeys,omitempty"`
}

// IsRecurring reports whether the notification describes a repeating alarm.
func (n *AlarmNotification) IsRecurring() bool {
	return n.RepeatRule != nil
}

// RepeatPeriod is the decrypted repeat frequency of a recurrence rule.
type RepeatPeriod int

const (
	// RepeatPeriodDaily repeats every day.
	RepeatPeriodDaily RepeatPeriod = iota
	// RepeatPeriodWeekly repeats every week.
	RepeatPeriodWeekly
	// RepeatPeriodMonthly repeats every month.
	RepeatPeriodMonthly
	// RepeatPeriodAnnually repeats every year.
	RepeatPeriodAnnually
)

// EndType is the decrypted end condition kind of a recurrence rule.
type EndType int

const (
	// EndTypeNever means the rule has no end condition.
	EndTypeNever EndType = iota
	// EndTypeCount ends the rule after a fixed number of occurrences.
	EndTypeCount
	// EndTypeUntilDate ends the rule at a fixed date.
	EndTypeUntilDate
)
