package alarm

import "time"

// AlarmTrigger is the vocabulary of reminder offsets relative to the event start.
type AlarmTrigger string

const (
	// TriggerFiveMinutes fires five minutes before the event.
	TriggerFiveMinutes AlarmTrigger = "5M"
	// TriggerTenMinutes fires ten minutes before the event.
	TriggerTenMinutes AlarmTrigger = "10M"
	// TriggerFifteenMinutes fires fifteen minutes before the event.
	TriggerFifteenMinutes AlarmTrigger = "15M"
	// TriggerThirtyMinutes fires thirty minutes before the event.
	TriggerThirtyMinutes AlarmTrigger = "30M"
	// TriggerOneHour fires one hour before the event.
	TriggerOneHour AlarmTrigger = "1H"
	// TriggerOneDay fires one day before the event.
	TriggerOneDay AlarmTrigger = "1D"
	// TriggerTwoDays fires two days before the event.
	TriggerTwoDays AlarmTrigger = "2D"
	// TriggerThreeDays fires three days before the event.
	TriggerThreeDays AlarmTrigger = "3D"
	// TriggerOneWeek fires one week before the event.
	TriggerOneWeek AlarmTrigger = "1W"
)

// triggerOffsets maps each trigger to its (negative) shift from the event start.
var triggerOffsets = map[AlarmTrigger]time.Duration{
	TriggerFiveMinutes:    -5 * time.Minute,
	TriggerTenMinutes:     -10 * time.Minute,
	TriggerFifteenMinutes: -15 * time.Minute,
	TriggerThirtyMinutes:  -30 * time.Minute,
	TriggerOneHour:        -time.Hour,
	TriggerOneDay:         -24 * time.Hour,
	TriggerTwoDays:        -48 * time.Hour,
	TriggerThreeDays:      -72 * time.Hour,
	TriggerOneWeek:        -7 * 24 * time.Hour,
}

// ParseAlarmTrigger maps a decrypted trigger specification to the vocabulary.
// Unknown values fall back to TriggerFiveMinutes so a notification with a
// newer trigger kind still produces a reminder.
func ParseAlarmTrigger(s string) AlarmTrigger {
	trigger := AlarmTrigger(s)
	if _, ok := triggerOffsets[trigger]; ok {
		return trigger
	}

	return TriggerFiveMinutes
}

// Offset returns the shift applied to an event start to obtain the reminder time.
// The result is always negative or zero.
func (t AlarmTrigger) Offset() time.Duration {
	if offset, ok := triggerOffsets[t]; ok {
		return offset
	}

	return triggerOffsets[TriggerFiveMinutes]
}
