package occurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	domain "github.com/rdvincent/tutanota/internal/domain/alarm"
)

// occurrencesScheduledAhead caps how many future occurrences one expansion
// yields. Rules without an end condition would otherwise never terminate, and
// the host alarm service only needs a window of upcoming registrations; the
// window is refreshed on every re-arm pass.
const occurrencesScheduledAhead = 10

// Params describes one expansion request. All times and rule fields are
// already decrypted by the caller.
type Params struct {
	// Now is the lower bound: only occurrences whose reminder time is
	// strictly after Now are yielded.
	Now time.Time
	// Timezone is the location the recurrence rule is evaluated in.
	Timezone *time.Location
	// EventStart is the start of the first occurrence of the event.
	EventStart time.Time
	// EventEnd is the end of the first occurrence. Kept for parity with the
	// rule model; expansion is driven by EventStart.
	EventEnd time.Time
	// Frequency is the repeat period of the rule.
	Frequency domain.RepeatPeriod
	// Interval is the repeat interval (1 = every period). Zero means 1.
	Interval int
	// EndType is the rule's end condition kind.
	EndType domain.EndType
	// EndValue is the occurrence count for EndTypeCount or epoch milliseconds
	// for EndTypeUntilDate.
	EndValue int64
	// Trigger is the reminder offset applied to each occurrence start.
	Trigger domain.AlarmTrigger
	// Local is the location yielded times are converted to.
	Local *time.Location
}

// Occurrence is one future firing of a recurring alarm.
type Occurrence struct {
	// Time is when the reminder fires, in the local location.
	Time time.Time
	// Index is the absolute position of the occurrence within the series,
	// counted from the first occurrence of the event. It is the stable half
	// of the host registration identity, so it must not depend on Now.
	Index int
	// EventStart is the start of the occurrence's event, in the local location.
	EventStart time.Time
}

// Iterator lazily yields future occurrences in ascending order. It is finite:
// the rule's end condition or the scheduling window terminates it.
type Iterator struct {
	next    rrule.Next
	params  Params
	index   int
	yielded int
}

// frequencies maps the domain repeat periods onto rrule frequencies.
var frequencies = map[domain.RepeatPeriod]rrule.Frequency{
	domain.RepeatPeriodDaily:    rrule.DAILY,
	domain.RepeatPeriodWeekly:   rrule.WEEKLY,
	domain.RepeatPeriodMonthly:  rrule.MONTHLY,
	domain.RepeatPeriodAnnually: rrule.YEARLY,
}

// Expand builds an iterator over the future occurrences the rule produces.
func Expand(params Params) (*Iterator, error) {
	frequency, ok := frequencies[params.Frequency]
	if !ok {
		return nil, fmt.Errorf("unknown repeat period: %d", params.Frequency)
	}

	if params.Timezone == nil {
		params.Timezone = time.UTC
	}

	if params.Local == nil {
		params.Local = time.Local
	}

	if params.Interval <= 0 {
		params.Interval = 1
	}

	option := rrule.ROption{
		Freq:     frequency,
		Interval: params.Interval,
		Dtstart:  params.EventStart.In(params.Timezone),
	}

	switch params.EndType {
	case domain.EndTypeCount:
		option.Count = int(params.EndValue)
	case domain.EndTypeUntilDate:
		option.Until = time.UnixMilli(params.EndValue).In(params.Timezone)
	case domain.EndTypeNever:
	}

	rule, err := rrule.NewRRule(option)
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}

	return &Iterator{
		next:   rule.Iterator(),
		params: params,
	}, nil
}

// Next returns the next future occurrence, or ok=false when the sequence is
// exhausted. Past occurrences advance the index but are never yielded.
func (it *Iterator) Next() (Occurrence, bool) {
	for it.yielded < occurrencesScheduledAhead {
		eventStart, ok := it.next()
		if !ok {
			break
		}

		index := it.index
		it.index++

		reminder := eventStart.Add(it.params.Trigger.Offset())
		if !reminder.After(it.params.Now) {
			continue
		}

		it.yielded++

		return Occurrence{
			Time:       reminder.In(it.params.Local),
			Index:      index,
			EventStart: eventStart.In(it.params.Local),
		}, true
	}

	return Occurrence{}, false
}
