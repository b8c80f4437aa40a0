package manager

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rdvincent/tutanota/internal/alarmclock"
	"github.com/rdvincent/tutanota/internal/crypto"
	domain "github.com/rdvincent/tutanota/internal/domain/alarm"
	"github.com/rdvincent/tutanota/internal/logger"
	"github.com/rdvincent/tutanota/internal/occurrence"
)

// decryptSessionKey decodes and unwraps one copy of a notification's session key.
func decryptSessionKey(channelKey []byte, wrappedSessionKey string) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(wrappedSessionKey)
	if err != nil {
		return nil, fmt.Errorf("decode session key: %w", err)
	}

	sessionKey, err := crypto.DecryptKey(channelKey, wrapped)
	if err != nil {
		return nil, fmt.Errorf("decrypt session key: %w", err)
	}

	return sessionKey, nil
}

// schedule decrypts the notification payload and registers every upcoming
// occurrence with the host alarm service. Decrypt failures are soft: the
// alarm is skipped with a warning.
func (m *Manager) schedule(ctx context.Context, notification *domain.AlarmNotification, sessionKey []byte) {
	triggerSpec, err := crypto.DecryptString(sessionKey, notification.Trigger)
	if err != nil {
		m.warnDecrypt(ctx, notification, err)

		return
	}

	summary, err := crypto.DecryptString(sessionKey, notification.Summary)
	if err != nil {
		m.warnDecrypt(ctx, notification, err)

		return
	}

	eventStart, err := crypto.DecryptTime(sessionKey, notification.EventStart)
	if err != nil {
		m.warnDecrypt(ctx, notification, err)

		return
	}

	user, err := crypto.DecryptString(sessionKey, notification.User)
	if err != nil {
		m.warnDecrypt(ctx, notification, err)

		return
	}

	var (
		trigger = domain.ParseAlarmTrigger(triggerSpec)
		now     = m.now()
	)

	if !notification.IsRecurring() {
		reminder := eventStart.Add(trigger.Offset())
		if !reminder.After(now) {
			logger.DebugKV(ctx, "Skipping past-due alarm",
				"identifier", notification.Identifier, "at", reminder, "now", now)

			return
		}

		m.register(ctx, reminder, alarmclock.Identity{
			Identifier: notification.Identifier,
			Occurrence: 0,
		}, alarmclock.Payload{
			Summary:    summary,
			EventStart: eventStart,
			User:       user,
		})

		return
	}

	it, err := m.expand(notification, sessionKey, now, trigger, eventStart)
	if err != nil {
		m.warnDecrypt(ctx, notification, err)

		return
	}

	for occ, ok := it.Next(); ok; occ, ok = it.Next() {
		m.register(ctx, occ.Time, alarmclock.Identity{
			Identifier: notification.Identifier,
			Occurrence: occ.Index,
		}, alarmclock.Payload{
			Summary:    summary,
			EventStart: occ.EventStart,
			User:       user,
		})
	}
}

// cancel removes host registrations for a deleted alarm. Delete notifications
// carry no usable key material, so the persisted copy is consulted: without a
// persisted match the alarm is treated as one-shot and exactly occurrence 0
// is cancelled; with a match the occurrences are recomputed from the current
// time and every index is cancelled.
func (m *Manager) cancel(ctx context.Context, notification *domain.AlarmNotification, resolver *PushKeyResolver) {
	saved := m.loadSaved(ctx)

	idx := indexByIdentifier(saved, notification.Identifier)
	if idx < 0 {
		logger.DebugKV(ctx, "Cancelling alarm", "identifier", notification.Identifier)

		m.clock.Cancel(alarmclock.Identity{
			Identifier: notification.Identifier,
			Occurrence: 0,
		})

		return
	}

	persisted := &saved[idx]

	sessionKey := m.resolveSessionKey(ctx, persisted, resolver)
	if sessionKey == nil {
		logger.WarnKV(ctx, "Could not resolve session key to cancel alarm",
			"identifier", notification.Identifier)

		return
	}

	triggerSpec, err := crypto.DecryptString(sessionKey, persisted.Trigger)
	if err != nil {
		m.warnDecrypt(ctx, persisted, err)

		return
	}

	eventStart, err := crypto.DecryptTime(sessionKey, persisted.EventStart)
	if err != nil {
		m.warnDecrypt(ctx, persisted, err)

		return
	}

	it, err := m.expand(persisted, sessionKey, m.now(), domain.ParseAlarmTrigger(triggerSpec), eventStart)
	if err != nil {
		m.warnDecrypt(ctx, persisted, err)

		return
	}

	for occ, ok := it.Next(); ok; occ, ok = it.Next() {
		logger.DebugKV(ctx, "Cancelling alarm occurrence",
			"identifier", notification.Identifier, "occurrence", occ.Index)

		m.clock.Cancel(alarmclock.Identity{
			Identifier: notification.Identifier,
			Occurrence: occ.Index,
		})
	}
}

// expand decrypts the recurrence rule and builds the occurrence iterator
// starting from the provided time.
func (m *Manager) expand(
	notification *domain.AlarmNotification,
	sessionKey []byte,
	from time.Time,
	trigger domain.AlarmTrigger,
	eventStart time.Time,
) (*occurrence.Iterator, error) {
	rule := notification.RepeatRule

	timezoneName, err := crypto.DecryptString(sessionKey, rule.Timezone)
	if err != nil {
		return nil, err
	}

	timezone, err := time.LoadLocation(timezoneName)
	if err != nil {
		// An unknown zone still yields reminders, just in UTC.
		timezone = time.UTC
	}

	eventEnd, err := crypto.DecryptTime(sessionKey, notification.EventEnd)
	if err != nil {
		return nil, err
	}

	frequency, err := crypto.DecryptInt(sessionKey, rule.Frequency)
	if err != nil {
		return nil, err
	}

	interval, err := crypto.DecryptInt(sessionKey, rule.Interval)
	if err != nil {
		return nil, err
	}

	endType, err := crypto.DecryptInt(sessionKey, rule.EndType)
	if err != nil {
		return nil, err
	}

	var endValue int64
	if domain.EndType(endType) != domain.EndTypeNever {
		if endValue, err = crypto.DecryptInt(sessionKey, rule.EndValue); err != nil {
			return nil, err
		}
	}

	return occurrence.Expand(occurrence.Params{
		Now:        from,
		Timezone:   timezone,
		EventStart: eventStart,
		EventEnd:   eventEnd,
		Frequency:  domain.RepeatPeriod(frequency),
		Interval:   int(interval),
		EndType:    domain.EndType(endType),
		EndValue:   endValue,
		Trigger:    trigger,
		Local:      m.local,
	})
}

// register arms one host alarm.
func (m *Manager) register(ctx context.Context, at time.Time, id alarmclock.Identity, payload alarmclock.Payload) {
	logger.DebugKV(ctx, "Scheduling alarm occurrence",
		"identifier", id.Identifier, "occurrence", id.Occurrence, "at", at)

	m.clock.Register(at, id, payload)
}

// warnDecrypt logs a soft payload-decryption failure.
func (m *Manager) warnDecrypt(ctx context.Context, notification *domain.AlarmNotification, err error) {
	logger.WarnKV(ctx, "Could not decrypt alarm notification",
		"identifier", notification.Identifier, "error", err)
}
