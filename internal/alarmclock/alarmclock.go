package alarmclock

import (
	"sync"
	"time"
)

// Identity addresses one scheduled occurrence. It is derived only from the
// alarm identifier and the occurrence index; payload content never takes part
// in matching, so a cancel built from placeholder fields still hits the
// registration it targets.
type Identity struct {
	// Identifier is the stable identity of the logical alarm.
	Identifier string
	// Occurrence is the absolute index within the alarm's series (0 for one-shot).
	Occurrence int
}

// Payload is display data attached to a registration.
type Payload struct {
	// Summary is the human-readable description shown when the alarm fires.
	Summary string
	// EventStart is the start of the event the reminder belongs to.
	EventStart time.Time
	// User is the owning user of the alarm.
	User string
}

// Scheduler is the host one-shot alarm service. Registering the same identity
// again replaces the previous registration; cancelling an unknown identity is
// a no-op. Neither operation fails, matching platform alarm managers.
type Scheduler interface {
	Register(at time.Time, id Identity, payload Payload)
	Cancel(id Identity)
}

// FireFunc is invoked when a timer-backed registration goes off.
type FireFunc func(id Identity, payload Payload)

// TimerScheduler implements Scheduler with in-process timers. Registrations
// do not survive a process restart, which is why recurring alarms are
// persisted and re-armed by the reconciliation engine.
type TimerScheduler struct {
	// fire is called on the timer goroutine when a registration goes off.
	fire FireFunc
	// mu protects timers.
	mu sync.Mutex
	// timers holds the pending registrations by identity.
	timers map[Identity]*time.Timer
}

// NewTimerScheduler creates a scheduler that invokes fire for each expiry.
func NewTimerScheduler(fire FireFunc) *TimerScheduler {
	return &TimerScheduler{
		fire:   fire,
		timers: make(map[Identity]*time.Timer),
	}
}

// Register arms a one-shot timer for the identity, replacing any pending one.
func (s *TimerScheduler) Register(at time.Time, id Identity, payload Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[id]; ok {
		timer.Stop()
	}

	s.timers[id] = time.AfterFunc(time.Until(at), func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()

		if s.fire != nil {
			s.fire(id, payload)
		}
	})
}

// Cancel disarms the registration for the identity, if any.
func (s *TimerScheduler) Cancel(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// Pending reports how many registrations are currently armed.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}
