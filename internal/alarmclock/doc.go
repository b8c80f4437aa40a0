// Package alarmclock defines the host one-shot alarm contract the engine
// schedules against. Registrations are addressed by (identifier, occurrence)
// alone; TimerScheduler is the in-process implementation used by the agent.
package alarmclock
