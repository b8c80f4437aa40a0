// Package manager implements the reconciliation orchestrator: it resolves
// per-notification session keys through a per-pass memoizing resolver,
// schedules and cancels host alarm registrations, and owns the persisted
// recurring-alarm set. Callers get two entry points, ReArm (restart recovery)
// and Apply (server-delivered batches); the manager serializes them so only
// one reconciliation pass runs at a time.
package manager
