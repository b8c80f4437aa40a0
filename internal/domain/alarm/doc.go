// Package alarm contains core domain types for the alarm reconciliation engine.
//
// It defines AlarmNotification (a server directive to create or delete a
// reminder), the wrapped session key records that make its payload readable,
// the recurrence rule model and the trigger-offset vocabulary.
package alarm
