// Package alarms implements persistence for the recurring-alarm set.
//
// The FileRepository stores the set as a JSON array on disk and exposes the
// Repository interface the reconciliation engine depends on. Missing or
// malformed data always loads as an empty set.
package alarms
