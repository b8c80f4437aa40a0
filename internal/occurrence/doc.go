// Package occurrence expands a decrypted recurrence rule into the finite,
// ordered sequence of future reminder firings. Consumers pull occurrences
// from an Iterator; indices are absolute within the event's series so that
// scheduling and cancellation address identical host registrations.
package occurrence
