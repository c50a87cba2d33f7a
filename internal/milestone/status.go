// Package milestone owns the milestone lifecycle: normalizing stored status
// labels into the closed Status enum, the per-role transition tables, and the
// Service that applies transitions against the store and releases payouts.
package milestone

import "strings"

// Status is a canonical milestone lifecycle state.
type Status string

const (
	StatusNotStarted          Status = "not_started"
	StatusInProgress          Status = "in_progress"
	StatusPendingVerification Status = "pending_verification"
	StatusVerified            Status = "verified"
	StatusRejected            Status = "rejected"
	StatusSkipped             Status = "skipped"
)

// AllStatuses lists the canonical states in lifecycle order.
var AllStatuses = []Status{
	StatusNotStarted,
	StatusInProgress,
	StatusPendingVerification,
	StatusVerified,
	StatusRejected,
	StatusSkipped,
}

// Valid reports whether s is one of the canonical states.
func (s Status) Valid() bool {
	for _, c := range AllStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// legacyStatuses maps free-text labels written by older clients.
var legacyStatuses = map[string]Status{
	"completed":   StatusPendingVerification,
	"complete":    StatusPendingVerification,
	"submitted":   StatusPendingVerification,
	"pending":     StatusNotStarted,
	"todo":        StatusNotStarted,
	"started":     StatusInProgress,
	"in progress": StatusInProgress,
	"in-progress": StatusInProgress,
	"approved":    StatusVerified,
	"declined":    StatusRejected,
}

// Normalize maps a stored label to its canonical Status. Matching is
// case-insensitive and ignores surrounding whitespace. Empty input is
// not_started. Unrecognized input is returned unchanged, so callers must
// check Valid before relying on the result.
func Normalize(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return StatusNotStarted
	}
	if s := Status(key); s.Valid() {
		return s
	}
	if s, ok := legacyStatuses[key]; ok {
		return s
	}
	return Status(raw)
}
