package milestone

import (
	"slices"

	"fieldwatch/internal/types"
)

// farmerTable: a farmer advances work up to submission and no further.
var farmerTable = map[Status][]Status{
	StatusNotStarted: {StatusInProgress, StatusPendingVerification},
	StatusInProgress: {StatusPendingVerification},
}

// reviewerTable: a reviewer decides submitted work or skips unsubmitted
// work. Nothing leaves verified: the payout it triggers cannot be undone.
var reviewerTable = map[Status][]Status{
	StatusNotStarted:          {StatusSkipped},
	StatusInProgress:          {StatusSkipped},
	StatusPendingVerification: {StatusVerified, StatusRejected},
}

func lookup(table map[Status][]Status, current Status) []Status {
	next := table[Normalize(string(current))]
	if next == nil {
		return []Status{}
	}
	return slices.Clone(next)
}

// FarmerTransitions lists the states a farmer may move current to. The result
// is empty for pending_verification, terminal and unknown states.
func FarmerTransitions(current Status) []Status {
	return lookup(farmerTable, current)
}

// ReviewerTransitions lists the states a reviewer may move current to.
func ReviewerTransitions(current Status) []Status {
	return lookup(reviewerTable, current)
}

// AllowedTransitions dispatches on role. Unknown roles get an empty list.
func AllowedTransitions(role types.Role, current Status) []Status {
	switch role {
	case types.RoleFarmer:
		return FarmerTransitions(current)
	case types.RoleAdmin:
		return ReviewerTransitions(current)
	default:
		return []Status{}
	}
}

// CanTransition reports whether role may move from to to.
func CanTransition(role types.Role, from, to Status) bool {
	return slices.Contains(AllowedTransitions(role, from), Normalize(string(to)))
}

// IsTerminal reports whether no further transitions exist for anyone.
func IsTerminal(s Status) bool {
	switch Normalize(string(s)) {
	case StatusVerified, StatusRejected, StatusSkipped:
		return true
	}
	return false
}

// IsCompletedForReporting reports whether the milestone counts toward
// available reports. Submission is enough; the review outcome is not needed.
func IsCompletedForReporting(s Status) bool {
	switch Normalize(string(s)) {
	case StatusPendingVerification, StatusVerified, StatusRejected:
		return true
	}
	return false
}
