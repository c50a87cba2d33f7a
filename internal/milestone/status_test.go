package milestone

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fieldwatch/internal/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"pending_verification", StatusPendingVerification},
		{"Completed", StatusPendingVerification},
		{"  submitted ", StatusPendingVerification},
		{"approved", StatusVerified},
		{"APPROVED", StatusVerified},
		{"declined", StatusRejected},
		{"In Progress", StatusInProgress},
		{"in-progress", StatusInProgress},
		{"started", StatusInProgress},
		{"pending", StatusNotStarted},
		{"", StatusNotStarted},
		{"   ", StatusNotStarted},
		{"Verified", StatusVerified},
		{"skipped", StatusSkipped},
		{"on hold", Status("on hold")},
		{"Archived", Status("Archived")},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, s := range AllStatuses {
		assert.Equal(t, s, Normalize(string(s)))
		assert.Equal(t, s, Normalize(string(Normalize(string(s)))))
	}
	assert.False(t, Normalize("on hold").Valid())
}

func TestFarmerTransitions(t *testing.T) {
	tests := []struct {
		from Status
		want []Status
	}{
		{StatusNotStarted, []Status{StatusInProgress, StatusPendingVerification}},
		{StatusInProgress, []Status{StatusPendingVerification}},
		{StatusPendingVerification, []Status{}},
		{StatusVerified, []Status{}},
		{StatusRejected, []Status{}},
		{StatusSkipped, []Status{}},
		{Status("on hold"), []Status{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			assert.Equal(t, tt.want, FarmerTransitions(tt.from))
		})
	}
}

func TestReviewerTransitions(t *testing.T) {
	tests := []struct {
		from Status
		want []Status
	}{
		{StatusNotStarted, []Status{StatusSkipped}},
		{StatusInProgress, []Status{StatusSkipped}},
		{StatusPendingVerification, []Status{StatusVerified, StatusRejected}},
		{StatusVerified, []Status{}},
		{StatusRejected, []Status{}},
		{StatusSkipped, []Status{}},
		{Status("completed"), []Status{StatusVerified, StatusRejected}},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			assert.Equal(t, tt.want, ReviewerTransitions(tt.from))
		})
	}
}

func TestTransitionListsAreCopies(t *testing.T) {
	got := ReviewerTransitions(StatusPendingVerification)
	got[0] = StatusSkipped
	assert.Equal(t, []Status{StatusVerified, StatusRejected}, ReviewerTransitions(StatusPendingVerification))
}

func TestVerifiedIsIrreversible(t *testing.T) {
	for _, role := range []types.Role{types.RoleFarmer, types.RoleAdmin} {
		assert.Empty(t, AllowedTransitions(role, StatusVerified))
		for _, to := range AllStatuses {
			assert.False(t, CanTransition(role, StatusVerified, to), "%s: verified -> %s", role, to)
		}
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(types.RoleFarmer, StatusNotStarted, StatusInProgress))
	assert.True(t, CanTransition(types.RoleFarmer, "Started", "submitted"))
	assert.False(t, CanTransition(types.RoleFarmer, StatusPendingVerification, StatusVerified))
	assert.False(t, CanTransition(types.RoleFarmer, StatusInProgress, StatusSkipped))
	assert.True(t, CanTransition(types.RoleAdmin, StatusPendingVerification, StatusRejected))
	assert.False(t, CanTransition(types.RoleAdmin, StatusInProgress, StatusVerified))
	assert.False(t, CanTransition(types.Role("guest"), StatusNotStarted, StatusInProgress))
	assert.Empty(t, AllowedTransitions(types.Role("guest"), StatusNotStarted))
}

func TestPredicates(t *testing.T) {
	terminal := map[Status]bool{StatusVerified: true, StatusRejected: true, StatusSkipped: true}
	reporting := map[Status]bool{StatusPendingVerification: true, StatusVerified: true, StatusRejected: true}

	for _, s := range AllStatuses {
		assert.Equal(t, terminal[s], IsTerminal(s), "IsTerminal(%s)", s)
		assert.Equal(t, reporting[s], IsCompletedForReporting(s), "IsCompletedForReporting(%s)", s)
	}

	assert.True(t, IsCompletedForReporting("Completed"))
	assert.True(t, IsTerminal("approved"))
	assert.False(t, IsTerminal("on hold"))
	assert.False(t, IsCompletedForReporting("on hold"))
}
