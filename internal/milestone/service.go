package milestone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fieldwatch/internal/types"
)

// PayoutStatus tracks the money side of a verified milestone.
type PayoutStatus string

const (
	PayoutNone    PayoutStatus = "none"
	PayoutPaid    PayoutStatus = "paid"
	PayoutFailed  PayoutStatus = "failed"
	PayoutSkipped PayoutStatus = "not_applicable"
)

// Milestone is a unit of farm work with an optional payout on verification.
// Status holds the label exactly as stored; use Current for comparisons.
type Milestone struct {
	ID                string       `json:"id"`
	FarmerID          string       `json:"farmer_id"`
	FieldID           string       `json:"field_id,omitempty"`
	Title             string       `json:"title"`
	Status            Status       `json:"status"`
	PayoutAmountCents int64        `json:"payout_amount_cents"`
	PayoutCurrency    string       `json:"payout_currency,omitempty"`
	PayoutAccountID   string       `json:"-"`
	PayoutStatus      PayoutStatus `json:"payout_status"`
	PayoutTransferID  string       `json:"payout_transfer_id,omitempty"`
	Version           int64        `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Current returns the normalized status.
func (m *Milestone) Current() Status {
	return Normalize(string(m.Status))
}

// Repository is the persistence contract for milestones.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Milestone, error)
	// UpdateStatus writes the new status only if the stored version still
	// equals expectedVersion, returning ErrCodeConflictConcurrent otherwise.
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, to Status) (newVersion int64, err error)
	SetPayout(ctx context.Context, id string, status PayoutStatus, transferID string) error
}

// PayoutRequest describes the transfer released for a verified milestone.
type PayoutRequest struct {
	MilestoneID    string
	AmountCents    int64
	Currency       string
	DestinationAcc string
}

// Payouts releases money for verified milestones. Implementations must be
// idempotent on MilestoneID.
type Payouts interface {
	ReleaseMilestonePayout(ctx context.Context, req PayoutRequest) (transferID string, err error)
}

// View is a milestone together with the transitions open to the caller.
type View struct {
	*Milestone
	Status             Status   `json:"status"`
	RawStatus          string   `json:"raw_status,omitempty"`
	AllowedTransitions []Status `json:"allowed_transitions"`
	Terminal           bool     `json:"terminal"`
	CompletedForReport bool     `json:"completed_for_reporting"`
}

// Service applies lifecycle rules on top of a Repository.
type Service struct {
	repo    Repository
	payouts Payouts
	logger  *slog.Logger
}

// NewService wires a Service. payouts may be nil, in which case verified
// milestones with an amount are marked failed and can be retried later.
func NewService(repo Repository, payouts Payouts, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, payouts: payouts, logger: logger}
}

// Get loads a milestone visible to actor.
func (s *Service) Get(ctx context.Context, actor types.Actor, id string) (*View, error) {
	m, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.view(actor, m), nil
}

// Transition moves a milestone to the requested state on behalf of actor.
// The write is a compare-and-swap on the version read, so a concurrent
// transition surfaces as a conflict rather than being overwritten. Reaching
// verified releases the payout; a payout failure does not undo the
// transition and is recorded on the milestone for RetryPayout.
func (s *Service) Transition(ctx context.Context, actor types.Actor, id string, to Status) (*View, error) {
	target := Normalize(string(to))
	if !target.Valid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidStatus,
			fmt.Sprintf("unknown milestone status %q", to), nil)
	}

	m, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	current := m.Current()
	if IsTerminal(current) {
		return nil, types.NewAppError(types.ErrCodeConflictTerminal,
			fmt.Sprintf("milestone is %s and can no longer change", current), nil)
	}
	if !CanTransition(actor.Role, current, target) {
		return nil, types.NewAppError(types.ErrCodePermissionTransition,
			fmt.Sprintf("%s may not move a milestone from %s to %s", actor.Role, current, target), nil).
			WithDetails(map[string]any{"allowed": AllowedTransitions(actor.Role, current)})
	}

	version, err := s.repo.UpdateStatus(ctx, m.ID, m.Version, target)
	if err != nil {
		return nil, err
	}
	m.Status = target
	m.Version = version

	s.logger.InfoContext(ctx, "milestone transitioned",
		"milestone_id", m.ID,
		"from", current,
		"to", target,
		"actor_id", actor.ID,
		"role", actor.Role,
	)

	if target == StatusVerified {
		s.releasePayout(ctx, m)
	}
	return s.view(actor, m), nil
}

// RetryPayout re-attempts the payout of a verified milestone whose earlier
// attempt failed. Only reviewers may call it.
func (s *Service) RetryPayout(ctx context.Context, actor types.Actor, id string) (*View, error) {
	if actor.Role != types.RoleAdmin {
		return nil, types.NewAppError(types.ErrCodePermissionRole, "only reviewers can release payouts", nil)
	}
	m, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if m.Current() != StatusVerified {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidStatus,
			"payouts are only released for verified milestones", nil)
	}
	if m.PayoutStatus == PayoutPaid {
		return s.view(actor, m), nil
	}

	s.releasePayout(ctx, m)
	return s.view(actor, m), nil
}

func (s *Service) load(ctx context.Context, actor types.Actor, id string) (*Milestone, error) {
	if !actor.Role.Valid() {
		return nil, types.NewAppError(types.ErrCodePermissionRole, "unknown role", nil)
	}
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Farmers only see their own milestones; hide existence otherwise.
	if actor.Role == types.RoleFarmer && m.FarmerID != actor.ID {
		return nil, types.NewAppError(types.ErrCodeNotFoundMilestone, "milestone not found", nil)
	}
	return m, nil
}

func (s *Service) view(actor types.Actor, m *Milestone) *View {
	current := m.Current()
	v := &View{
		Milestone:          m,
		Status:             current,
		AllowedTransitions: AllowedTransitions(actor.Role, current),
		Terminal:           IsTerminal(current),
		CompletedForReport: IsCompletedForReporting(current),
	}
	if string(current) != string(m.Status) {
		v.RawStatus = string(m.Status)
	}
	return v
}

// releasePayout records the outcome on m and in the store. Errors are logged,
// never returned: the status change has already been committed.
func (s *Service) releasePayout(ctx context.Context, m *Milestone) {
	if m.PayoutAmountCents <= 0 {
		m.PayoutStatus = PayoutSkipped
		s.persistPayout(ctx, m)
		return
	}

	if s.payouts == nil || m.PayoutAccountID == "" {
		m.PayoutStatus = PayoutFailed
		s.logger.ErrorContext(ctx, "payout not possible",
			"milestone_id", m.ID,
			"has_client", s.payouts != nil,
			"has_destination", m.PayoutAccountID != "",
		)
		s.persistPayout(ctx, m)
		return
	}

	transferID, err := s.payouts.ReleaseMilestonePayout(ctx, PayoutRequest{
		MilestoneID:    m.ID,
		AmountCents:    m.PayoutAmountCents,
		Currency:       m.PayoutCurrency,
		DestinationAcc: m.PayoutAccountID,
	})
	if err != nil {
		m.PayoutStatus = PayoutFailed
		s.logger.ErrorContext(ctx, "payout failed",
			"milestone_id", m.ID,
			"amount_cents", m.PayoutAmountCents,
			"error", err,
		)
		s.persistPayout(ctx, m)
		return
	}

	m.PayoutStatus = PayoutPaid
	m.PayoutTransferID = transferID
	s.persistPayout(ctx, m)
}

func (s *Service) persistPayout(ctx context.Context, m *Milestone) {
	if err := s.repo.SetPayout(ctx, m.ID, m.PayoutStatus, m.PayoutTransferID); err != nil {
		var appErr *types.AppError
		level := slog.LevelError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundMilestone {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "failed to record payout outcome",
			"milestone_id", m.ID,
			"payout_status", m.PayoutStatus,
			"error", err,
		)
	}
}
