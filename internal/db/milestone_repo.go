package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"fieldwatch/internal/milestone"
	"fieldwatch/internal/types"
)

// MilestoneRepository implements milestone.Repository.
//
// Status writes are compare-and-swap on the version column: the UPDATE only
// matches the row version the caller read, so two reviewers acting on the
// same milestone cannot silently overwrite each other.
type MilestoneRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewMilestoneRepository creates a MilestoneRepository.
func NewMilestoneRepository(db DBTX, logger *slog.Logger) *MilestoneRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MilestoneRepository{db: db, logger: logger}
}

var _ milestone.Repository = (*MilestoneRepository)(nil)

// GetByID loads a milestone. The stored status label is returned verbatim;
// normalization happens in the service.
func (r *MilestoneRepository) GetByID(ctx context.Context, id string) (*milestone.Milestone, error) {
	var (
		m          milestone.Milestone
		status     string
		payout     string
		fieldID    *string
		currency   *string
		accountID  *string
		transferID *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, farmer_id, field_id, title, status,
		        payout_amount_cents, payout_currency, payout_account_id,
		        payout_status, payout_transfer_id, version, created_at, updated_at
		 FROM milestones
		 WHERE id = $1`,
		id,
	).Scan(
		&m.ID, &m.FarmerID, &fieldID, &m.Title, &status,
		&m.PayoutAmountCents, &currency, &accountID,
		&payout, &transferID, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundMilestone, "milestone not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load milestone", err)
	}

	m.Status = milestone.Status(status)
	m.PayoutStatus = milestone.PayoutStatus(payout)
	m.FieldID = deref(fieldID)
	m.PayoutCurrency = deref(currency)
	m.PayoutAccountID = deref(accountID)
	m.PayoutTransferID = deref(transferID)
	return &m, nil
}

// UpdateStatus writes to if the stored version still equals expectedVersion
// and returns the incremented version. A version mismatch is
// conflict_concurrent_modification; a missing row is not_found_milestone.
func (r *MilestoneRepository) UpdateStatus(ctx context.Context, id string, expectedVersion int64, to milestone.Status) (int64, error) {
	var newVersion int64
	err := r.db.QueryRow(ctx,
		`UPDATE milestones
		 SET status = $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2 AND version = $3
		 RETURNING version`,
		string(to), id, expectedVersion,
	).Scan(&newVersion)
	if err == nil {
		return newVersion, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to update milestone status", err)
	}

	// No row matched: distinguish a concurrent writer from a deleted row.
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM milestones WHERE id = $1)`,
		id,
	).Scan(&exists); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to check milestone", err)
	}
	if !exists {
		return 0, types.NewAppError(types.ErrCodeNotFoundMilestone, "milestone not found", nil)
	}

	r.logger.WarnContext(ctx, "milestone version conflict",
		slog.String("milestone_id", id),
		slog.Int64("expected_version", expectedVersion),
	)
	return 0, types.NewAppError(types.ErrCodeConflictConcurrent,
		fmt.Sprintf("milestone %s was modified concurrently", id), nil)
}

// SetPayout records the outcome of a payout attempt. It does not bump the
// version: payout bookkeeping never races a status change.
func (r *MilestoneRepository) SetPayout(ctx context.Context, id string, status milestone.PayoutStatus, transferID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE milestones
		 SET payout_status = $1,
		     payout_transfer_id = NULLIF($2, ''),
		     updated_at = NOW()
		 WHERE id = $3`,
		string(status), transferID, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record payout", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundMilestone, "milestone not found", nil)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
