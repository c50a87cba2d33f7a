package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fieldwatch/internal/monitoring"
	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// observationColumns is the insert column order; keep it in sync with the
// argument order in SaveObservations.
const observationColumns = 11

// ObservationRepository stores index statistics per field and date. It
// implements monitoring.ObservationStore.
type ObservationRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewObservationRepository creates an ObservationRepository.
func NewObservationRepository(db DBTX, logger *slog.Logger) *ObservationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservationRepository{db: db, logger: logger}
}

var _ monitoring.ObservationStore = (*ObservationRepository)(nil)

// SaveObservations inserts obs in one statement. A row for the same field,
// index and observation time is overwritten, so a redelivered job does not
// duplicate values.
func (r *ObservationRepository) SaveObservations(ctx context.Context, obs []monitoring.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO observations
		(id, field_id, job_id, index_name, observed_at, mean, min_value, max_value, stdev, sample_count, created_at)
		VALUES `)

	args := make([]any, 0, len(obs)*observationColumns)
	for i, o := range obs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * observationColumns
		sb.WriteString("(")
		for c := 1; c <= observationColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteString(")")

		args = append(args,
			o.ID, o.FieldID, nullIfEmpty(o.JobID), string(o.Index), o.ObservedAt,
			o.Mean, o.Min, o.Max, o.StDev, o.SampleCount, o.CreatedAt,
		)
	}
	sb.WriteString(`
		ON CONFLICT (field_id, index_name, observed_at) DO UPDATE
		SET job_id = EXCLUDED.job_id,
		    mean = EXCLUDED.mean,
		    min_value = EXCLUDED.min_value,
		    max_value = EXCLUDED.max_value,
		    stdev = EXCLUDED.stdev,
		    sample_count = EXCLUDED.sample_count`)

	tag, err := r.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save observations", err)
	}

	r.logger.DebugContext(ctx, "observations saved",
		slog.String("field_id", obs[0].FieldID),
		slog.Int64("rows", tag.RowsAffected()),
	)
	return nil
}

// ListByField returns up to limit observations for a field, newest first.
// An empty idx matches every index.
func (r *ObservationRepository) ListByField(ctx context.Context, fieldID string, idx vegetation.Index, limit int) ([]monitoring.Observation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, field_id, COALESCE(job_id, ''), index_name, observed_at, mean,
		        min_value, max_value, stdev, sample_count, created_at
		 FROM observations
		 WHERE field_id = $1 AND ($2 = '' OR index_name = $2)
		 ORDER BY observed_at DESC, index_name
		 LIMIT $3`,
		fieldID, string(idx), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list observations", err)
	}
	defer rows.Close()

	out := []monitoring.Observation{}
	for rows.Next() {
		var (
			o     monitoring.Observation
			index string
		)
		if err := rows.Scan(
			&o.ID, &o.FieldID, &o.JobID, &index, &o.ObservedAt, &o.Mean,
			&o.Min, &o.Max, &o.StDev, &o.SampleCount, &o.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan observation", err)
		}
		o.Index = vegetation.Index(index)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate observations", err)
	}
	return out, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
