package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"fieldwatch/internal/geometry"
	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// DefaultObservationLimit caps ListObservations when no limit is given.
const DefaultObservationLimit = 100

// Observation is one stored index value for a field.
type Observation struct {
	ID          string           `json:"id"`
	FieldID     string           `json:"field_id"`
	JobID       string           `json:"job_id,omitempty"`
	Index       vegetation.Index `json:"index"`
	ObservedAt  time.Time        `json:"observed_at"`
	Mean        float64          `json:"mean"`
	Min         *float64         `json:"min,omitempty"`
	Max         *float64         `json:"max,omitempty"`
	StDev       *float64         `json:"stdev,omitempty"`
	SampleCount int              `json:"sample_count"`
	CreatedAt   time.Time        `json:"created_at"`
}

// EnqueueStatistics validates q and hands it to the stats worker, returning
// the job ID. Validation runs here so a malformed request never reaches the
// queue.
func (s *Service) EnqueueStatistics(ctx context.Context, q StatisticsQuery) (string, error) {
	if s.deps.Jobs == nil {
		return "", &types.ConfigurationError{Service: "sqs", Setting: "SQS_STATS_JOBS"}
	}
	if q.FieldID == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "field_id is required", nil)
	}
	if len(q.Indices) == 0 {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "at least one index is required", nil)
	}
	if _, err := s.bandMap(q.Profile); err != nil {
		return "", err
	}

	geom, err := geometry.EncodeGeoJSON(q.Polygon)
	if err != nil {
		return "", err
	}

	indices := make([]string, len(q.Indices))
	for i, idx := range q.Indices {
		indices[i] = string(idx)
	}

	msg := types.StatsJobMessage{
		JobID:     uuid.NewString(),
		FieldID:   q.FieldID,
		Geometry:  geom,
		Date:      q.Date,
		Indices:   indices,
		MaxCloud:  q.MaxCloud,
		Profile:   q.Profile,
		TraceID:   types.GetRequestID(ctx),
		CreatedAt: s.now().UTC(),
	}
	if err := s.deps.Jobs.PublishStatsJob(ctx, msg); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue statistics job", err)
	}

	s.logger.InfoContext(ctx, "statistics job enqueued",
		"job_id", msg.JobID,
		"field_id", msg.FieldID,
		"indices", indices,
	)
	return msg.JobID, nil
}

// ProcessJob runs a queued statistics job and stores every index that
// produced a value. Validation errors are permanent; any other error means
// the job may succeed on redelivery.
func (s *Service) ProcessJob(ctx context.Context, msg types.StatsJobMessage) (*StatisticsReport, error) {
	polygon, err := decodeJobPolygon(msg.Geometry)
	if err != nil {
		return nil, err
	}

	indices := make([]vegetation.Index, 0, len(msg.Indices))
	for _, raw := range msg.Indices {
		idx, err := vegetation.ParseIndex(raw)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidIndex, err.Error(), err)
		}
		indices = append(indices, idx)
	}

	report, err := s.ComputeStatistics(ctx, StatisticsQuery{
		FieldID:  msg.FieldID,
		Polygon:  polygon,
		Date:     msg.Date,
		Indices:  indices,
		MaxCloud: msg.MaxCloud,
		Profile:  msg.Profile,
	})
	if err != nil {
		return report, err
	}

	obs := s.observationsFrom(msg, indices, report)
	if len(obs) == 0 {
		s.logger.InfoContext(ctx, "statistics job produced no observations",
			"job_id", msg.JobID,
			"field_id", msg.FieldID,
		)
		return report, nil
	}
	if s.deps.Observations == nil {
		return nil, &types.ConfigurationError{Service: "database", Setting: "observation store"}
	}
	if err := s.deps.Observations.SaveObservations(ctx, obs); err != nil {
		return nil, fmt.Errorf("saving observations for job %s: %w", msg.JobID, err)
	}

	s.logger.InfoContext(ctx, "statistics job completed",
		"job_id", msg.JobID,
		"field_id", msg.FieldID,
		"stored", len(obs),
		"failed", report.Failed,
	)
	return report, nil
}

// ListObservations returns stored values for a field, newest first. An empty
// idx lists every index.
func (s *Service) ListObservations(ctx context.Context, fieldID string, idx vegetation.Index, limit int) ([]Observation, error) {
	if s.deps.Observations == nil {
		return nil, &types.ConfigurationError{Service: "database", Setting: "observation store"}
	}
	if limit <= 0 || limit > DefaultObservationLimit {
		limit = DefaultObservationLimit
	}
	obs, err := s.deps.Observations.ListByField(ctx, fieldID, idx, limit)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = []Observation{}
	}
	return obs, nil
}

// observationsFrom keeps the indices with a mean. An all-cloud window has
// statistics but no value and is not stored.
func (s *Service) observationsFrom(msg types.StatsJobMessage, indices []vegetation.Index, report *StatisticsReport) []Observation {
	created := s.now().UTC()
	seen := make(map[vegetation.Index]bool, len(indices))

	var out []Observation
	for _, idx := range indices {
		if seen[idx] {
			continue
		}
		seen[idx] = true

		res, ok := report.Results[idx]
		if !ok || res.Statistics == nil || res.Statistics.Mean == nil {
			continue
		}
		st := res.Statistics
		observed := report.To
		if st.ObservedAt != nil {
			observed = st.ObservedAt.UTC()
		}
		out = append(out, Observation{
			ID:          uuid.NewString(),
			FieldID:     msg.FieldID,
			JobID:       msg.JobID,
			Index:       idx,
			ObservedAt:  observed,
			Mean:        *st.Mean,
			Min:         st.Min,
			Max:         st.Max,
			StDev:       st.StDev,
			SampleCount: st.SampleCount,
			CreatedAt:   created,
		})
	}
	return out
}

// decodeJobPolygon accepts any polygonal GeoJSON and rebuilds a closed ring
// from its outer boundary.
func decodeJobPolygon(raw []byte) (orb.Polygon, error) {
	g, err := geometry.ParseGeometry(raw)
	if err != nil {
		return nil, err
	}
	return geometry.ToPolygonGeometry(geometry.ToPointList(g))
}
