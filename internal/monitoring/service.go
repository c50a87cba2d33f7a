// Package monitoring runs vegetation index statistics over a field boundary.
// It owns the settle-all fan-out behind the synchronous API, the queued
// variant executed by the stats worker, and the scene and raster lookups
// that accompany them.
package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"fieldwatch/internal/config"
	"fieldwatch/internal/external"
	"fieldwatch/internal/imagery"
	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// StatsJobPublisher enqueues statistics jobs for the worker.
type StatsJobPublisher interface {
	PublishStatsJob(ctx context.Context, msg types.StatsJobMessage) error
}

// ObservationStore persists computed index values per field.
type ObservationStore interface {
	SaveObservations(ctx context.Context, obs []Observation) error
	ListByField(ctx context.Context, fieldID string, idx vegetation.Index, limit int) ([]Observation, error)
}

// IndexMetrics counts per-index outcomes of a statistics run.
type IndexMetrics interface {
	RecordIndexOutcome(ctx context.Context, idx vegetation.Index, ok bool)
}

// Options are the request defaults applied when a caller leaves them out.
type Options struct {
	FallbackDays     int
	MaxCloudCoverage float64
	Concurrency      int
	Profiles         imagery.SensorProfiles
	DefaultProfile   string
}

// OptionsFromConfig derives Options from the imagery configuration.
func OptionsFromConfig(cfg config.ImageryConfig) Options {
	return Options{
		FallbackDays:     cfg.FallbackDays,
		MaxCloudCoverage: cfg.MaxCloudCoverage,
		Concurrency:      cfg.StatsConcurrency,
		Profiles:         cfg.Profiles,
		DefaultProfile:   cfg.DefaultProfile,
	}
}

func (o Options) withDefaults() Options {
	if o.FallbackDays <= 0 {
		o.FallbackDays = imagery.DefaultFallbackDays
	}
	if o.Concurrency <= 0 {
		o.Concurrency = imagery.DefaultSettleLimit
	}
	if o.Profiles == nil {
		o.Profiles = imagery.DefaultSensorProfiles()
	}
	if o.DefaultProfile == "" {
		o.DefaultProfile = imagery.ProfileSentinel2
	}
	return o
}

// Dependencies are the collaborators of a Service. Any of them may be nil;
// the operations that need a missing one fail with a ConfigurationError.
type Dependencies struct {
	Statistics   external.StatisticsProvider
	Previews     external.PreviewRenderer
	Rasters      external.RasterStatistics
	Fields       external.FieldRegistry
	Jobs         StatsJobPublisher
	Observations ObservationStore
	Metrics      IndexMetrics
}

// Service implements the field monitoring operations.
type Service struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(deps Dependencies, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// StatisticsQuery selects the field, window and indices of a statistics run.
// A nil Date means the configured look-back window ending now; a nil
// MaxCloud means the configured cloud ceiling.
type StatisticsQuery struct {
	FieldID  string
	Polygon  orb.Polygon
	Date     *time.Time
	Indices  []vegetation.Index
	MaxCloud *float64
	Profile  string
}

// IndexResult is the settled outcome for one index. Exactly one of
// Statistics and Error is set.
type IndexResult struct {
	Statistics *external.IndexStatistics `json:"statistics,omitempty"`
	Health     vegetation.Health          `json:"health,omitempty"`
	Color      string                     `json:"color,omitempty"`
	Error      *ResultError               `json:"error,omitempty"`
}

// ResultError is the client-facing form of a failed index.
type ResultError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// StatisticsReport is the result of a statistics run.
type StatisticsReport struct {
	From      time.Time                        `json:"from"`
	To        time.Time                        `json:"to"`
	Results   map[vegetation.Index]IndexResult `json:"results"`
	Succeeded int                              `json:"succeeded"`
	Failed    int                              `json:"failed"`
}

// ComputeStatistics requests every distinct index independently and settles
// them all. A failed index is reported in its slot and never hides the
// others. Only when every index fails is an error returned, carrying the
// failure of the first index requested; the report still comes back so the
// per-index failures are not lost.
func (s *Service) ComputeStatistics(ctx context.Context, q StatisticsQuery) (*StatisticsReport, error) {
	if s.deps.Statistics == nil {
		return nil, &types.ConfigurationError{Service: "sentinelhub", Setting: "statistics provider"}
	}

	bm, err := s.bandMap(q.Profile)
	if err != nil {
		return nil, err
	}

	tr := imagery.BuildTimeRange(q.Date, s.opts.FallbackDays, s.now())
	reqs, err := imagery.BuildStatisticsRequests(q.Polygon, tr, q.Indices, imagery.StatisticsOptions{
		MaxCloudCoverage: s.maxCloud(q.MaxCloud),
		BandMap:          bm,
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]imagery.Task[*external.IndexStatistics], 0, len(reqs))
	for _, req := range reqs {
		tasks = append(tasks, imagery.Task[*external.IndexStatistics]{
			Name: string(req.Index),
			Run: func(ctx context.Context) (*external.IndexStatistics, error) {
				return s.deps.Statistics.Statistics(ctx, req)
			},
		})
	}
	outcomes := imagery.SettleAll(ctx, s.opts.Concurrency, tasks)

	report := &StatisticsReport{
		From:    tr.From,
		To:      tr.To,
		Results: make(map[vegetation.Index]IndexResult, len(reqs)),
	}
	var firstErr error
	for _, req := range reqs {
		out := outcomes[string(req.Index)]
		if !out.OK() {
			if firstErr == nil {
				firstErr = out.Err
			}
			report.Failed++
			report.Results[req.Index] = IndexResult{Error: resultError(out.Err)}
			s.recordOutcome(ctx, req.Index, false)
			s.logger.WarnContext(ctx, "index statistics failed",
				"field_id", q.FieldID,
				"index", req.Index,
				"error", out.Err.Error(),
			)
			continue
		}

		result := IndexResult{Statistics: out.Value}
		if req.Index == vegetation.IndexNDVI && out.Value != nil {
			result.Health = vegetation.HealthLabel(out.Value.Mean)
			result.Color = result.Health.Color()
		}
		report.Succeeded++
		report.Results[req.Index] = result
		s.recordOutcome(ctx, req.Index, true)
	}

	if report.Succeeded == 0 && firstErr != nil {
		return report, firstErr
	}
	return report, nil
}

// PreviewQuery selects the image rendered by RenderPreview.
type PreviewQuery struct {
	Polygon  orb.Polygon
	Date     *time.Time
	Index    vegetation.Index
	MaxCloud *float64
	Profile  string
	Width    int
	Height   int
}

// RenderPreview returns a colourised PNG of one index over the field.
func (s *Service) RenderPreview(ctx context.Context, q PreviewQuery) ([]byte, error) {
	if s.deps.Previews == nil {
		return nil, &types.ConfigurationError{Service: "sentinelhub", Setting: "preview renderer"}
	}
	bm, err := s.bandMap(q.Profile)
	if err != nil {
		return nil, err
	}

	tr := imagery.BuildTimeRange(q.Date, s.opts.FallbackDays, s.now())
	req, err := imagery.BuildProcessRequest(q.Polygon, tr, q.Index, imagery.ProcessOptions{
		Width:            q.Width,
		Height:           q.Height,
		MaxCloudCoverage: s.maxCloud(q.MaxCloud),
		BandMap:          bm,
	})
	if err != nil {
		return nil, err
	}
	return s.deps.Previews.Process(ctx, req)
}

// SceneQuery selects the scenes listed by SearchScenes. When PolygonID is
// empty the boundary is registered first under Name.
type SceneQuery struct {
	PolygonID string
	Name      string
	Polygon   orb.Polygon
	Date      *time.Time
}

// SceneSearch lists the acquisitions over a registered boundary.
type SceneSearch struct {
	PolygonID string                      `json:"polygon_id"`
	Polygon   *external.RegisteredPolygon `json:"polygon,omitempty"`
	From      time.Time                   `json:"from"`
	To        time.Time                   `json:"to"`
	Scenes    []external.Scene            `json:"scenes"`
}

// SearchScenes lists the scenes over a field, newest first.
func (s *Service) SearchScenes(ctx context.Context, q SceneQuery) (*SceneSearch, error) {
	if s.deps.Fields == nil {
		return nil, &types.ConfigurationError{Service: "agromonitoring", Setting: "field registry"}
	}

	out := &SceneSearch{PolygonID: q.PolygonID}
	if out.PolygonID == "" {
		registered, err := s.deps.Fields.RegisterPolygon(ctx, q.Name, q.Polygon)
		if err != nil {
			return nil, err
		}
		out.Polygon = registered
		out.PolygonID = registered.ID
	}

	tr := imagery.BuildTimeRange(q.Date, s.opts.FallbackDays, s.now())
	out.From, out.To = tr.From, tr.To

	scenes, err := s.deps.Fields.SearchScenes(ctx, out.PolygonID, tr)
	if err != nil {
		return nil, err
	}
	if scenes == nil {
		scenes = []external.Scene{}
	}
	out.Scenes = scenes
	return out, nil
}

// RasterStatistics computes the band-math value of idx over a COG inside the
// polygon, using the sensor profile to number the bands.
func (s *Service) RasterStatistics(ctx context.Context, rasterRef string, polygon orb.Polygon, idx vegetation.Index, profile string) (map[string]external.BandStatistics, error) {
	if s.deps.Rasters == nil {
		return nil, &types.ConfigurationError{Service: "titiler", Setting: "raster statistics"}
	}
	bm, err := s.bandMap(profile)
	if err != nil {
		return nil, err
	}
	expr, err := imagery.BuildBandMathExpression(idx, bm)
	if err != nil {
		return nil, err
	}
	return s.deps.Rasters.FeatureStatistics(ctx, rasterRef, polygon, imagery.TileOptions{Expression: expr})
}

// BandMap resolves a sensor profile, falling back to the default profile.
func (s *Service) BandMap(profile string) (imagery.BandMap, error) {
	return s.bandMap(profile)
}

// Profiles lists the configured sensor profiles.
func (s *Service) Profiles() []string {
	return s.opts.Profiles.Names()
}

func (s *Service) bandMap(profile string) (imagery.BandMap, error) {
	if profile == "" {
		profile = s.opts.DefaultProfile
	}
	return s.opts.Profiles.Resolve(profile)
}

func (s *Service) maxCloud(requested *float64) *float64 {
	if requested != nil {
		return requested
	}
	if s.opts.MaxCloudCoverage <= 0 {
		return nil
	}
	v := s.opts.MaxCloudCoverage
	return &v
}

func (s *Service) recordOutcome(ctx context.Context, idx vegetation.Index, ok bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordIndexOutcome(ctx, idx, ok)
	}
}

// resultError keeps the code and message of typed errors and hides the
// details of anything else.
func resultError(err error) *ResultError {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return &ResultError{Code: appErr.Code, Message: appErr.Message}
	}
	var conv types.AppErrorConverter
	if errors.As(err, &conv) {
		ae := conv.AppError()
		return &ResultError{Code: ae.Code, Message: ae.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ResultError{Code: types.ErrCodeUpstreamImagery, Message: "statistics request did not complete in time"}
	}
	return &ResultError{Code: types.ErrCodeInternalUnexpected, Message: "statistics request failed"}
}
