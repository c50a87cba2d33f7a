package external

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"fieldwatch/internal/imagery"
	"fieldwatch/internal/milestone"
	"fieldwatch/internal/vegetation"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stubs let the binaries boot in test mode without vendor credentials. They
// log every call and return predictable values.
// ---------------------------------------------------------------------------

// stubIndexMeans gives each index a plausible field-average value.
var stubIndexMeans = map[vegetation.Index]float64{
	vegetation.IndexNDVI:  0.62,
	vegetation.IndexSAVI:  0.48,
	vegetation.IndexNDRE:  0.31,
	vegetation.IndexGNDVI: 0.55,
	vegetation.IndexNDMI:  0.18,
	vegetation.IndexLAI:   2.4,
}

// StubStatisticsProvider implements StatisticsProvider and PreviewRenderer.
type StubStatisticsProvider struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewStubStatisticsProvider creates a new StubStatisticsProvider.
func NewStubStatisticsProvider(logger *slog.Logger) *StubStatisticsProvider {
	return &StubStatisticsProvider{logger: logger, now: time.Now}
}

func (s *StubStatisticsProvider) Statistics(ctx context.Context, req imagery.StatisticsRequest) (*IndexStatistics, error) {
	s.logger.InfoContext(ctx, "stub: statistics", "index", req.Index)

	mean := stubIndexMeans[req.Index]
	lo, hi := mean-0.1, mean+0.1
	sd := 0.05
	observed := s.now().UTC().Truncate(24 * time.Hour)
	return &IndexStatistics{
		Index:       req.Index,
		Mean:        &mean,
		Min:         &lo,
		Max:         &hi,
		StDev:       &sd,
		SampleCount: 1000,
		ObservedAt:  &observed,
		Series:      []IntervalMean{{From: observed, To: observed.Add(24 * time.Hour), Mean: mean}},
	}, nil
}

// Process renders a small diagonal gradient through the index ramp.
func (s *StubStatisticsProvider) Process(ctx context.Context, req imagery.ProcessRequest) ([]byte, error) {
	s.logger.InfoContext(ctx, "stub: process", "width", req.Output.Width, "height", req.Output.Height)

	const side = 64
	values := make([]float64, side*side)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			values[y*side+x] = float64(x+y)/float64(2*side-2)*1.1 - 0.2
		}
	}
	values[0] = math.NaN()

	var buf bytes.Buffer
	raster := vegetation.Raster{Width: side, Values: values}
	if err := vegetation.RenderPNG(&buf, raster, vegetation.NDVIRamp, vegetation.DefaultNoData); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StubRasterStatistics implements RasterStatistics.
type StubRasterStatistics struct {
	logger *slog.Logger
}

// NewStubRasterStatistics creates a new StubRasterStatistics.
func NewStubRasterStatistics(logger *slog.Logger) *StubRasterStatistics {
	return &StubRasterStatistics{logger: logger}
}

func (s *StubRasterStatistics) FeatureStatistics(ctx context.Context, rasterRef string, _ orb.Polygon, opts imagery.TileOptions) (map[string]BandStatistics, error) {
	s.logger.InfoContext(ctx, "stub: raster statistics", "raster", rasterRef)
	key := "b1"
	if opts.Expression != "" {
		key = opts.Expression
	}
	return map[string]BandStatistics{
		key: {Min: 0.1, Max: 0.8, Mean: 0.55, Count: 1000, Std: 0.12, Median: 0.57, ValidPercent: 100},
	}, nil
}

// StubFieldRegistry implements FieldRegistry.
type StubFieldRegistry struct {
	logger *slog.Logger
}

// NewStubFieldRegistry creates a new StubFieldRegistry.
func NewStubFieldRegistry(logger *slog.Logger) *StubFieldRegistry {
	return &StubFieldRegistry{logger: logger}
}

func (s *StubFieldRegistry) RegisterPolygon(ctx context.Context, name string, polygon orb.Polygon) (*RegisteredPolygon, error) {
	s.logger.InfoContext(ctx, "stub: register polygon", "name", name)
	c := polygon.Bound().Center()
	return &RegisteredPolygon{ID: "stub-" + uuid.NewString(), Name: name, Centroid: [2]float64{c.Lon(), c.Lat()}}, nil
}

func (s *StubFieldRegistry) SearchScenes(ctx context.Context, polygonID string, tr imagery.TimeRange) ([]Scene, error) {
	s.logger.InfoContext(ctx, "stub: search scenes", "polygon_id", polygonID)
	return []Scene{{
		AcquiredAt:    tr.To,
		Source:        "Sentinel-2",
		CloudCoverage: 12,
		ValidDataPct:  100,
		Quality:       vegetation.QualityFromCloudCover(12),
	}}, nil
}

// StubPayouts implements milestone.Payouts.
type StubPayouts struct {
	logger *slog.Logger
}

// NewStubPayouts creates a new StubPayouts.
func NewStubPayouts(logger *slog.Logger) *StubPayouts {
	return &StubPayouts{logger: logger}
}

func (s *StubPayouts) ReleaseMilestonePayout(ctx context.Context, req milestone.PayoutRequest) (string, error) {
	s.logger.InfoContext(ctx, "stub: release payout",
		"milestone_id", req.MilestoneID,
		"amount_cents", req.AmountCents,
	)
	return "tr_stub_" + req.MilestoneID, nil
}
