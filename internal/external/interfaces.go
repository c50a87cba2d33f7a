package external

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"fieldwatch/internal/imagery"
	"fieldwatch/internal/milestone"
	"fieldwatch/internal/vegetation"
)

// ---------------------------------------------------------------------------
// Remote sensing (Sentinel Hub)
// ---------------------------------------------------------------------------

// StatisticsProvider runs Statistical API requests. Each call covers one
// index so callers can settle a batch independently.
type StatisticsProvider interface {
	Statistics(ctx context.Context, req imagery.StatisticsRequest) (*IndexStatistics, error)
}

// PreviewRenderer renders a colourised PNG for one index.
type PreviewRenderer interface {
	Process(ctx context.Context, req imagery.ProcessRequest) ([]byte, error)
}

// IndexStatistics summarises one index over the request window. Mean, Min,
// Max and StDev are nil when every interval was cloud or no-data.
type IndexStatistics struct {
	Index       vegetation.Index `json:"index"`
	Mean        *float64         `json:"mean"`
	Min         *float64         `json:"min"`
	Max         *float64         `json:"max"`
	StDev       *float64         `json:"stdev"`
	SampleCount int              `json:"sample_count"`
	NoDataCount int              `json:"no_data_count"`
	// ObservedAt is the start of the most recent interval with data.
	ObservedAt  *time.Time       `json:"observed_at,omitempty"`
	Series      []IntervalMean   `json:"series,omitempty"`
}

// IntervalMean is one aggregation interval's mean.
type IntervalMean struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Mean float64   `json:"mean"`
}

// ---------------------------------------------------------------------------
// COG tile server (TiTiler)
// ---------------------------------------------------------------------------

// RasterStatistics computes per-band statistics of a COG inside a polygon.
type RasterStatistics interface {
	FeatureStatistics(ctx context.Context, rasterRef string, polygon orb.Polygon, opts imagery.TileOptions) (map[string]BandStatistics, error)
}

// BandStatistics is the per-band summary returned by the tile server.
type BandStatistics struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	Count        float64 `json:"count"`
	Std          float64 `json:"std"`
	Median       float64 `json:"median"`
	ValidPercent float64 `json:"valid_percent"`
}

// ---------------------------------------------------------------------------
// Field registry (AgroMonitoring)
// ---------------------------------------------------------------------------

// FieldRegistry registers farm boundaries and searches the scenes over them.
type FieldRegistry interface {
	RegisterPolygon(ctx context.Context, name string, polygon orb.Polygon) (*RegisteredPolygon, error)
	SearchScenes(ctx context.Context, polygonID string, tr imagery.TimeRange) ([]Scene, error)
}

// RegisteredPolygon is a boundary known to the field registry.
type RegisteredPolygon struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	AreaHa   float64    `json:"area"`
	Centroid [2]float64 `json:"center"`
}

// Scene is one satellite acquisition over a registered polygon.
type Scene struct {
	AcquiredAt    time.Time          `json:"acquired_at"`
	Source        string             `json:"source"`
	CloudCoverage float64            `json:"cloud_coverage"`
	ValidDataPct  float64            `json:"valid_data_percent"`
	Quality       vegetation.Quality `json:"quality"`
	NDVITileURL   string             `json:"ndvi_tile_url,omitempty"`
	StatsURL      string             `json:"stats_url,omitempty"`
}

// Compile-time interface checks.
var (
	_ StatisticsProvider = (*SentinelHubClient)(nil)
	_ PreviewRenderer    = (*SentinelHubClient)(nil)
	_ RasterStatistics   = (*TiTilerClient)(nil)
	_ FieldRegistry      = (*AgroMonitoringClient)(nil)
	_ milestone.Payouts  = (*StripePayoutClient)(nil)
)
