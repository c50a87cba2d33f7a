package external

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"fieldwatch/internal/imagery"
	"fieldwatch/internal/types"
)

// TiTilerConfig holds the configuration for a TiTilerClient.
type TiTilerConfig struct {
	BaseURL string
	Logger  *slog.Logger
}

// TiTilerClient talks to a COG tile server. Tile and preview URLs are built
// locally by the imagery package; this client only performs the statistics
// call, which needs a request body.
type TiTilerClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewTiTilerClient creates a client with its own BaseClient.
func NewTiTilerClient(httpClient *http.Client, retry RetryPolicy, cfg TiTilerConfig) *TiTilerClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return NewTiTilerClientWithBase(NewBaseClient(httpClient, "titiler", retry, WithLogger(logger)), cfg)
}

// NewTiTilerClientWithBase creates a client around an existing BaseClient.
func NewTiTilerClientWithBase(base *BaseClient, cfg TiTilerConfig) *TiTilerClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TiTilerClient{base: base, baseURL: cfg.BaseURL, logger: logger}
}

// BaseURL returns the configured tile server root.
func (c *TiTilerClient) BaseURL() string { return c.baseURL }

type titilerFeature struct {
	Properties struct {
		Statistics map[string]BandStatistics `json:"statistics"`
	} `json:"properties"`
}

// FeatureStatistics returns per-band statistics of rasterRef clipped to
// polygon. Keys are band names ("b1") or the expression when one is set.
func (c *TiTilerClient) FeatureStatistics(ctx context.Context, rasterRef string, polygon orb.Polygon, opts imagery.TileOptions) (map[string]BandStatistics, error) {
	if c.baseURL == "" {
		return nil, &types.ConfigurationError{Service: "titiler", Setting: "base URL"}
	}
	if len(polygon) == 0 || len(polygon[0]) < 4 {
		return nil, &types.InvalidGeometryError{Reason: "statistics polygon has no closed ring"}
	}

	feature := geojson.NewFeature(polygon)
	req, err := NewJSONRequest(ctx, http.MethodPost, imagery.BuildStatisticsURL(c.baseURL, rasterRef, opts), feature)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "requesting raster statistics",
		"raster", rasterRef,
		"expression", opts.Expression,
	)

	var out titilerFeature
	if err := c.base.DoJSON(req, &out); err != nil {
		return nil, err
	}
	if len(out.Properties.Statistics) == 0 {
		return nil, &types.RemoteServiceError{
			Service: c.base.Service(),
			Status:  http.StatusOK,
			Message: "response has no statistics",
		}
	}
	return out.Properties.Statistics, nil
}
