package external

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"fieldwatch/internal/imagery"
	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

const agroMonitoringAPIBase = "https://api.agromonitoring.com/agro/1.0"

// AgroMonitoringConfig holds the configuration for an AgroMonitoringClient.
type AgroMonitoringConfig struct {
	APIKey  string
	BaseURL string // defaults to agroMonitoringAPIBase
	Logger  *slog.Logger
}

// AgroMonitoringClient registers field polygons and searches the satellite
// scenes available over them.
type AgroMonitoringClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewAgroMonitoringClient creates a client with its own BaseClient.
func NewAgroMonitoringClient(httpClient *http.Client, retry RetryPolicy, cfg AgroMonitoringConfig) *AgroMonitoringClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return NewAgroMonitoringClientWithBase(NewBaseClient(httpClient, "agromonitoring", retry, WithLogger(logger)), cfg)
}

// NewAgroMonitoringClientWithBase creates a client around an existing BaseClient.
func NewAgroMonitoringClientWithBase(base *BaseClient, cfg AgroMonitoringConfig) *AgroMonitoringClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = agroMonitoringAPIBase
	}
	return &AgroMonitoringClient{base: base, apiKey: cfg.APIKey, baseURL: baseURL, logger: logger}
}

func (c *AgroMonitoringClient) endpoint(path string, params url.Values) (string, error) {
	if c.apiKey == "" {
		return "", &types.ConfigurationError{Service: "agromonitoring", Setting: "API key"}
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("appid", c.apiKey)
	return c.baseURL + path + "?" + params.Encode(), nil
}

type agroPolygonRequest struct {
	Name    string           `json:"name"`
	GeoJSON *geojson.Feature `json:"geo_json"`
}

// RegisterPolygon creates a polygon from the closed ring of polygon.
func (c *AgroMonitoringClient) RegisterPolygon(ctx context.Context, name string, polygon orb.Polygon) (*RegisteredPolygon, error) {
	endpoint, err := c.endpoint("/polygons", nil)
	if err != nil {
		return nil, err
	}
	if len(polygon) == 0 || len(polygon[0]) < 4 {
		return nil, &types.InvalidGeometryError{Reason: "polygon has no closed ring"}
	}

	req, err := NewJSONRequest(ctx, http.MethodPost, endpoint, agroPolygonRequest{
		Name:    name,
		GeoJSON: geojson.NewFeature(polygon),
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "registering field polygon", "name", name)

	var out RegisteredPolygon
	if err := c.base.DoJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type agroScene struct {
	DT    int64             `json:"dt"`
	Type  string            `json:"type"`
	DC    float64           `json:"dc"`
	CL    float64           `json:"cl"`
	Tile  map[string]string `json:"tile"`
	Stats map[string]string `json:"stats"`
}

// SearchScenes lists acquisitions over polygonID within tr, newest first,
// with cloud coverage mapped to a quality label.
func (c *AgroMonitoringClient) SearchScenes(ctx context.Context, polygonID string, tr imagery.TimeRange) ([]Scene, error) {
	if polygonID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "polygon id is required", nil)
	}
	params := url.Values{}
	params.Set("polyid", polygonID)
	params.Set("start", strconv.FormatInt(tr.From.Unix(), 10))
	params.Set("end", strconv.FormatInt(tr.To.Unix(), 10))

	endpoint, err := c.endpoint("/image/search", params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build scene search request", err)
	}

	c.logger.InfoContext(ctx, "searching scenes",
		"polygon_id", polygonID,
		"from", tr.From,
		"to", tr.To,
	)

	var raw []agroScene
	if err := c.base.DoJSON(req, &raw); err != nil {
		return nil, err
	}

	scenes := make([]Scene, 0, len(raw))
	for _, s := range raw {
		scenes = append(scenes, Scene{
			AcquiredAt:    time.Unix(s.DT, 0).UTC(),
			Source:        s.Type,
			CloudCoverage: s.CL,
			ValidDataPct:  s.DC,
			Quality:       vegetation.QualityFromCloudCover(s.CL),
			NDVITileURL:   s.Tile["ndvi"],
			StatsURL:      s.Stats["ndvi"],
		})
	}
	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].AcquiredAt.After(scenes[j].AcquiredAt)
	})
	return scenes, nil
}
