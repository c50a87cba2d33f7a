package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"fieldwatch/internal/core"
	"fieldwatch/internal/external"
	"fieldwatch/internal/geometry"
	"fieldwatch/internal/imagery"
	"fieldwatch/internal/monitoring"
	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// MonitoringService is the contract the imagery handler needs. It matches
// *monitoring.Service and is declared here so tests can substitute a fake.
type MonitoringService interface {
	ComputeStatistics(ctx context.Context, q monitoring.StatisticsQuery) (*monitoring.StatisticsReport, error)
	EnqueueStatistics(ctx context.Context, q monitoring.StatisticsQuery) (string, error)
	RenderPreview(ctx context.Context, q monitoring.PreviewQuery) ([]byte, error)
	SearchScenes(ctx context.Context, q monitoring.SceneQuery) (*monitoring.SceneSearch, error)
	RasterStatistics(ctx context.Context, rasterRef string, polygon orb.Polygon, idx vegetation.Index, profile string) (map[string]external.BandStatistics, error)
	ListObservations(ctx context.Context, fieldID string, idx vegetation.Index, limit int) ([]monitoring.Observation, error)
	BandMap(profile string) (imagery.BandMap, error)
	Profiles() []string
}

// URLChecker rejects raster URLs the tile server must not fetch.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// ImageryHandler maps the satellite monitoring endpoints onto the
// monitoring service.
type ImageryHandler struct {
	service    MonitoringService
	tileServer string
	urls       URLChecker
	validator  *core.Validator
	logger     *slog.Logger
}

// NewImageryHandler creates an ImageryHandler. tileServer is the base URL of
// the COG tile server; when empty the tile URL endpoint reports a
// configuration error.
func NewImageryHandler(svc MonitoringService, tileServer string, val *core.Validator, logger *slog.Logger) *ImageryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageryHandler{service: svc, tileServer: tileServer, validator: val, logger: logger}
}

// WithURLChecker installs the raster URL guard. Without one every
// well-formed URL is accepted.
func (h *ImageryHandler) WithURLChecker(c URLChecker) *ImageryHandler {
	h.urls = c
	return h
}

func (h *ImageryHandler) checkRasterURL(ctx context.Context, rawURL string) error {
	if h.urls == nil {
		return nil
	}
	if err := h.urls.Check(ctx, rawURL); err != nil {
		h.logger.WarnContext(ctx, "raster url rejected", "error", err)
		return types.NewAppError(types.ErrCodeValidationBlockedURL,
			"raster_url must be a public http(s) address", err).
			WithDetails(map[string]any{"field": "raster_url"})
	}
	return nil
}

// RegisterRoutes mounts the imagery endpoints.
func (h *ImageryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/profiles", h.HandleListProfiles)
	r.Post("/expression", h.HandleExpression)
	r.Post("/tiles", h.HandleTileURLs)
	r.Post("/statistics", h.HandleStatistics)
	r.Post("/statistics/jobs", h.HandleEnqueueStatistics)
	r.Post("/preview", h.HandlePreview)
	r.Post("/scenes", h.HandleSearchScenes)
	r.Post("/raster-statistics", h.HandleRasterStatistics)
	r.Get("/fields/{fieldID}/observations", h.HandleListObservations)
}

// FieldBoundary carries a field outline either as points or as GeoJSON.
// Points win when both are present.
type FieldBoundary struct {
	Points   []geometry.Point `json:"points,omitempty" validate:"omitempty,dive"`
	Geometry json.RawMessage  `json:"geometry,omitempty"`
}

func (b FieldBoundary) polygon() (orb.Polygon, error) {
	if len(b.Points) > 0 {
		return polygonFromPoints(b.Points)
	}
	if len(b.Geometry) == 0 || string(b.Geometry) == "null" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"points or geometry is required", nil)
	}
	g, err := geometry.ParseGeometry(b.Geometry)
	if err != nil {
		return nil, err
	}
	return polygonFromPoints(geometry.ToPointList(g))
}

// HandleListProfiles handles GET /v1/imagery/profiles.
func (h *ImageryHandler) HandleListProfiles(w http.ResponseWriter, r *http.Request) {
	names := h.service.Profiles()
	profiles := make(map[string]imagery.BandMap, len(names))
	for _, name := range names {
		bm, err := h.service.BandMap(name)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		profiles[name] = bm
	}
	core.Data(w, r, http.StatusOK, map[string]any{"profiles": profiles})
}

// ExpressionRequest is the body of POST /imagery/expression.
type ExpressionRequest struct {
	Index   string `json:"index" validate:"required,vegetation_index"`
	Profile string `json:"profile,omitempty"`
}

// HandleExpression handles POST /v1/imagery/expression.
func (h *ImageryHandler) HandleExpression(w http.ResponseWriter, r *http.Request) {
	var req ExpressionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	idx, _ := vegetation.ParseIndex(req.Index)

	expr, err := h.expression(idx, req.Profile)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, map[string]any{"index": idx, "expression": expr})
}

func (h *ImageryHandler) expression(idx vegetation.Index, profile string) (string, error) {
	bm, err := h.service.BandMap(profile)
	if err != nil {
		return "", err
	}
	return imagery.BuildBandMathExpression(idx, bm)
}

// TileRequest is the body of POST /imagery/tiles. With an index the band
// math expression is derived from the sensor profile; otherwise bands select
// raw raster bands.
type TileRequest struct {
	RasterURL  string         `json:"raster_url" validate:"required,url"`
	Index      string         `json:"index,omitempty" validate:"omitempty,vegetation_index"`
	Profile    string         `json:"profile,omitempty"`
	Bands      []int          `json:"bands,omitempty" validate:"omitempty,max=4,dive,min=1"`
	Colormap   string         `json:"colormap,omitempty" validate:"omitempty,max=64"`
	Rescale    *imagery.Range `json:"rescale,omitempty"`
	NoData     *float64       `json:"nodata,omitempty"`
	PreviewMax int            `json:"preview_max_size,omitempty" validate:"gte=0,lte=4096"`
}

// TileResponse lists the tile server URLs for one raster.
type TileResponse struct {
	TileURL       string `json:"tile_url"`
	PreviewURL    string `json:"preview_url"`
	StatisticsURL string `json:"statistics_url"`
}

// HandleTileURLs handles POST /v1/imagery/tiles.
func (h *ImageryHandler) HandleTileURLs(w http.ResponseWriter, r *http.Request) {
	if h.tileServer == "" {
		core.Error(w, r, &types.ConfigurationError{Service: "titiler", Setting: "TITILER_BASE_URL"})
		return
	}

	var req TileRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.checkRasterURL(r.Context(), req.RasterURL); err != nil {
		core.Error(w, r, err)
		return
	}

	opts := imagery.TileOptions{
		Colormap:    req.Colormap,
		Rescale:     req.Rescale,
		BandIndexes: req.Bands,
		NoData:      req.NoData,
	}
	if req.Index != "" {
		idx, _ := vegetation.ParseIndex(req.Index)
		expr, err := h.expression(idx, req.Profile)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		opts.Expression = expr
		opts.BandIndexes = nil
	}

	core.Data(w, r, http.StatusOK, TileResponse{
		TileURL:       imagery.BuildTileURLTemplate(h.tileServer, req.RasterURL, opts),
		PreviewURL:    imagery.BuildPreviewURL(h.tileServer, req.RasterURL, opts, req.PreviewMax),
		StatisticsURL: imagery.BuildStatisticsURL(h.tileServer, req.RasterURL, opts),
	})
}

// StatisticsRequest is the body of POST /imagery/statistics and
// POST /imagery/statistics/jobs. Date is YYYY-MM-DD or RFC 3339; without it
// the configured look-back window ending now is used.
type StatisticsRequest struct {
	FieldBoundary
	FieldID  string   `json:"field_id,omitempty" validate:"omitempty,max=128"`
	Date     string   `json:"date,omitempty"`
	Indices  []string `json:"indices" validate:"required,min=1,max=6,dive,vegetation_index"`
	MaxCloud *float64 `json:"max_cloud,omitempty" validate:"omitempty,gte=0,lte=100"`
	Profile  string   `json:"profile,omitempty"`
}

func (h *ImageryHandler) statisticsQuery(w http.ResponseWriter, r *http.Request) (monitoring.StatisticsQuery, bool) {
	var req StatisticsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return monitoring.StatisticsQuery{}, false
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return monitoring.StatisticsQuery{}, false
	}

	polygon, err := req.polygon()
	if err != nil {
		core.Error(w, r, err)
		return monitoring.StatisticsQuery{}, false
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		core.Error(w, r, err)
		return monitoring.StatisticsQuery{}, false
	}
	indices, err := parseIndices(req.Indices)
	if err != nil {
		core.Error(w, r, err)
		return monitoring.StatisticsQuery{}, false
	}

	return monitoring.StatisticsQuery{
		FieldID:  req.FieldID,
		Polygon:  polygon,
		Date:     date,
		Indices:  indices,
		MaxCloud: req.MaxCloud,
		Profile:  req.Profile,
	}, true
}

// HandleStatistics handles POST /v1/imagery/statistics. Indices are settled
// independently: the response is 200 with per-index errors unless every
// index failed, in which case the error envelope carries them as
// details.results.
func (h *ImageryHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	q, ok := h.statisticsQuery(w, r)
	if !ok {
		return
	}
	report, err := h.service.ComputeStatistics(r.Context(), q)
	if err != nil {
		if appErr := core.AsAppError(err); appErr != nil && report != nil {
			err = appErr.WithDetails(map[string]any{"results": report.Results})
		}
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, report)
}

// HandleEnqueueStatistics handles POST /v1/imagery/statistics/jobs. The run
// happens in the stats worker and its values are stored as observations.
func (h *ImageryHandler) HandleEnqueueStatistics(w http.ResponseWriter, r *http.Request) {
	q, ok := h.statisticsQuery(w, r)
	if !ok {
		return
	}
	if q.FieldID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"field_id is required for background jobs", nil))
		return
	}
	jobID, err := h.service.EnqueueStatistics(r.Context(), q)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// PreviewRequest is the body of POST /imagery/preview.
type PreviewRequest struct {
	FieldBoundary
	Date     string   `json:"date,omitempty"`
	Index    string   `json:"index" validate:"required,vegetation_index"`
	MaxCloud *float64 `json:"max_cloud,omitempty" validate:"omitempty,gte=0,lte=100"`
	Profile  string   `json:"profile,omitempty"`
	Width    int      `json:"width,omitempty" validate:"gte=0,lte=2500"`
	Height   int      `json:"height,omitempty" validate:"gte=0,lte=2500"`
}

// HandlePreview handles POST /v1/imagery/preview and responds with a PNG.
func (h *ImageryHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	polygon, err := req.polygon()
	if err != nil {
		core.Error(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	idx, _ := vegetation.ParseIndex(req.Index)

	png, err := h.service.RenderPreview(r.Context(), monitoring.PreviewQuery{
		Polygon:  polygon,
		Date:     date,
		Index:    idx,
		MaxCloud: req.MaxCloud,
		Profile:  req.Profile,
		Width:    req.Width,
		Height:   req.Height,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write preview", "error", err)
	}
}

// SceneRequest is the body of POST /imagery/scenes. Without polygon_id the
// boundary is registered with the field registry first.
type SceneRequest struct {
	FieldBoundary
	PolygonID string `json:"polygon_id,omitempty" validate:"omitempty,max=64"`
	Name      string `json:"name,omitempty" validate:"omitempty,max=128"`
	Date      string `json:"date,omitempty"`
}

// HandleSearchScenes handles POST /v1/imagery/scenes.
func (h *ImageryHandler) HandleSearchScenes(w http.ResponseWriter, r *http.Request) {
	var req SceneRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	q := monitoring.SceneQuery{PolygonID: req.PolygonID, Name: req.Name}
	if q.PolygonID == "" {
		polygon, err := req.polygon()
		if err != nil {
			core.Error(w, r, err)
			return
		}
		q.Polygon = polygon
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	q.Date = date

	result, err := h.service.SearchScenes(r.Context(), q)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, result)
}

// RasterStatisticsRequest is the body of POST /imagery/raster-statistics.
type RasterStatisticsRequest struct {
	FieldBoundary
	RasterURL string `json:"raster_url" validate:"required,url"`
	Index     string `json:"index" validate:"required,vegetation_index"`
	Profile   string `json:"profile,omitempty"`
}

// HandleRasterStatistics handles POST /v1/imagery/raster-statistics.
func (h *ImageryHandler) HandleRasterStatistics(w http.ResponseWriter, r *http.Request) {
	var req RasterStatisticsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.checkRasterURL(r.Context(), req.RasterURL); err != nil {
		core.Error(w, r, err)
		return
	}
	polygon, err := req.polygon()
	if err != nil {
		core.Error(w, r, err)
		return
	}
	idx, _ := vegetation.ParseIndex(req.Index)

	stats, err := h.service.RasterStatistics(r.Context(), req.RasterURL, polygon, idx, req.Profile)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, map[string]any{"index": idx, "statistics": stats})
}

// HandleListObservations handles
// GET /v1/imagery/fields/{fieldID}/observations?index=ndvi&limit=30.
func (h *ImageryHandler) HandleListObservations(w http.ResponseWriter, r *http.Request) {
	fieldID := chi.URLParam(r, "fieldID")
	q := r.URL.Query()

	var idx vegetation.Index
	if raw := q.Get("index"); raw != "" {
		parsed, err := vegetation.ParseIndex(raw)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidIndex, err.Error(), err))
			return
		}
		idx = parsed
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidNumber,
				"limit must be a positive integer", nil))
			return
		}
		limit = n
	}

	obs, err := h.service.ListObservations(r.Context(), fieldID, idx, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, map[string]any{"field_id": fieldID, "observations": obs})
}
