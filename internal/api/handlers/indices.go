package handlers

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fieldwatch/internal/core"
	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// IndexHandler evaluates vegetation indices from band values supplied by
// the client. It is pure computation and never calls an imagery vendor.
type IndexHandler struct {
	calc         vegetation.Calculator
	maxBatchSize int
	validator    *core.Validator
	logger       *slog.Logger
}

// NewIndexHandler creates an IndexHandler. maxBatchSize caps the samples in
// one compute request; a non-positive value means 1000.
func NewIndexHandler(calc vegetation.Calculator, maxBatchSize int, val *core.Validator, logger *slog.Logger) *IndexHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 1000
	}
	return &IndexHandler{calc: calc, maxBatchSize: maxBatchSize, validator: val, logger: logger}
}

// RegisterRoutes mounts the index endpoints.
func (h *IndexHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/compute", h.HandleCompute)
	r.Get("/health", h.HandleHealthLabel)
	r.Get("/cloud-quality", h.HandleCloudQuality)
}

// BandInput is one sample in a compute request. An omitted band is treated
// as missing and every index that needs it is skipped.
type BandInput struct {
	Red     *float64 `json:"red,omitempty"`
	NIR     *float64 `json:"nir,omitempty"`
	RedEdge *float64 `json:"red_edge,omitempty"`
	Green   *float64 `json:"green,omitempty"`
	SWIR    *float64 `json:"swir,omitempty"`
	Blue    *float64 `json:"blue,omitempty"`
}

func (b BandInput) sample(noData float64) vegetation.BandSample {
	pick := func(v *float64) float64 {
		if v == nil {
			return noData
		}
		return *v
	}
	return vegetation.BandSample{
		Red:     pick(b.Red),
		NIR:     pick(b.NIR),
		RedEdge: pick(b.RedEdge),
		Green:   pick(b.Green),
		SWIR:    pick(b.SWIR),
		Blue:    pick(b.Blue),
	}
}

// ComputeRequest is the body of POST /indices/compute.
type ComputeRequest struct {
	Samples []BandInput `json:"samples" validate:"required,min=1"`
}

// ComputeResult is the evaluated form of one sample.
type ComputeResult struct {
	vegetation.Results
	Health vegetation.Health `json:"health"`
	Color  string            `json:"color"`
}

// IndexInfo describes a supported index.
type IndexInfo struct {
	Name     vegetation.Index `json:"name"`
	Min      float64          `json:"min"`
	Max      float64          `json:"max"`
	Requires []string         `json:"requires"`
}

var indexCatalog = []IndexInfo{
	{Name: vegetation.IndexNDVI, Min: -1, Max: 1, Requires: []string{"nir", "red"}},
	{Name: vegetation.IndexSAVI, Min: -1.5, Max: 1.5, Requires: []string{"nir", "red"}},
	{Name: vegetation.IndexNDRE, Min: -1, Max: 1, Requires: []string{"nir", "red_edge"}},
	{Name: vegetation.IndexGNDVI, Min: -1, Max: 1, Requires: []string{"nir", "green"}},
	{Name: vegetation.IndexNDMI, Min: -1, Max: 1, Requires: []string{"nir", "swir"}},
	{Name: vegetation.IndexLAI, Min: 0, Max: vegetation.MaxLAI, Requires: []string{"nir", "red"}},
}

// HandleList handles GET /v1/indices.
func (h *IndexHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	core.Data(w, r, http.StatusOK, indexCatalog)
}

// HandleCompute handles POST /v1/indices/compute.
func (h *IndexHandler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Samples) > h.maxBatchSize {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationBatchSize,
			fmt.Sprintf("at most %d samples per request", h.maxBatchSize), nil).
			WithDetails(map[string]any{"max": h.maxBatchSize, "got": len(req.Samples)}))
		return
	}

	results := make([]ComputeResult, 0, len(req.Samples))
	for _, s := range req.Samples {
		res := h.calc.Compute(s.sample(h.calc.NoData))
		health := vegetation.HealthLabel(res.NDVI)
		results = append(results, ComputeResult{Results: res, Health: health, Color: health.Color()})
	}

	core.Data(w, r, http.StatusOK, map[string]any{"results": results})
}

// HandleHealthLabel handles GET /v1/indices/health?ndvi=0.42. A missing
// value reports No Data.
func (h *IndexHandler) HandleHealthLabel(w http.ResponseWriter, r *http.Request) {
	var ndvi *float64
	if raw := r.URL.Query().Get("ndvi"); raw != "" {
		v, err := parseFinite("ndvi", raw)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		ndvi = &v
	}
	label := vegetation.HealthLabel(ndvi)
	core.Data(w, r, http.StatusOK, map[string]any{
		"ndvi":   ndvi,
		"health": label,
		"color":  label.Color(),
	})
}

// HandleCloudQuality handles GET /v1/indices/cloud-quality?percent=12.
func (h *IndexHandler) HandleCloudQuality(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("percent")
	if raw == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"percent query parameter is required", nil))
		return
	}
	pct, err := parseFinite("percent", raw)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if pct < 0 || pct > 100 {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidNumber,
			"percent must be between 0 and 100", nil))
		return
	}
	core.Data(w, r, http.StatusOK, map[string]any{
		"percent": pct,
		"quality": vegetation.QualityFromCloudCover(pct),
	})
}

func parseFinite(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, types.NewAppError(types.ErrCodeValidationInvalidNumber,
			field+" must be a finite number", nil)
	}
	return v, nil
}
