package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"fieldwatch/internal/config"
	"fieldwatch/internal/core"
	"fieldwatch/internal/geometry"
	"fieldwatch/internal/types"
)

// GeometryHandler exposes the field boundary utilities. It performs no I/O
// beyond the request itself.
type GeometryHandler struct {
	maps      config.MapsConfig
	validator *core.Validator
	logger    *slog.Logger
}

// NewGeometryHandler creates a GeometryHandler. maps supplies the static map
// token and style; an empty token yields placeholder image URLs.
func NewGeometryHandler(maps config.MapsConfig, val *core.Validator, logger *slog.Logger) *GeometryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeometryHandler{maps: maps, validator: val, logger: logger}
}

// RegisterRoutes mounts the geometry endpoints.
func (h *GeometryHandler) RegisterRoutes(r chi.Router) {
	r.Post("/polygon", h.HandleBuildPolygon)
	r.Post("/points", h.HandleExtractPoints)
	r.Post("/static-map", h.HandleStaticMap)
}

// BuildPolygonRequest is the body of POST /geometry/polygon.
type BuildPolygonRequest struct {
	Points []geometry.Point `json:"points" validate:"required,dive"`
}

// PolygonResponse describes a boundary built from points.
type PolygonResponse struct {
	Geometry json.RawMessage `json:"geometry"`
	BBox     []float64       `json:"bbox"`
	Centroid geometry.Point  `json:"centroid"`
	AreaHa   float64         `json:"area_ha"`
}

// HandleBuildPolygon handles POST /v1/geometry/polygon.
func (h *GeometryHandler) HandleBuildPolygon(w http.ResponseWriter, r *http.Request) {
	var req BuildPolygonRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	polygon, err := polygonFromPoints(req.Points)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	encoded, err := geometry.EncodeGeoJSON(polygon)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	bbox, err := geometry.BoundingBox(req.Points)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	area, err := geometry.AreaHectares(req.Points)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Data(w, r, http.StatusOK, PolygonResponse{
		Geometry: encoded,
		BBox:     bbox.Slice(),
		Centroid: geometry.Centroid(polygon),
		AreaHa:   area,
	})
}

// ExtractPointsRequest is the body of POST /geometry/points.
type ExtractPointsRequest struct {
	Geometry json.RawMessage `json:"geometry"`
}

// HandleExtractPoints handles POST /v1/geometry/points. Stored boundaries are
// often malformed, so a geometry that cannot be read yields an empty list
// instead of an error.
func (h *GeometryHandler) HandleExtractPoints(w http.ResponseWriter, r *http.Request) {
	var req ExtractPointsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, map[string]any{
		"points": geometry.ParsePointList(req.Geometry),
	})
}

// StaticMapRequest is the body of POST /geometry/static-map. Either geometry
// or points must be given.
type StaticMapRequest struct {
	Geometry json.RawMessage  `json:"geometry,omitempty"`
	Points   []geometry.Point `json:"points,omitempty" validate:"omitempty,dive"`
	Width    int              `json:"width,omitempty" validate:"gte=0,lte=1280"`
	Height   int              `json:"height,omitempty" validate:"gte=0,lte=1280"`
	Padding  *int             `json:"padding,omitempty" validate:"omitempty,gte=0,lte=500"`
	Style    string           `json:"style,omitempty" validate:"omitempty,max=100"`
}

// HandleStaticMap handles POST /v1/geometry/static-map.
func (h *GeometryHandler) HandleStaticMap(w http.ResponseWriter, r *http.Request) {
	var req StaticMapRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var g orb.Geometry
	switch {
	case len(req.Geometry) > 0 && string(req.Geometry) != "null":
		parsed, err := geometry.ParseGeometry(req.Geometry)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		g = parsed
	case len(req.Points) > 0:
		polygon, err := polygonFromPoints(req.Points)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		g = polygon
	default:
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"geometry or points is required", nil))
		return
	}

	padding := geometry.DefaultStaticMapPadding
	if req.Padding != nil {
		padding = *req.Padding
	}
	style := req.Style
	if style == "" {
		style = h.maps.Style
	}
	url := geometry.StaticMapImageURL(g, h.maps.MapboxToken.Unmask(), geometry.StaticMapOptions{
		BaseURL: h.maps.BaseURL,
		Width:   req.Width,
		Height:  req.Height,
		Padding: padding,
		Style:   style,
	})
	core.Data(w, r, http.StatusOK, map[string]string{"url": url})
}
