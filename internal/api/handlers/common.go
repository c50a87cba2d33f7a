// Package handlers contains the HTTP handler implementations for the
// fieldwatch API. Each handler declares the narrow service interface it
// needs, mounts its routes through RegisterRoutes and renders every response
// through the core envelope helpers.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"fieldwatch/internal/core"
	"fieldwatch/internal/geometry"
	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// dateLayout is the calendar-day form accepted for imagery dates.
const dateLayout = "2006-01-02"

// requireActor returns the authenticated actor or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return types.Actor{}, false
	}
	return actor, true
}

// parseDate accepts a calendar day (2024-06-01) or an RFC 3339 timestamp.
// An empty string means "no date".
func parseDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	return nil, types.NewAppError(types.ErrCodeValidationInvalidDate,
		field+" must be YYYY-MM-DD or an RFC 3339 timestamp", nil).
		WithDetails(map[string]any{"field": field})
}

// parseIndices resolves index names, reporting the first unknown one.
func parseIndices(names []string) ([]vegetation.Index, error) {
	out := make([]vegetation.Index, 0, len(names))
	for _, name := range names {
		idx, err := vegetation.ParseIndex(name)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidIndex, err.Error(), err)
		}
		out = append(out, idx)
	}
	return out, nil
}

// polygonFromPoints builds the request polygon.
func polygonFromPoints(points []geometry.Point) (orb.Polygon, error) {
	return geometry.ToPolygonGeometry(points)
}
