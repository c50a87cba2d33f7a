package geometry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Defaults for static map rendering.
const (
	DefaultStaticMapBaseURL = "https://api.mapbox.com"
	DefaultStaticMapStyle   = "mapbox/satellite-v9"
	DefaultStaticMapWidth   = 600
	DefaultStaticMapHeight  = 400
	DefaultStaticMapPadding = 20

	placeholderMapURL = "https://placehold.co/%dx%d?text=Map+unavailable"

	// Mapbox caps static images at 1280px per side.
	maxStaticMapSide = 1280
)

// StaticMapOptions controls the rendered image. Zero values fall back to the
// defaults above.
type StaticMapOptions struct {
	BaseURL string
	Width   int
	Height  int
	Padding int
	Style   string
}

func (o StaticMapOptions) withDefaults() StaticMapOptions {
	if o.BaseURL == "" {
		o.BaseURL = DefaultStaticMapBaseURL
	}
	if o.Style == "" {
		o.Style = DefaultStaticMapStyle
	}
	if o.Width <= 0 {
		o.Width = DefaultStaticMapWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultStaticMapHeight
	}
	if o.Padding < 0 {
		o.Padding = 0
	}
	o.Width = min(o.Width, maxStaticMapSide)
	o.Height = min(o.Height, maxStaticMapSide)
	return o
}

// StaticMapImageURL builds a static-map request URL with the geometry
// overlaid as URL-encoded GeoJSON and the viewport fitted automatically.
// It performs no I/O. Without an access token, or with a geometry that cannot
// be encoded, a placeholder image URL of the requested size is returned.
func StaticMapImageURL(g orb.Geometry, accessToken string, opts StaticMapOptions) string {
	opts = opts.withDefaults()
	placeholder := fmt.Sprintf(placeholderMapURL, opts.Width, opts.Height)

	if accessToken == "" || g == nil {
		return placeholder
	}

	f := geojson.NewFeature(g)
	f.Properties["stroke"] = "#22c55e"
	f.Properties["stroke-width"] = 2
	f.Properties["fill"] = "#22c55e"
	f.Properties["fill-opacity"] = 0.25

	overlay, err := f.MarshalJSON()
	if err != nil {
		return placeholder
	}

	q := url.Values{}
	q.Set("padding", fmt.Sprintf("%d", opts.Padding))
	q.Set("access_token", accessToken)

	return fmt.Sprintf("%s/styles/v1/%s/static/geojson(%s)/auto/%dx%d?%s",
		strings.TrimRight(opts.BaseURL, "/"),
		opts.Style,
		url.PathEscape(string(overlay)),
		opts.Width, opts.Height,
		q.Encode(),
	)
}
