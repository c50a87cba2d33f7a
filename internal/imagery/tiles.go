package imagery

import (
	"net/url"
	"strconv"
	"strings"
)

// Tile server defaults.
const (
	DefaultTileMatrixSet = "WebMercatorQuad"
	DefaultTileFormat    = "png"
	DefaultPreviewSize   = 1024
)

// Range is a numeric min/max pair.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// TileOptions are the optional tile-server parameters. Every field is
// additive: an empty field leaves the server default in place.
type TileOptions struct {
	Colormap      string
	Rescale       *Range
	BandIndexes   []int
	Expression    string
	NoData        *float64
	TileMatrixSet string
	Format        string
}

func (o TileOptions) query(rasterRef string) url.Values {
	q := url.Values{}
	q.Set("url", rasterRef)
	if o.Expression != "" {
		q.Set("expression", o.Expression)
	}
	for _, b := range o.BandIndexes {
		q.Add("bidx", strconv.Itoa(b))
	}
	if o.Rescale != nil {
		q.Set("rescale", formatFloat(o.Rescale.Min)+","+formatFloat(o.Rescale.Max))
	}
	if o.Colormap != "" {
		q.Set("colormap_name", o.Colormap)
	}
	if o.NoData != nil {
		q.Set("nodata", formatFloat(*o.NoData))
	}
	return q
}

// BuildTileURLTemplate returns an XYZ template for rasterRef with literal
// {z}/{x}/{y} placeholders left unescaped for map clients to fill in.
func BuildTileURLTemplate(baseURL, rasterRef string, opts TileOptions) string {
	tms := opts.TileMatrixSet
	if tms == "" {
		tms = DefaultTileMatrixSet
	}
	format := opts.Format
	if format == "" {
		format = DefaultTileFormat
	}

	return strings.TrimRight(baseURL, "/") +
		"/cog/tiles/" + url.PathEscape(tms) + "/{z}/{x}/{y}." + format +
		"?" + opts.query(rasterRef).Encode()
}

// BuildPreviewURL returns a whole-image preview URL. maxSize <= 0 uses
// DefaultPreviewSize.
func BuildPreviewURL(baseURL, rasterRef string, opts TileOptions, maxSize int) string {
	if maxSize <= 0 {
		maxSize = DefaultPreviewSize
	}
	format := opts.Format
	if format == "" {
		format = DefaultTileFormat
	}

	q := opts.query(rasterRef)
	q.Set("max_size", strconv.Itoa(maxSize))
	return strings.TrimRight(baseURL, "/") + "/cog/preview." + format + "?" + q.Encode()
}

// BuildStatisticsURL returns the GET statistics URL for the whole raster.
// Colormap is irrelevant to statistics and is omitted.
func BuildStatisticsURL(baseURL, rasterRef string, opts TileOptions) string {
	opts.Colormap = ""
	return strings.TrimRight(baseURL, "/") + "/cog/statistics?" + opts.query(rasterRef).Encode()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
