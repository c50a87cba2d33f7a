package vegetation

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"
)

// ColorStop anchors a colour to an index value.
type ColorStop struct {
	Value float64
	Color color.NRGBA
}

// Ramp maps index values to colours by linear interpolation between stops.
// Values outside the outermost stops take the nearest stop's colour.
type Ramp []ColorStop

// NDVIRamp runs from water blue through soil brown to dense-canopy green.
var NDVIRamp = Ramp{
	{Value: -0.2, Color: color.NRGBA{R: 30, G: 58, B: 138, A: 255}},
	{Value: 0.0, Color: color.NRGBA{R: 161, G: 98, B: 7, A: 255}},
	{Value: 0.2, Color: color.NRGBA{R: 234, G: 179, B: 8, A: 255}},
	{Value: 0.4, Color: color.NRGBA{R: 132, G: 204, B: 22, A: 255}},
	{Value: 0.6, Color: color.NRGBA{R: 34, G: 197, B: 94, A: 255}},
	{Value: 0.9, Color: color.NRGBA{R: 21, G: 128, B: 61, A: 255}},
}

// MoistureRamp runs from dry orange to wet blue.
var MoistureRamp = Ramp{
	{Value: -0.8, Color: color.NRGBA{R: 194, G: 65, B: 12, A: 255}},
	{Value: 0.0, Color: color.NRGBA{R: 253, G: 224, B: 71, A: 255}},
	{Value: 0.8, Color: color.NRGBA{R: 37, G: 99, B: 235, A: 255}},
}

// RampFor returns the ramp used for idx.
func RampFor(idx Index) Ramp {
	if idx == IndexNDMI {
		return MoistureRamp
	}
	return NDVIRamp
}

var transparent = color.NRGBA{}

// At returns the colour for v. NaN maps to fully transparent.
func (r Ramp) At(v float64) color.NRGBA {
	if len(r) == 0 || math.IsNaN(v) {
		return transparent
	}
	if v <= r[0].Value {
		return r[0].Color
	}
	last := r[len(r)-1]
	if v >= last.Value {
		return last.Color
	}

	i := sort.Search(len(r), func(i int) bool { return r[i].Value >= v })
	lo, hi := r[i-1], r[i]
	t := (v - lo.Value) / (hi.Value - lo.Value)
	return color.NRGBA{
		R: lerp(lo.Color.R, hi.Color.R, t),
		G: lerp(lo.Color.G, hi.Color.G, t),
		B: lerp(lo.Color.B, hi.Color.B, t),
		A: lerp(lo.Color.A, hi.Color.A, t),
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// Raster is a row-major grid of index values.
type Raster struct {
	Width  int
	Values []float64
}

var errEmptyRaster = errors.New("raster has no pixels")

// Colorize converts the raster to an image. Pixels that are NaN or equal to
// noData are transparent.
func (r Raster) Colorize(ramp Ramp, noData float64) (*image.NRGBA, error) {
	if r.Width <= 0 || len(r.Values) == 0 {
		return nil, errEmptyRaster
	}
	if len(r.Values)%r.Width != 0 {
		return nil, fmt.Errorf("raster of %d values is not divisible by width %d", len(r.Values), r.Width)
	}

	height := len(r.Values) / r.Width
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, height))
	for i, v := range r.Values {
		if v == noData {
			continue
		}
		img.SetNRGBA(i%r.Width, i/r.Width, ramp.At(v))
	}
	return img, nil
}

// RenderPNG colourises the raster and writes it to w as PNG. Production
// previews arrive already coloured from Sentinel Hub; this renders previews
// locally when vendors are stubbed.
func RenderPNG(w io.Writer, r Raster, ramp Ramp, noData float64) error {
	img, err := r.Colorize(ramp, noData)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}
