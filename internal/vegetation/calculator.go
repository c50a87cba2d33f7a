// Package vegetation evaluates spectral vegetation indices from reflectance
// band values and buckets them into qualitative labels.
//
// Every function is pure. An index that cannot be computed because a band it
// depends on carries the no-data sentinel (or NaN) is reported as skipped,
// never as an error: the bool result is false, or the Results field is nil.
package vegetation

import (
	"fmt"
	"math"
	"strings"
)

// Index names a supported vegetation index.
type Index string

const (
	IndexNDVI  Index = "ndvi"
	IndexSAVI  Index = "savi"
	IndexNDRE  Index = "ndre"
	IndexGNDVI Index = "gndvi"
	IndexNDMI  Index = "ndmi"
	IndexLAI   Index = "lai"
)

// AllIndices lists every index in a stable order.
var AllIndices = []Index{IndexNDVI, IndexSAVI, IndexNDRE, IndexGNDVI, IndexNDMI, IndexLAI}

// ParseIndex resolves a case-insensitive index name. "moisture" is accepted
// as an alias of ndmi.
func ParseIndex(s string) (Index, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "moisture" {
		return IndexNDMI, nil
	}
	for _, idx := range AllIndices {
		if Index(name) == idx {
			return idx, nil
		}
	}
	return "", fmt.Errorf("unknown vegetation index %q", s)
}

// Defaults used by NewCalculator.
const (
	DefaultNoData        = 65535
	DefaultEpsilon       = 1e-4
	DefaultSAVIFactor    = 0.5
	DefaultLAIExtinction = 0.91

	MaxLAI = 8.0

	laiNDVIFloor      = 0.1
	laiNDVISaturation = 0.69
	laiNDVIRange      = 0.59
)

// Calculator holds the tunables shared by every index. The zero value is not
// useful; use NewCalculator.
type Calculator struct {
	// NoData is the sentinel marking a missing band value.
	NoData float64
	// Epsilon is added to normalized-difference denominators.
	Epsilon float64
	// SAVIFactor is the soil brightness correction L.
	SAVIFactor float64
	// LAIExtinction is the canopy extinction coefficient k in the LAI
	// estimate. 0.91 is used throughout.
	LAIExtinction float64
}

// NewCalculator returns a Calculator with the default tunables.
func NewCalculator() Calculator {
	return Calculator{
		NoData:        DefaultNoData,
		Epsilon:       DefaultEpsilon,
		SAVIFactor:    DefaultSAVIFactor,
		LAIExtinction: DefaultLAIExtinction,
	}
}

// usable reports whether every band value is present.
func (c Calculator) usable(bands ...float64) bool {
	for _, b := range bands {
		if math.IsNaN(b) || b == c.NoData {
			return false
		}
	}
	return true
}

// normalizedDifference computes (a-b)/(a+b+eps) clamped to [-1, 1].
func (c Calculator) normalizedDifference(a, b float64) (float64, bool) {
	if !c.usable(a, b) {
		return 0, false
	}
	v := (a - b) / (a + b + c.Epsilon)
	return clamp(v, -1, 1), true
}

// NDVI computes (nir-red)/(nir+red).
func (c Calculator) NDVI(nir, red float64) (float64, bool) {
	return c.normalizedDifference(nir, red)
}

// SAVI computes ((nir-red)/(nir+red+L))*(1+L).
func (c Calculator) SAVI(nir, red float64) (float64, bool) {
	if !c.usable(nir, red) {
		return 0, false
	}
	denom := nir + red + c.SAVIFactor
	if denom == 0 {
		denom = c.Epsilon
	}
	return (nir - red) / denom * (1 + c.SAVIFactor), true
}

// NDRE computes the red-edge normalized difference.
func (c Calculator) NDRE(nir, redEdge float64) (float64, bool) {
	return c.normalizedDifference(nir, redEdge)
}

// GNDVI computes the green normalized difference.
func (c Calculator) GNDVI(nir, green float64) (float64, bool) {
	return c.normalizedDifference(nir, green)
}

// NDMI computes the moisture index from nir and short-wave infrared.
func (c Calculator) NDMI(nir, swir float64) (float64, bool) {
	return c.normalizedDifference(nir, swir)
}

// LAI estimates leaf area index from an NDVI value:
// clamp(-ln((0.69-ndvi)/0.59)/k, 0, 8) for ndvi > 0.1, else 0.
// NDVI at or above 0.69 saturates at MaxLAI.
func (c Calculator) LAI(ndvi float64) float64 {
	if math.IsNaN(ndvi) || ndvi <= laiNDVIFloor {
		return 0
	}
	ratio := (laiNDVISaturation - ndvi) / laiNDVIRange
	if ratio <= 0 {
		return MaxLAI
	}
	return clamp(-math.Log(ratio)/c.LAIExtinction, 0, MaxLAI)
}

// BandSample is a reflectance vector for one pixel or an area mean. Unused
// bands should carry the no-data sentinel or NaN.
type BandSample struct {
	Red     float64 `json:"red"`
	NIR     float64 `json:"nir"`
	RedEdge float64 `json:"red_edge"`
	Green   float64 `json:"green"`
	SWIR    float64 `json:"swir"`
	Blue    float64 `json:"blue"`
}

// Results holds every index for one BandSample. A nil field means the index
// was skipped for missing input.
type Results struct {
	NDVI  *float64 `json:"ndvi"`
	SAVI  *float64 `json:"savi"`
	NDRE  *float64 `json:"ndre"`
	GNDVI *float64 `json:"gndvi"`
	NDMI  *float64 `json:"ndmi"`
	LAI   *float64 `json:"lai"`
}

// Get returns the value for idx, or nil when skipped or unknown.
func (r Results) Get(idx Index) *float64 {
	switch idx {
	case IndexNDVI:
		return r.NDVI
	case IndexSAVI:
		return r.SAVI
	case IndexNDRE:
		return r.NDRE
	case IndexGNDVI:
		return r.GNDVI
	case IndexNDMI:
		return r.NDMI
	case IndexLAI:
		return r.LAI
	}
	return nil
}

// Compute evaluates all indices for s. LAI is derived from NDVI and is
// skipped whenever NDVI is.
func (c Calculator) Compute(s BandSample) Results {
	var r Results
	r.NDVI = optional(c.NDVI(s.NIR, s.Red))
	r.SAVI = optional(c.SAVI(s.NIR, s.Red))
	r.NDRE = optional(c.NDRE(s.NIR, s.RedEdge))
	r.GNDVI = optional(c.GNDVI(s.NIR, s.Green))
	r.NDMI = optional(c.NDMI(s.NIR, s.SWIR))
	if r.NDVI != nil {
		lai := c.LAI(*r.NDVI)
		r.LAI = &lai
	}
	return r
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
