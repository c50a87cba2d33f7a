package imagery

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// Sentinel Hub request defaults.
const (
	DefaultDataType            = "sentinel-2-l2a"
	DefaultAggregationInterval = "P1D"
	// DefaultResolution is in CRS84 degrees, roughly 10 m.
	DefaultResolution  = 0.0001
	DefaultMosaicOrder = "leastCC"

	crsCRS84 = "http://www.opengis.net/def/crs/OGC/1.3/CRS84"
)

// Bounds is the area of interest in Sentinel Hub request bodies.
type Bounds struct {
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties BoundsProperties  `json:"properties"`
}

type BoundsProperties struct {
	CRS string `json:"crs"`
}

type DataFilter struct {
	TimeRange        *TimeRange `json:"timeRange,omitempty"`
	MaxCloudCoverage *float64   `json:"maxCloudCoverage,omitempty"`
	MosaickingOrder  string     `json:"mosaickingOrder,omitempty"`
}

type DataSource struct {
	Type       string     `json:"type"`
	DataFilter DataFilter `json:"dataFilter"`
}

type RequestInput struct {
	Bounds Bounds       `json:"bounds"`
	Data   []DataSource `json:"data"`
}

type AggregationInterval struct {
	Of string `json:"of"`
}

type Aggregation struct {
	TimeRange           TimeRange           `json:"timeRange"`
	AggregationInterval AggregationInterval `json:"aggregationInterval"`
	Evalscript          string              `json:"evalscript"`
	ResX                float64             `json:"resx"`
	ResY                float64             `json:"resy"`
}

// StatisticalRequest is a Statistical API request body.
type StatisticalRequest struct {
	Input        RequestInput   `json:"input"`
	Aggregation  Aggregation    `json:"aggregation"`
	Calculations map[string]any `json:"calculations,omitempty"`
}

// StatisticsOptions tunes BuildStatisticsRequests. Zero values use the
// package defaults and the Sentinel-2 band map.
type StatisticsOptions struct {
	DataType            string
	MaxCloudCoverage    *float64
	AggregationInterval string
	Resolution          float64
	BandMap             BandMap
}

func (o StatisticsOptions) withDefaults() StatisticsOptions {
	if o.DataType == "" {
		o.DataType = DefaultDataType
	}
	if o.AggregationInterval == "" {
		o.AggregationInterval = DefaultAggregationInterval
	}
	if o.Resolution <= 0 {
		o.Resolution = DefaultResolution
	}
	if o.BandMap == nil {
		o.BandMap = DefaultSensorProfiles()[ProfileSentinel2]
	}
	return o
}

// StatisticsRequest pairs an index with its request body.
type StatisticsRequest struct {
	Index vegetation.Index
	Body  StatisticalRequest
}

// BuildStatisticsRequests returns one request per distinct index, in the
// order first requested. Each request is independent so callers can run them
// through SettleAll and keep the successes when some fail.
func BuildStatisticsRequests(polygon orb.Polygon, tr TimeRange, indices []vegetation.Index, opts StatisticsOptions) ([]StatisticsRequest, error) {
	bounds, err := boundsFor(polygon)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "at least one index is required", nil)
	}
	opts = opts.withDefaults()

	seen := make(map[vegetation.Index]bool, len(indices))
	requests := make([]StatisticsRequest, 0, len(indices))
	for _, idx := range indices {
		if seen[idx] {
			continue
		}
		seen[idx] = true

		script, err := StatisticsEvalscript(idx, opts.BandMap)
		if err != nil {
			return nil, err
		}

		requests = append(requests, StatisticsRequest{
			Index: idx,
			Body: StatisticalRequest{
				Input: RequestInput{
					Bounds: bounds,
					Data: []DataSource{{
						Type: opts.DataType,
						DataFilter: DataFilter{
							MaxCloudCoverage: opts.MaxCloudCoverage,
							MosaickingOrder:  DefaultMosaicOrder,
						},
					}},
				},
				Aggregation: Aggregation{
					TimeRange:           tr,
					AggregationInterval: AggregationInterval{Of: opts.AggregationInterval},
					Evalscript:          script,
					ResX:                opts.Resolution,
					ResY:                opts.Resolution,
				},
				Calculations: map[string]any{"default": map[string]any{}},
			},
		})
	}
	return requests, nil
}

func boundsFor(polygon orb.Polygon) (Bounds, error) {
	if len(polygon) == 0 || len(polygon[0]) < 4 {
		return Bounds{}, &types.InvalidGeometryError{
			Reason: fmt.Sprintf("request bounds need a closed ring, got %d rings", len(polygon)),
		}
	}
	return Bounds{
		Geometry:   geojson.NewGeometry(polygon),
		Properties: BoundsProperties{CRS: crsCRS84},
	}, nil
}
