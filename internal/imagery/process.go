package imagery

import (
	"github.com/paulmach/orb"

	"fieldwatch/internal/vegetation"
)

// Process API output defaults.
const (
	DefaultImageSize  = 512
	maxProcessImageSz = 2500
)

type OutputFormat struct {
	Type string `json:"type"`
}

type OutputResponse struct {
	Identifier string       `json:"identifier"`
	Format     OutputFormat `json:"format"`
}

type ProcessOutput struct {
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Responses []OutputResponse `json:"responses"`
}

// ProcessRequest is a Process API request body.
type ProcessRequest struct {
	Input      RequestInput  `json:"input"`
	Output     ProcessOutput `json:"output"`
	Evalscript string        `json:"evalscript"`
}

// ProcessOptions tunes BuildProcessRequest.
type ProcessOptions struct {
	Width            int
	Height           int
	DataType         string
	MaxCloudCoverage *float64
	BandMap          BandMap
}

// BuildProcessRequest returns a request for a colourised PNG of one index
// over the polygon, least-cloudy scene first.
func BuildProcessRequest(polygon orb.Polygon, tr TimeRange, idx vegetation.Index, opts ProcessOptions) (ProcessRequest, error) {
	bounds, err := boundsFor(polygon)
	if err != nil {
		return ProcessRequest{}, err
	}
	if opts.DataType == "" {
		opts.DataType = DefaultDataType
	}
	if opts.BandMap == nil {
		opts.BandMap = DefaultSensorProfiles()[ProfileSentinel2]
	}
	opts.Width = imageSide(opts.Width)
	opts.Height = imageSide(opts.Height)

	script, err := VisualEvalscript(idx, opts.BandMap)
	if err != nil {
		return ProcessRequest{}, err
	}

	return ProcessRequest{
		Input: RequestInput{
			Bounds: bounds,
			Data: []DataSource{{
				Type: opts.DataType,
				DataFilter: DataFilter{
					TimeRange:        &tr,
					MaxCloudCoverage: opts.MaxCloudCoverage,
					MosaickingOrder:  DefaultMosaicOrder,
				},
			}},
		},
		Output: ProcessOutput{
			Width:  opts.Width,
			Height: opts.Height,
			Responses: []OutputResponse{{
				Identifier: "default",
				Format:     OutputFormat{Type: "image/png"},
			}},
		},
		Evalscript: script,
	}, nil
}

func imageSide(n int) int {
	if n <= 0 {
		return DefaultImageSize
	}
	return min(n, maxProcessImageSz)
}
