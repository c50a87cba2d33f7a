package imagery

import (
	"fmt"
	"strconv"
	"strings"

	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// indexBands lists the two bands of each normalized-difference index as
// (positive, negative).
var indexBands = map[vegetation.Index][2]Band{
	vegetation.IndexNDVI:  {BandNIR, BandRed},
	vegetation.IndexSAVI:  {BandNIR, BandRed},
	vegetation.IndexNDRE:  {BandNIR, BandRedEdge},
	vegetation.IndexGNDVI: {BandNIR, BandGreen},
	vegetation.IndexNDMI:  {BandNIR, BandSWIR},
}

const (
	normalizedDifferenceTemplate = "({a}-{b})/({a}+{b})"
	saviTemplate                 = "({a}-{b})/({a}+{b}+{L})*(1+{L})"
)

// BuildBandMathExpression renders the tile-server expression for idx with
// band numbers taken from bm, e.g. NDVI on Sentinel-2 is
// "(b8-b4)/(b8+b4)". LAI is not expressible as band math and is rejected.
func BuildBandMathExpression(idx vegetation.Index, bm BandMap) (string, error) {
	bands, ok := indexBands[idx]
	if !ok {
		return "", types.NewAppError(types.ErrCodeValidationInvalidIndex,
			fmt.Sprintf("index %q has no band-math expression", idx), nil)
	}

	a, err := bm.Number(bands[0])
	if err != nil {
		return "", err
	}
	b, err := bm.Number(bands[1])
	if err != nil {
		return "", err
	}

	tmpl := normalizedDifferenceTemplate
	if idx == vegetation.IndexSAVI {
		tmpl = saviTemplate
	}

	r := strings.NewReplacer(
		"{a}", "b"+strconv.Itoa(a),
		"{b}", "b"+strconv.Itoa(b),
		"{L}", strconv.FormatFloat(vegetation.DefaultSAVIFactor, 'f', -1, 64),
	)
	return r.Replace(tmpl), nil
}
