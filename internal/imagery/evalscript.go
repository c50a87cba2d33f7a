package imagery

import (
	"fmt"
	"strconv"
	"strings"

	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

const statisticsEvalscript = `//VERSION=3
function setup() {
  return {
    input: [{ bands: [%s, "dataMask"] }],
    output: [
      { id: "%s", bands: 1, sampleType: "FLOAT32" },
      { id: "dataMask", bands: 1 }
    ]
  };
}

function evaluatePixel(s) {
  %s
  return { %s: [value], dataMask: [s.dataMask] };
}
`

const visualEvalscript = `//VERSION=3
function setup() {
  return {
    input: [{ bands: [%s, "dataMask"] }],
    output: { bands: 4 }
  };
}

function evaluatePixel(s) {
  %s
  let rgb = colorBlend(value, [%s], [%s]);
  return [rgb[0], rgb[1], rgb[2], s.dataMask];
}
`

// sensorBandName converts a band number into the Sentinel Hub band id
// (4 -> "B04").
func sensorBandName(n int) string {
	return fmt.Sprintf("B%02d", n)
}

// pixelExpression returns the quoted input band list and a JS statement
// assigning "value" for idx.
func pixelExpression(idx vegetation.Index, bm BandMap) (string, string, error) {
	bandsFor := indexBands[idx]
	if idx == vegetation.IndexLAI {
		bandsFor = indexBands[vegetation.IndexNDVI]
	}
	if bandsFor == ([2]Band{}) {
		return "", "", types.NewAppError(types.ErrCodeValidationInvalidIndex,
			fmt.Sprintf("unsupported index %q", idx), nil)
	}

	na, err := bm.Number(bandsFor[0])
	if err != nil {
		return "", "", err
	}
	nb, err := bm.Number(bandsFor[1])
	if err != nil {
		return "", "", err
	}
	a, b := "s."+sensorBandName(na), "s."+sensorBandName(nb)
	inputs := strconv.Quote(sensorBandName(na)) + ", " + strconv.Quote(sensorBandName(nb))
	nd := fmt.Sprintf("(%s - %s) / (%s + %s)", a, b, a, b)

	switch idx {
	case vegetation.IndexSAVI:
		l := formatFloat(vegetation.DefaultSAVIFactor)
		return inputs, fmt.Sprintf("let value = (%s - %s) / (%s + %s + %s) * (1 + %s);", a, b, a, b, l, l), nil
	case vegetation.IndexLAI:
		return inputs, fmt.Sprintf(
			"let ndvi = %s;\n  let value = ndvi <= 0.1 ? 0 : (ndvi >= 0.69 ? %s : Math.min(%s, Math.max(0, -Math.log((0.69 - ndvi) / 0.59) / %s)));",
			nd, formatFloat(vegetation.MaxLAI), formatFloat(vegetation.MaxLAI), formatFloat(vegetation.DefaultLAIExtinction)), nil
	default:
		return inputs, "let value = " + nd + ";", nil
	}
}

// StatisticsEvalscript returns the evalscript computing idx as a single
// FLOAT32 output named after the index.
func StatisticsEvalscript(idx vegetation.Index, bm BandMap) (string, error) {
	inputs, body, err := pixelExpression(idx, bm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(statisticsEvalscript, inputs, idx, body, idx), nil
}

// VisualEvalscript returns an evalscript rendering idx through the index's
// colour ramp, with no-data pixels transparent.
func VisualEvalscript(idx vegetation.Index, bm BandMap) (string, error) {
	inputs, body, err := pixelExpression(idx, bm)
	if err != nil {
		return "", err
	}

	ramp := vegetation.RampFor(idx)
	stops := make([]string, 0, len(ramp))
	colors := make([]string, 0, len(ramp))
	for _, s := range ramp {
		stops = append(stops, formatFloat(s.Value))
		colors = append(colors, fmt.Sprintf("[%s, %s, %s]",
			formatFloat(float64(s.Color.R)/255),
			formatFloat(float64(s.Color.G)/255),
			formatFloat(float64(s.Color.B)/255)))
	}
	return fmt.Sprintf(visualEvalscript, inputs, body, strings.Join(stops, ", "), strings.Join(colors, ", ")), nil
}
