package vegetation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNDVI(t *testing.T) {
	c := NewCalculator()

	v, ok := c.NDVI(8000, 2000)
	require.True(t, ok)
	assert.InDelta(t, 0.6, v, 1e-6)

	v, ok = c.NDVI(5000, 5000)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = c.NDVI(0, 0)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = c.NDVI(100, 0)
	require.True(t, ok)
	assert.LessOrEqual(t, v, 1.0)
}

func TestNormalizedDifferenceFamily(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name string
		fn   func(a, b float64) (float64, bool)
	}{
		{"ndre", c.NDRE},
		{"gndvi", c.GNDVI},
		{"ndmi", c.NDMI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := tt.fn(3000, 1000)
			require.True(t, ok)
			assert.InDelta(t, 0.5, v, 1e-6)

			_, ok = tt.fn(3000, DefaultNoData)
			assert.False(t, ok)
			_, ok = tt.fn(DefaultNoData, 1000)
			assert.False(t, ok)
			_, ok = tt.fn(math.NaN(), 1000)
			assert.False(t, ok)
		})
	}
}

func TestSAVI(t *testing.T) {
	c := NewCalculator()

	// Reflectance in [0,1]: ((0.5-0.1)/(0.5+0.1+0.5))*1.5
	v, ok := c.SAVI(0.5, 0.1)
	require.True(t, ok)
	assert.InDelta(t, 0.4/1.1*1.5, v, 1e-9)

	_, ok = c.SAVI(0.5, DefaultNoData)
	assert.False(t, ok)

	c.SAVIFactor = 0
	v, ok = c.SAVI(0, 0)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestLAI(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		ndvi float64
		want float64
	}{
		{-0.3, 0},
		{0.1, 0},
		{0.5, -math.Log(0.19/0.59) / 0.91},
		{0.69, MaxLAI},
		{0.95, MaxLAI},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		got := c.LAI(tt.ndvi)
		assert.InDelta(t, tt.want, got, 1e-9, "ndvi=%v", tt.ndvi)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, MaxLAI)
	}

	// Just above the floor is small but positive.
	assert.Greater(t, c.LAI(0.11), 0.0)
	// 0.689 would exceed the cap before clamping.
	assert.Equal(t, MaxLAI, c.LAI(0.6899999))
}

func TestComputeSkipsOnlyAffectedIndices(t *testing.T) {
	c := NewCalculator()

	full := BandSample{Red: 2000, NIR: 8000, RedEdge: 4000, Green: 3000, SWIR: 5000, Blue: 1000}
	r := c.Compute(full)
	for _, idx := range AllIndices {
		assert.NotNil(t, r.Get(idx), "index %s", idx)
	}
	assert.InDelta(t, 0.6, *r.NDVI, 1e-6)

	noSWIR := full
	noSWIR.SWIR = DefaultNoData
	r = c.Compute(noSWIR)
	assert.Nil(t, r.NDMI)
	assert.NotNil(t, r.NDVI)
	assert.NotNil(t, r.NDRE)

	noNIR := full
	noNIR.NIR = DefaultNoData
	r = c.Compute(noNIR)
	for _, idx := range AllIndices {
		assert.Nil(t, r.Get(idx), "index %s", idx)
	}

	noRed := full
	noRed.Red = DefaultNoData
	r = c.Compute(noRed)
	assert.Nil(t, r.NDVI)
	assert.Nil(t, r.SAVI)
	assert.Nil(t, r.LAI)
	assert.NotNil(t, r.GNDVI)
}

func TestCustomNoData(t *testing.T) {
	c := NewCalculator()
	c.NoData = -9999

	_, ok := c.NDVI(8000, -9999)
	assert.False(t, ok)

	_, ok = c.NDVI(8000, DefaultNoData)
	assert.True(t, ok)
}

func TestParseIndex(t *testing.T) {
	for _, in := range []string{"ndvi", "NDVI", " Savi ", "ndre", "gndvi", "ndmi", "lai"} {
		_, err := ParseIndex(in)
		assert.NoError(t, err, in)
	}

	idx, err := ParseIndex("Moisture")
	require.NoError(t, err)
	assert.Equal(t, IndexNDMI, idx)

	_, err = ParseIndex("evi")
	assert.Error(t, err)
}
