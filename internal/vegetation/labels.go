package vegetation

import "math"

// Health is the qualitative bucket for an NDVI value.
type Health string

const (
	HealthWaterShadow Health = "Water/Shadow"
	HealthBareSoil    Health = "Bare Soil"
	HealthSparse      Health = "Sparse"
	HealthModerate    Health = "Moderate"
	HealthHealthy     Health = "Healthy"
	HealthVeryHealthy Health = "Very Healthy"
	HealthNoData      Health = "No Data"
)

// HealthLabel buckets an NDVI value. Each threshold belongs to the bucket
// above it: 0.1 is Sparse, 0.6 is Very Healthy. Nil or NaN is No Data.
func HealthLabel(ndvi *float64) Health {
	if ndvi == nil || math.IsNaN(*ndvi) {
		return HealthNoData
	}
	switch v := *ndvi; {
	case v < -0.1:
		return HealthWaterShadow
	case v < 0.1:
		return HealthBareSoil
	case v < 0.2:
		return HealthSparse
	case v < 0.4:
		return HealthModerate
	case v < 0.6:
		return HealthHealthy
	default:
		return HealthVeryHealthy
	}
}

// Color returns the hex badge colour for the label.
func (h Health) Color() string {
	switch h {
	case HealthWaterShadow:
		return "#1e3a8a"
	case HealthBareSoil:
		return "#a16207"
	case HealthSparse:
		return "#eab308"
	case HealthModerate:
		return "#84cc16"
	case HealthHealthy:
		return "#22c55e"
	case HealthVeryHealthy:
		return "#15803d"
	default:
		return "#9ca3af"
	}
}

// Quality is the scene usability bucket derived from cloud cover.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityModerate  Quality = "moderate"
	QualityPoor      Quality = "poor"
)

// QualityFromCloudCover buckets a cloud cover percentage; upper bounds are
// inclusive. NaN is treated as poor.
func QualityFromCloudCover(percent float64) Quality {
	switch {
	case math.IsNaN(percent):
		return QualityPoor
	case percent <= 15:
		return QualityExcellent
	case percent <= 30:
		return QualityGood
	case percent <= 50:
		return QualityModerate
	default:
		return QualityPoor
	}
}
