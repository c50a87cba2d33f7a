package types

import (
	"encoding/json"
	"time"
)

// StatsJobMessage is the SQS payload produced by the API when a caller asks
// for index statistics to be computed asynchronously, and consumed by the
// stats worker. JSON tags are snake_case to match the other queue payloads.
type StatsJobMessage struct {
	JobID     string          `json:"job_id"`
	FieldID   string          `json:"field_id"`
	Geometry  json.RawMessage `json:"geometry"`
	Date      *time.Time      `json:"date,omitempty"`
	Indices   []string        `json:"indices"`
	MaxCloud  *float64        `json:"max_cloud,omitempty"`
	Profile   string          `json:"profile,omitempty"`
	TraceID   string          `json:"trace_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// Metric names and dimensions for CloudWatch.
const (
	MetricNamespace       = "FieldWatch"
	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricIndexComputed   = "IndexComputed"
	MetricIndexFailed     = "IndexFailed"

	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimIndex    = "Index"
)
