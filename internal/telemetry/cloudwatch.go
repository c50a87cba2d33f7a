// Package telemetry emits fieldwatch metrics to AWS CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics records API request metrics and per-index statistics
// outcomes. It satisfies core.MetricsCollector and monitoring.IndexMetrics.
//
// Metrics emitted:
//   - APILatency: Dims {Endpoint, Method, Status}, milliseconds
//   - APIRequestCount: Dims {Endpoint, Method, Status}
//   - IndexComputed / IndexFailed: Dims {Index}
//
// Publishing failures are logged and never reach the caller.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace,
// or to types.MetricNamespace when namespace is empty.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordRequest emits latency and count for one API request in a single
// PutMetricData call.
func (m *CloudWatchMetrics) RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(types.MetricAPIRequestCount),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record request metric",
			"error", err.Error(),
			"endpoint", endpoint,
			"status", status,
		)
	}
}

// RecordIndexOutcome counts one computed or failed index.
func (m *CloudWatchMetrics) RecordIndexOutcome(ctx context.Context, idx vegetation.Index, ok bool) {
	name := types.MetricIndexComputed
	if !ok {
		name = types.MetricIndexFailed
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimIndex), Value: aws.String(string(idx))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record index metric",
			"error", err.Error(),
			"index", string(idx),
			"ok", ok,
		)
	}
}
