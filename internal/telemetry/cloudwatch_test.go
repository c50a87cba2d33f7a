package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

type mockCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dimension(d []cwtypes.Dimension, name string) string {
	for _, dim := range d {
		if aws.ToString(dim.Name) == name {
			return aws.ToString(dim.Value)
		}
	}
	return ""
}

func TestRecordRequest(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchMetrics(cw, "", nil)

	m.RecordRequest(context.Background(), "POST", "/v1/imagery/statistics", "200", 1500*time.Millisecond)

	require.Len(t, cw.inputs, 1)
	in := cw.inputs[0]
	assert.Equal(t, types.MetricNamespace, aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 2)

	latency := in.MetricData[0]
	assert.Equal(t, types.MetricAPILatency, aws.ToString(latency.MetricName))
	assert.Equal(t, 1500.0, aws.ToFloat64(latency.Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, latency.Unit)
	assert.Equal(t, "/v1/imagery/statistics", dimension(latency.Dimensions, types.DimEndpoint))
	assert.Equal(t, "POST", dimension(latency.Dimensions, types.DimMethod))
	assert.Equal(t, "200", dimension(latency.Dimensions, types.DimStatus))

	count := in.MetricData[1]
	assert.Equal(t, types.MetricAPIRequestCount, aws.ToString(count.MetricName))
	assert.Equal(t, 1.0, aws.ToFloat64(count.Value))
}

func TestRecordIndexOutcome(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchMetrics(cw, "FieldWatchStaging", nil)

	m.RecordIndexOutcome(context.Background(), vegetation.IndexNDVI, true)
	m.RecordIndexOutcome(context.Background(), vegetation.IndexNDMI, false)

	require.Len(t, cw.inputs, 2)
	assert.Equal(t, "FieldWatchStaging", aws.ToString(cw.inputs[0].Namespace))

	ok := cw.inputs[0].MetricData[0]
	assert.Equal(t, types.MetricIndexComputed, aws.ToString(ok.MetricName))
	assert.Equal(t, "ndvi", dimension(ok.Dimensions, types.DimIndex))

	failed := cw.inputs[1].MetricData[0]
	assert.Equal(t, types.MetricIndexFailed, aws.ToString(failed.MetricName))
	assert.Equal(t, "ndmi", dimension(failed.Dimensions, types.DimIndex))
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	m := NewCloudWatchMetrics(cw, "", nil)

	assert.NotPanics(t, func() {
		m.RecordRequest(context.Background(), "GET", "/health", "200", time.Millisecond)
		m.RecordIndexOutcome(context.Background(), vegetation.IndexLAI, true)
	})
	assert.Len(t, cw.inputs, 2)
}
