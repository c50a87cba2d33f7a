// Package queue provides the SQS producer that hands statistics jobs from the
// API to the stats worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"fieldwatch/internal/config"
	"fieldwatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// StatsJobPublisher serializes StatsJobMessage payloads onto the stats queue.
// It implements monitoring.StatsJobPublisher.
type StatsJobPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewStatsJobPublisher creates a publisher for the queue named in awsCfg.
func NewStatsJobPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *StatsJobPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsJobPublisher{
		client:   client,
		queueURL: awsCfg.StatsQueueURL,
		logger:   logger,
	}
}

// PublishStatsJob sends msg to the stats queue. The field ID and trace ID
// travel as message attributes so the worker can log them before decoding
// the body.
func (p *StatsJobPublisher) PublishStatsJob(ctx context.Context, msg types.StatsJobMessage) error {
	if p.queueURL == "" {
		return &types.ConfigurationError{Service: "sqs", Setting: "SQS_STATS_JOBS"}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal StatsJobMessage: %w", err)
	}

	attrs := map[string]sqsTypes.MessageAttributeValue{
		"field_id": {
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.FieldID),
		},
	}
	if msg.TraceID != "" {
		attrs["trace_id"] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.TraceID),
		}
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send StatsJobMessage to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "statistics job message sent",
		"queue_url", p.queueURL,
		"job_id", msg.JobID,
		"field_id", msg.FieldID,
		"trace_id", msg.TraceID,
		"indices", msg.Indices,
	)
	return nil
}
