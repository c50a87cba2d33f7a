// Package main is the entrypoint for the Stats Worker Lambda function.
//
// The Stats Worker consumes StatsJobMessage payloads from the stats queue,
// computes the requested vegetation index statistics for the field through
// the monitoring service and stores the results as observations.
//
// Cold Start (main):
//  1. Load configuration and initialize the structured logger.
//  2. Open the Postgres pool.
//  3. Build the vendor clients and, when enabled, CloudWatch metrics.
//  4. Register the handler and call lambda.Start.
//
// Each message in a batch is processed independently. Messages that cannot
// succeed on redelivery (malformed bodies, invalid geometry, unknown indices)
// are logged and acknowledged; every other failure is reported in
// batchItemFailures so SQS redelivers only that message.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"fieldwatch/internal/config"
	"fieldwatch/internal/core"
	"fieldwatch/internal/db"
	"fieldwatch/internal/external"
	"fieldwatch/internal/monitoring"
	"fieldwatch/internal/telemetry"
	"fieldwatch/internal/types"
)

// JobProcessor runs one statistics job. *monitoring.Service implements it.
type JobProcessor interface {
	ProcessJob(ctx context.Context, msg types.StatsJobMessage) (*monitoring.StatisticsReport, error)
}

// Handler holds the dependencies for the stats worker Lambda handler.
type Handler struct {
	processor JobProcessor
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(processor JobProcessor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: processor, logger: logger}
}

// Handle processes an SQS event containing one or more statistics jobs.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process statistics job",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage returns an error only when the job should be retried.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.StatsJobMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed statistics job",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	logger := h.logger.With(
		"message_id", record.MessageId,
		"job_id", msg.JobID,
		"field_id", msg.FieldID,
		"trace_id", msg.TraceID,
	)
	if msg.TraceID != "" {
		ctx = types.WithRequestID(ctx, msg.TraceID)
	}

	report, err := h.processor.ProcessJob(ctx, msg)
	if err != nil {
		if isPermanent(err) {
			logger.WarnContext(ctx, "dropping statistics job that cannot succeed", "error", err.Error())
			return nil
		}
		return err
	}

	logger.InfoContext(ctx, "statistics job processed",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return nil
}

// isPermanent reports whether redelivering the job cannot change the outcome.
func isPermanent(err error) bool {
	appErr := core.AsAppError(err)
	return appErr != nil && strings.HasPrefix(string(appErr.Code), "validation_")
}

func main() {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("Stats Worker Lambda initializing (cold start)", "environment", cfg.Environment, "build", cfg.Build)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	clients := external.NewClientRegistry(cfg, logger)

	deps := monitoring.Dependencies{
		Statistics:   clients.Statistics,
		Previews:     clients.Previews,
		Rasters:      clients.Rasters,
		Fields:       clients.Fields,
		Observations: db.NewObservationRepository(pool, logger),
	}

	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("Failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		deps.Metrics = telemetry.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	service := monitoring.NewService(deps, monitoring.OptionsFromConfig(cfg.Imagery), logger.With("component", "monitoring"))
	handler := NewHandler(service, logger)

	logger.Info("Stats Worker Lambda initialized",
		"metrics_enabled", cfg.Observability.EnableMetrics,
		"default_profile", cfg.Imagery.DefaultProfile,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/stats-worker
	if cfg.Environment == "local" {
		if err := runLocal(ctx, handler, os.Stdin, logger); err != nil {
			logger.Error("Local invocation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal feeds one SQS event read from r through the handler.
func runLocal(ctx context.Context, handler *Handler, r io.Reader, logger *slog.Logger) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}

	response, err := handler.Handle(ctx, sqsEvent)
	if err != nil {
		return err
	}
	logger.Info("Handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	return nil
}
