// Package main implements the job-runner CLI tool for submitting field
// statistics jobs outside the HTTP API.
//
// This tool is intended for local development, manual backfilling and
// operational debugging. It reads a field boundary as GeoJSON, builds a
// statistics query and either enqueues it for the stats worker (the
// default), computes it in-process (--local) or prints the query (--dry-run).
//
// Usage:
//
//	go run ./cmd/tools/job-runner --field=f_123 --geometry=field.geojson --indices=ndvi,ndmi
//	go run ./cmd/tools/job-runner --field=f_123 --geometry=- --date=2024-06-01 --local < field.geojson
//	go run ./cmd/tools/job-runner --dry-run --field=f_123 --geometry=field.geojson --indices=evi
//
// Configuration comes from the environment (or a .env file when APP_ENV is
// local), exactly as for the API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"fieldwatch/internal/config"
	"fieldwatch/internal/external"
	"fieldwatch/internal/geometry"
	"fieldwatch/internal/monitoring"
	"fieldwatch/internal/queue"
	"fieldwatch/internal/vegetation"
)

// jobFlags are the raw command-line values before validation.
type jobFlags struct {
	FieldID  string
	Geometry string
	Indices  string
	Date     string
	MaxCloud string
	Profile  string
}

func main() {
	var f jobFlags
	flag.StringVar(&f.FieldID, "field", "", "Field ID the observations are stored under")
	flag.StringVar(&f.Geometry, "geometry", "", "Path to a GeoJSON boundary, or - for stdin")
	flag.StringVar(&f.Indices, "indices", "ndvi", "Comma-separated vegetation indices")
	flag.StringVar(&f.Date, "date", "", "Observation date (2006-01-02 or RFC3339); defaults to today")
	flag.StringVar(&f.MaxCloud, "max-cloud", "", "Maximum scene cloud cover percentage")
	flag.StringVar(&f.Profile, "profile", "", "Sensor profile; defaults to the configured profile")
	local := flag.Bool("local", false, "Compute the statistics in-process and print the report")
	dryRun := flag.Bool("dry-run", false, "Print the parsed query without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Submit a field statistics job, bypassing the HTTP API.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var stdin io.Reader
	if f.Geometry == "-" {
		stdin = os.Stdin
	}
	query, err := parseQuery(f, stdin, os.ReadFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if *dryRun {
		if err := printJSON(os.Stdout, queryView(query)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, cfg, query, *local, logger); err != nil {
		logger.Error("job execution failed", "field_id", query.FieldID, "error", err)
		os.Exit(1)
	}
}

// parseQuery validates the flags into a statistics query. readFile loads the
// geometry path; stdin is used instead when the path is "-".
func parseQuery(f jobFlags, stdin io.Reader, readFile func(string) ([]byte, error)) (monitoring.StatisticsQuery, error) {
	var q monitoring.StatisticsQuery

	q.FieldID = strings.TrimSpace(f.FieldID)
	if q.FieldID == "" {
		return q, errors.New("--field is required")
	}

	var raw []byte
	var err error
	switch f.Geometry {
	case "":
		return q, errors.New("--geometry is required")
	case "-":
		if stdin == nil {
			return q, errors.New("--geometry=- needs input on stdin")
		}
		raw, err = io.ReadAll(stdin)
	default:
		raw, err = readFile(f.Geometry)
	}
	if err != nil {
		return q, fmt.Errorf("reading geometry: %w", err)
	}
	g, err := geometry.ParseGeometry(raw)
	if err != nil {
		return q, err
	}
	q.Polygon, err = geometry.ToPolygonGeometry(geometry.ToPointList(g))
	if err != nil {
		return q, err
	}

	seen := make(map[vegetation.Index]bool)
	for _, name := range strings.Split(f.Indices, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		idx, err := vegetation.ParseIndex(name)
		if err != nil {
			return q, err
		}
		if !seen[idx] {
			seen[idx] = true
			q.Indices = append(q.Indices, idx)
		}
	}
	if len(q.Indices) == 0 {
		return q, errors.New("--indices must name at least one index")
	}

	if f.Date != "" {
		d, err := parseDate(f.Date)
		if err != nil {
			return q, err
		}
		q.Date = &d
	}

	if f.MaxCloud != "" {
		v, err := strconv.ParseFloat(f.MaxCloud, 64)
		if err != nil || v < 0 || v > 100 {
			return q, fmt.Errorf("--max-cloud must be a number between 0 and 100, got %q", f.MaxCloud)
		}
		q.MaxCloud = &v
	}

	q.Profile = strings.TrimSpace(f.Profile)
	return q, nil
}

func parseDate(raw string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d, nil
	}
	d, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: expected 2006-01-02 or RFC3339", raw)
	}
	return d.UTC(), nil
}

// execute wires the monitoring service the same way the API and the stats
// worker do and runs the query.
func execute(ctx context.Context, cfg *config.Config, q monitoring.StatisticsQuery, local bool, logger *slog.Logger) error {
	clients := external.NewClientRegistry(cfg, logger)
	deps := monitoring.Dependencies{
		Statistics: clients.Statistics,
		Previews:   clients.Previews,
		Rasters:    clients.Rasters,
		Fields:     clients.Fields,
	}

	if !local {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		deps.Jobs = queue.NewStatsJobPublisher(sqsClient, cfg.AWS, logger)
	}

	service := monitoring.NewService(deps, monitoring.OptionsFromConfig(cfg.Imagery), logger)

	if local {
		report, err := service.ComputeStatistics(ctx, q)
		if report != nil {
			if perr := printJSON(os.Stdout, report); perr != nil && err == nil {
				err = perr
			}
		}
		return err
	}

	jobID, err := service.EnqueueStatistics(ctx, q)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, map[string]string{"job_id": jobID, "field_id": q.FieldID})
}

// queryView is the printable form of a query.
func queryView(q monitoring.StatisticsQuery) map[string]any {
	b := q.Polygon.Bound()
	view := map[string]any{
		"field_id": q.FieldID,
		"indices":  q.Indices,
		"bbox":     []float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()},
	}
	if q.Date != nil {
		view["date"] = q.Date.Format(time.RFC3339)
	}
	if q.MaxCloud != nil {
		view["max_cloud"] = *q.MaxCloud
	}
	if q.Profile != "" {
		view["profile"] = q.Profile
	}
	return view
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
