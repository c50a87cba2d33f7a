// Package main is the entry point for the FieldWatch API server.
//
// It loads the configuration, opens the Postgres pool, builds the vendor
// clients, wires the monitoring and milestone services behind the core
// chassis (middleware, routing, health checks) and serves HTTP until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"

	"fieldwatch/internal/api/handlers"
	"fieldwatch/internal/auth"
	"fieldwatch/internal/config"
	"fieldwatch/internal/core"
	"fieldwatch/internal/db"
	"fieldwatch/internal/external"
	"fieldwatch/internal/milestone"
	"fieldwatch/internal/monitoring"
	"fieldwatch/internal/queue"
	"fieldwatch/internal/security"
	"fieldwatch/internal/telemetry"
	"fieldwatch/internal/vegetation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// appMetrics is the telemetry sink shared by the HTTP layer and the
// monitoring service.
type appMetrics interface {
	core.MetricsCollector
	monitoring.IndexMetrics
}

// dependencies are the process-level resources the server is built from.
// Tests substitute fakes for each of them.
type dependencies struct {
	DB      db.DBTX
	Ping    func(context.Context) error
	Clients *external.ClientRegistry
	Jobs    monitoring.StatsJobPublisher
	Metrics appMetrics
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("fieldwatch API starting",
		"environment", cfg.Environment,
		"build", cfg.Build,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	deps := dependencies{
		DB:      pool,
		Ping:    pool.Ping,
		Clients: external.NewClientRegistry(cfg, logger),
		Jobs:    queue.NewStatsJobPublisher(sqsClient, cfg.AWS, logger.With("component", "queue")),
	}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		deps.Metrics = telemetry.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		pool.Close()
		return err
	}
	srv.OnShutdown(pool.Close)

	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the services and handlers onto a mounted core.Server.
func buildServer(cfg *config.Config, logger *slog.Logger, deps dependencies) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	srv.Authenticator = tokens

	if deps.Metrics != nil {
		srv.Metrics = deps.Metrics
	}
	if deps.Ping != nil {
		srv.HealthChecks = append(srv.HealthChecks, core.CheckFunc{Label: "database", Fn: deps.Ping})
	}

	milestones := milestone.NewService(
		db.NewMilestoneRepository(deps.DB, logger),
		deps.Clients.Payouts,
		logger.With("component", "milestones"),
	)

	monitor := monitoring.NewService(monitoring.Dependencies{
		Statistics:   deps.Clients.Statistics,
		Previews:     deps.Clients.Previews,
		Rasters:      deps.Clients.Rasters,
		Fields:       deps.Clients.Fields,
		Jobs:         deps.Jobs,
		Observations: db.NewObservationRepository(deps.DB, logger),
		Metrics:      deps.Metrics,
	}, monitoring.OptionsFromConfig(cfg.Imagery), logger.With("component", "monitoring"))

	geometryHandler := handlers.NewGeometryHandler(cfg.Maps, srv.Validator, logger)
	indexHandler := handlers.NewIndexHandler(vegetation.NewCalculator(), cfg.Server.MaxBatchSize, srv.Validator, logger)
	// Test mode skips DNS so raster URL checks stay offline.
	var resolver security.Resolver = net.DefaultResolver
	if cfg.IsTestMode {
		resolver = nil
	}
	urlGuard, err := security.NewURLGuard(resolver)
	if err != nil {
		return nil, fmt.Errorf("creating raster url guard: %w", err)
	}
	imageryHandler := handlers.NewImageryHandler(monitor, cfg.Imagery.TiTilerBaseURL, srv.Validator, logger).
		WithURLChecker(urlGuard)
	milestoneHandler := handlers.NewMilestoneHandler(milestones, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Route("/geometry", geometryHandler.RegisterRoutes)
		r.Route("/indices", indexHandler.RegisterRoutes)
		r.Route("/imagery", imageryHandler.RegisterRoutes)
		r.Route("/milestones", milestoneHandler.RegisterRoutes)
	})

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
