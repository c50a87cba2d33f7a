// Package config defines the configuration for the fieldwatch binaries.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved from the OS environment, falling back to a .env file
// in local development. A missing required value or invalid format fails
// startup. Vendor credentials are optional: a client without credentials
// reports a ConfigurationError when it is used, not when the process boots.
package config

import (
	"time"

	"fieldwatch/internal/imagery"
	"fieldwatch/internal/types"
)

// SecretString is an alias for types.SecretString so secrets never reach logs.
type SecretString = types.SecretString

// Config is the top-level configuration. Sub-components receive only the
// section they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"fieldwatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Auth          AuthConfig
	Imagery       ImageryConfig
	Maps          MapsConfig
	Payments      PaymentsConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo `ignored:"true"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	ReadTimeout        time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout       time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"60s"`
	// MaxBatchSize caps the number of band samples in one compute request.
	MaxBatchSize int `envconfig:"MAX_BATCH_SIZE" default:"1000" validate:"min=1,max=100000"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	StatsQueueURL string `envconfig:"SQS_STATS_JOBS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	JWTSecret SecretString  `envconfig:"JWT_SECRET" validate:"omitempty,min=32"`
	Issuer    string        `envconfig:"JWT_ISSUER" default:"fieldwatch"`
	ClockSkew time.Duration `envconfig:"JWT_CLOCK_SKEW" default:"30s"`
}

// ImageryConfig holds remote-sensing vendor settings and request defaults.
type ImageryConfig struct {
	SentinelHubClientID     string        `envconfig:"SENTINELHUB_CLIENT_ID"`
	SentinelHubClientSecret SecretString  `envconfig:"SENTINELHUB_CLIENT_SECRET"`
	SentinelHubBaseURL      string        `envconfig:"SENTINELHUB_BASE_URL" default:"https://services.sentinel-hub.com" validate:"omitempty,url"`
	SentinelHubTokenURL     string        `envconfig:"SENTINELHUB_TOKEN_URL" validate:"omitempty,url"`
	TokenSafetyBuffer       time.Duration `envconfig:"SENTINELHUB_TOKEN_BUFFER" default:"60s"`

	TiTilerBaseURL string `envconfig:"TITILER_BASE_URL" validate:"omitempty,url"`

	AgroMonitoringAPIKey  SecretString `envconfig:"AGROMONITORING_API_KEY"`
	AgroMonitoringBaseURL string       `envconfig:"AGROMONITORING_BASE_URL" default:"https://api.agromonitoring.com/agro/1.0" validate:"omitempty,url"`

	// BandMapsJSON overrides or extends the built-in sensor profiles, e.g.
	// {"drone_5b": {"blue": 1, "green": 2, "red": 3, "red_edge": 4, "nir": 5}}.
	BandMapsJSON   string `envconfig:"BAND_MAPS_JSON" validate:"omitempty,json"`
	DefaultProfile string `envconfig:"IMAGERY_DEFAULT_PROFILE" default:"sentinel2_l2a"`

	FallbackDays     int           `envconfig:"IMAGERY_FALLBACK_DAYS" default:"30" validate:"min=1,max=365"`
	MaxCloudCoverage float64       `envconfig:"IMAGERY_MAX_CLOUD_COVERAGE" default:"30" validate:"min=0,max=100"`
	RequestTimeout   time.Duration `envconfig:"IMAGERY_TIMEOUT" default:"30s"`
	RetryCount       int           `envconfig:"IMAGERY_RETRY_COUNT" default:"0" validate:"min=0,max=5"`
	StatsConcurrency int           `envconfig:"IMAGERY_STATS_CONCURRENCY" default:"4" validate:"min=1,max=16"`

	// Profiles is BandMapsJSON layered over the defaults, resolved at load.
	Profiles imagery.SensorProfiles `ignored:"true"`
}

// MapsConfig holds static map rendering settings.
type MapsConfig struct {
	MapboxToken SecretString `envconfig:"MAPBOX_ACCESS_TOKEN"`
	Style       string       `envconfig:"MAPBOX_STYLE" default:"mapbox/satellite-v9"`
	BaseURL     string       `envconfig:"MAPBOX_BASE_URL" validate:"omitempty,url"`
}

// PaymentsConfig holds milestone payout settings.
type PaymentsConfig struct {
	StripeSecretKey SecretString  `envconfig:"STRIPE_SECRET_KEY"`
	Currency        string        `envconfig:"PAYOUT_CURRENCY" default:"usd" validate:"len=3"`
	Timeout         time.Duration `envconfig:"STRIPE_TIMEOUT" default:"20s"`
	RetryCount      int           `envconfig:"STRIPE_RETRY_COUNT" default:"0" validate:"min=0,max=5"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"FieldWatch"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrBandMaps indicates BAND_MAPS_JSON could not be turned into sensor
	// profiles, or the default profile does not exist.
	ErrBandMaps ConfigErrorType = "BAND_MAPS_INVALID"
	// ErrSSMResolution indicates a *_SSM_PARAM binding could not be resolved.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
)
