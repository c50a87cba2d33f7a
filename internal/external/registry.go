package external

import (
	"log/slog"
	"net/http"
	"time"

	"fieldwatch/internal/config"
	"fieldwatch/internal/milestone"
)

// ClientRegistry holds every vendor client. It is the single point of access
// for the rest of the application to third-party services.
type ClientRegistry struct {
	Statistics StatisticsProvider
	Previews   PreviewRenderer
	Rasters    RasterStatistics
	Fields     FieldRegistry
	Payouts    milestone.Payouts
}

// NewClientRegistry builds the vendor clients. In test mode every client is
// a stub. Otherwise real clients are built even when credentials are absent;
// such a client reports a ConfigurationError on first use, so one missing
// vendor never prevents the service from starting.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.IsTestMode {
		logger.Info("initializing external clients in STUB mode", "environment", cfg.Environment)
		return newStubRegistry(logger.With("mode", "stub"))
	}

	logger.Info("initializing external clients", "environment", cfg.Environment)
	return newProductionRegistry(cfg, logger)
}

func newStubRegistry(logger *slog.Logger) *ClientRegistry {
	stats := NewStubStatisticsProvider(logger)
	return &ClientRegistry{
		Statistics: stats,
		Previews:   stats,
		Rasters:    NewStubRasterStatistics(logger),
		Fields:     NewStubFieldRegistry(logger),
		Payouts:    NewStubPayouts(logger),
	}
}

func newProductionRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	img := cfg.Imagery
	imageryHTTP := &http.Client{Timeout: img.RequestTimeout}
	imageryRetry := RetryPolicyFromCount(img.RetryCount)
	userAgent := cfg.Build.UserAgent()

	base := func(hc *http.Client, service string, retry RetryPolicy, l *slog.Logger) *BaseClient {
		return NewBaseClient(hc, service, retry, WithLogger(l), WithUserAgent(userAgent))
	}

	sentinelLogger := logger.With("client", "sentinelhub")
	sentinel := NewSentinelHubClientWithBase(base(imageryHTTP, "sentinelhub", imageryRetry, sentinelLogger), SentinelHubConfig{
		ClientID:     img.SentinelHubClientID,
		ClientSecret: img.SentinelHubClientSecret.Unmask(),
		BaseURL:      img.SentinelHubBaseURL,
		TokenURL:     img.SentinelHubTokenURL,
		SafetyBuffer: img.TokenSafetyBuffer,
		Logger:       sentinelLogger,
	})

	timeout := cfg.Payments.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	titilerLogger := logger.With("client", "titiler")
	agroLogger := logger.With("client", "agromonitoring")
	stripeLogger := logger.With("client", "stripe")

	return &ClientRegistry{
		Statistics: sentinel,
		Previews:   sentinel,
		Rasters: NewTiTilerClientWithBase(base(imageryHTTP, "titiler", imageryRetry, titilerLogger), TiTilerConfig{
			BaseURL: img.TiTilerBaseURL,
			Logger:  titilerLogger,
		}),
		Fields: NewAgroMonitoringClientWithBase(base(imageryHTTP, "agromonitoring", imageryRetry, agroLogger), AgroMonitoringConfig{
			APIKey:  img.AgroMonitoringAPIKey.Unmask(),
			BaseURL: img.AgroMonitoringBaseURL,
			Logger:  agroLogger,
		}),
		Payouts: NewStripePayoutClientWithBase(base(&http.Client{Timeout: timeout}, "stripe", RetryPolicyFromCount(cfg.Payments.RetryCount), stripeLogger), StripePayoutConfig{
			SecretKey:       cfg.Payments.StripeSecretKey.Unmask(),
			DefaultCurrency: cfg.Payments.Currency,
			Logger:          stripeLogger,
		}),
	}
}
