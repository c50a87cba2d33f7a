package external

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"fieldwatch/internal/milestone"
	"fieldwatch/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripePayoutConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripePayoutConfig holds the configuration for a StripePayoutClient.
type StripePayoutConfig struct {
	SecretKey       string
	DefaultCurrency string
	BaseURL         string // Override for testing; defaults to stripeAPIBase
	Logger          *slog.Logger
}

// StripePayoutClient releases milestone payouts as Stripe Transfers to the
// farmer's connected account. Requests go through BaseClient so they share
// circuit breaking and error mapping with the other vendors.
type StripePayoutClient struct {
	base            *BaseClient
	secretKey       string
	defaultCurrency string
	baseURL         string
	logger          *slog.Logger
}

// NewStripePayoutClient creates a client with its own BaseClient.
func NewStripePayoutClient(httpClient *http.Client, retry RetryPolicy, cfg StripePayoutConfig) *StripePayoutClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return NewStripePayoutClientWithBase(NewBaseClient(httpClient, "stripe", retry, WithLogger(logger)), cfg)
}

// NewStripePayoutClientWithBase creates a client around an existing BaseClient.
func NewStripePayoutClientWithBase(base *BaseClient, cfg StripePayoutConfig) *StripePayoutClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := strings.ToLower(cfg.DefaultCurrency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	return &StripePayoutClient{
		base:            base,
		secretKey:       cfg.SecretKey,
		defaultCurrency: currency,
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		logger:          logger,
	}
}

// IdempotencyKey is the key sent with a milestone's transfer. It depends
// only on the milestone so a repeated release can never pay twice.
func IdempotencyKey(milestoneID string) string {
	return "milestone-payout-" + milestoneID
}

// ReleaseMilestonePayout creates a Transfer for req and returns its ID.
func (s *StripePayoutClient) ReleaseMilestonePayout(ctx context.Context, req milestone.PayoutRequest) (string, error) {
	if s.secretKey == "" {
		return "", &types.ConfigurationError{Service: "stripe", Setting: "secret key"}
	}
	if req.MilestoneID == "" || req.DestinationAcc == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "payout needs a milestone and a destination account", nil)
	}
	if req.AmountCents <= 0 {
		return "", types.NewAppError(types.ErrCodeValidationInvalidNumber, "payout amount must be positive", nil)
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}

	params := url.Values{}
	params.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	params.Set("currency", currency)
	params.Set("destination", req.DestinationAcc)
	params.Set("transfer_group", "milestone_"+req.MilestoneID)
	params.Set("metadata[milestone_id]", req.MilestoneID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/transfers", strings.NewReader(params.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create transfer request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", IdempotencyKey(req.MilestoneID))
	s.setAuthHeaders(httpReq)

	s.logger.InfoContext(ctx, "releasing milestone payout",
		"milestone_id", req.MilestoneID,
		"amount_cents", req.AmountCents,
		"currency", currency,
	)

	var transfer stripe.Transfer
	if err := s.base.DoJSON(httpReq, &transfer); err != nil {
		return "", err
	}
	if transfer.ID == "" {
		return "", &types.RemoteServiceError{
			Service: s.base.Service(),
			Status:  http.StatusOK,
			Message: "transfer response has no id",
		}
	}
	return transfer.ID, nil
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripePayoutClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}
