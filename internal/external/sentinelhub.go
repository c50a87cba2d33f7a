package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fieldwatch/internal/imagery"
	"fieldwatch/internal/types"
)

const (
	sentinelHubAPIBase   = "https://services.sentinel-hub.com"
	sentinelHubTokenPath = "/auth/realms/main/protocol/openid-connect/token"

	// DefaultTokenSafetyBuffer is subtracted from a token's lifetime so a
	// request never leaves with a token about to expire in flight.
	DefaultTokenSafetyBuffer = 60 * time.Second

	maxPreviewBytes = 16 << 20
)

// TokenCache holds a single bearer token. It belongs to one client
// instance; there is no package-level token.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	buffer    time.Duration
	now       func() time.Time
}

// NewTokenCache returns an empty cache. A token is considered usable while
// now+buffer is before its expiry.
func NewTokenCache(buffer time.Duration, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	if buffer < 0 {
		buffer = 0
	}
	return &TokenCache{buffer: buffer, now: now}
}

// Get returns the cached token if it is still usable.
func (c *TokenCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Add(c.buffer).Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Set stores token with the lifetime reported by the issuer.
func (c *TokenCache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = c.now().Add(ttl)
}

// Invalidate drops the cached token.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

// SentinelHubConfig holds the configuration for a SentinelHubClient.
type SentinelHubConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // defaults to sentinelHubAPIBase
	TokenURL     string // defaults to BaseURL + sentinelHubTokenPath
	SafetyBuffer time.Duration
	Clock        func() time.Time
	Logger       *slog.Logger
}

// SentinelHubClient calls the Statistical and Process APIs with OAuth
// client-credentials authentication.
type SentinelHubClient struct {
	base         *BaseClient
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	tokens       *TokenCache
	fetchMu      sync.Mutex
	logger       *slog.Logger
}

// NewSentinelHubClient creates a client with its own BaseClient.
func NewSentinelHubClient(httpClient *http.Client, retry RetryPolicy, cfg SentinelHubConfig) *SentinelHubClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return NewSentinelHubClientWithBase(NewBaseClient(httpClient, "sentinelhub", retry, WithLogger(logger)), cfg)
}

// NewSentinelHubClientWithBase creates a client around an existing BaseClient.
func NewSentinelHubClientWithBase(base *BaseClient, cfg SentinelHubConfig) *SentinelHubClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = sentinelHubAPIBase
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = baseURL + sentinelHubTokenPath
	}
	buffer := cfg.SafetyBuffer
	if buffer == 0 {
		buffer = DefaultTokenSafetyBuffer
	}

	return &SentinelHubClient{
		base:         base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      baseURL,
		tokenURL:     tokenURL,
		tokens:       NewTokenCache(buffer, cfg.Clock),
		logger:       logger,
	}
}

// checkConfig fails before any network attempt when credentials are absent.
func (c *SentinelHubClient) checkConfig() error {
	switch {
	case c.clientID == "":
		return &types.ConfigurationError{Service: "sentinelhub", Setting: "client id"}
	case c.clientSecret == "":
		return &types.ConfigurationError{Service: "sentinelhub", Setting: "client secret"}
	}
	return nil
}

type sentinelHubTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// accessToken returns a cached token or fetches a new one. Concurrent callers
// wait for a single fetch.
func (c *SentinelHubClient) accessToken(ctx context.Context) (string, error) {
	if tok, ok := c.tokens.Get(); ok {
		return tok, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if tok, ok := c.tokens.Get(); ok {
		return tok, nil
	}

	params := url.Values{}
	params.Set("grant_type", "client_credentials")
	params.Set("client_id", c.clientID)
	params.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tokenResp sentinelHubTokenResponse
	if err := c.base.DoJSON(req, &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", &types.RemoteServiceError{
			Service: c.base.Service(),
			Status:  http.StatusOK,
			Message: "token response has no access_token",
		}
	}

	c.tokens.Set(tokenResp.AccessToken, time.Duration(tokenResp.ExpiresIn)*time.Second)
	c.logger.InfoContext(ctx, "sentinel hub token refreshed", "expires_in", tokenResp.ExpiresIn)
	return tokenResp.AccessToken, nil
}

// authorizedRequest builds a JSON POST against the API with a bearer token.
func (c *SentinelHubClient) authorizedRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	if err := c.checkConfig(); err != nil {
		return nil, err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := NewJSONRequest(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// dropTokenOnUnauthorized forgets the cached token after a 401 so the next
// call fetches a fresh one. The failed call is not repeated.
func (c *SentinelHubClient) dropTokenOnUnauthorized(err error) error {
	var rse *types.RemoteServiceError
	if errors.As(err, &rse) && rse.Status == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	return err
}

// statFloat decodes Sentinel Hub statistics, which encode missing values as
// the strings "NaN" or "Infinity".
type statFloat struct {
	value float64
	ok    bool
}

func (f *statFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	f.value, f.ok = n, true
	return nil
}

func (f statFloat) ptr() *float64 {
	if !f.ok {
		return nil
	}
	v := f.value
	return &v
}

type sentinelHubStats struct {
	Min         statFloat `json:"min"`
	Max         statFloat `json:"max"`
	Mean        statFloat `json:"mean"`
	StDev       statFloat `json:"stDev"`
	SampleCount int       `json:"sampleCount"`
	NoDataCount int       `json:"noDataCount"`
}

type sentinelHubInterval struct {
	Interval struct {
		From time.Time `json:"from"`
		To   time.Time `json:"to"`
	} `json:"interval"`
	Outputs map[string]struct {
		Bands map[string]struct {
			Stats sentinelHubStats `json:"stats"`
		} `json:"bands"`
	} `json:"outputs"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type sentinelHubStatisticsResponse struct {
	Status string                `json:"status"`
	Data   []sentinelHubInterval `json:"data"`
}

// Statistics runs one Statistical API request. The most recent interval with
// a finite mean supplies the summary; every such interval is kept in Series.
func (c *SentinelHubClient) Statistics(ctx context.Context, sr imagery.StatisticsRequest) (*IndexStatistics, error) {
	req, err := c.authorizedRequest(ctx, "/api/v1/statistics", sr.Body)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "requesting index statistics", "index", sr.Index)

	var resp sentinelHubStatisticsResponse
	if err := c.base.DoJSON(req, &resp); err != nil {
		return nil, c.dropTokenOnUnauthorized(err)
	}
	return summarizeStatistics(sr, resp), nil
}

func summarizeStatistics(sr imagery.StatisticsRequest, resp sentinelHubStatisticsResponse) *IndexStatistics {
	out := &IndexStatistics{Index: sr.Index}
	var latest *sentinelHubStats

	for i := range resp.Data {
		iv := resp.Data[i]
		if iv.Error != nil {
			continue
		}
		output, ok := iv.Outputs[string(sr.Index)]
		if !ok {
			continue
		}
		band, ok := output.Bands["B0"]
		if !ok || !band.Stats.Mean.ok {
			continue
		}

		out.Series = append(out.Series, IntervalMean{
			From: iv.Interval.From,
			To:   iv.Interval.To,
			Mean: band.Stats.Mean.value,
		})
		if out.ObservedAt == nil || iv.Interval.From.After(*out.ObservedAt) {
			from := iv.Interval.From
			out.ObservedAt = &from
			stats := band.Stats
			latest = &stats
		}
	}

	if latest != nil {
		out.Mean = latest.Mean.ptr()
		out.Min = latest.Min.ptr()
		out.Max = latest.Max.ptr()
		out.StDev = latest.StDev.ptr()
		out.SampleCount = latest.SampleCount
		out.NoDataCount = latest.NoDataCount
	}
	return out
}

// Process renders a Process API request and returns the PNG bytes.
func (c *SentinelHubClient) Process(ctx context.Context, pr imagery.ProcessRequest) ([]byte, error) {
	req, err := c.authorizedRequest(ctx, "/api/v1/process", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/png")

	c.logger.InfoContext(ctx, "requesting index preview",
		"width", pr.Output.Width,
		"height", pr.Output.Height,
	)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.dropTokenOnUnauthorized(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.dropTokenOnUnauthorized(c.base.errorFromResponse(resp))
	}
	defer resp.Body.Close()

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxPreviewBytes))
	if err != nil {
		return nil, &types.RemoteServiceError{
			Service: c.base.Service(),
			Status:  resp.StatusCode,
			Message: "failed to read image body",
			Err:     err,
		}
	}
	if len(img) == 0 {
		return nil, &types.RemoteServiceError{
			Service: c.base.Service(),
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("empty %s body", resp.Header.Get("Content-Type")),
		}
	}
	return img, nil
}
