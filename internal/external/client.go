// Package external is the boundary between fieldwatch and vendor APIs
// (Sentinel Hub, the COG tile server, AgroMonitoring, Stripe). Every outbound
// call goes through BaseClient, which owns circuit breaking, optional retries
// and the translation of HTTP failures into types.RemoteServiceError.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"fieldwatch/internal/types"
)

// maxErrorBody bounds how much of a failed response is read into errors and
// logs.
const maxErrorBody = 4096

// DefaultUserAgent is sent when no build-specific agent is configured.
const DefaultUserAgent = "FieldWatch/dev"

// RetryPolicy configures retries on 429 and 5xx. The zero value never
// retries, which is the default for every vendor client: callers decide
// whether to try again.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// RetryPolicyFromCount builds a policy with the standard backoff window.
func RetryPolicyFromCount(n int) RetryPolicy {
	if n <= 0 {
		return RetryPolicy{}
	}
	return RetryPolicy{
		MaxRetries: n,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// BaseClient wraps an *http.Client and a circuit breaker.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	service     string
	userAgent   string
	logger      *slog.Logger
	sleepFn     func(time.Duration)
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep used between retries.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// WithUserAgent overrides the User-Agent header sent on every request.
func WithUserAgent(ua string) BaseClientOption {
	return func(c *BaseClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger used for upstream error bodies.
func WithLogger(l *slog.Logger) BaseClientOption {
	return func(c *BaseClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBreaker replaces the default circuit breaker, e.g. to share one across
// clients or to trip it quickly in tests.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = cb
	}
}

// NewBaseClient creates a BaseClient for the named service. The name labels
// the breaker and every RemoteServiceError produced.
func NewBaseClient(httpClient *http.Client, service string, retryPolicy RetryPolicy, opts ...BaseClientOption) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	bc := &BaseClient{
		client:      httpClient,
		breaker:     newBreaker(service),
		retryPolicy: retryPolicy,
		service:     service,
		userAgent:   DefaultUserAgent,
		logger:      slog.Default(),
		sleepFn:     time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func newBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// Service returns the service name.
func (c *BaseClient) Service() string { return c.service }

// Do executes req through the breaker. 429 and 5xx count as breaker failures
// and are retried only when the policy allows. Any other status is returned
// to the caller with the body open. Exhausted attempts and open circuits
// yield a *types.RemoteServiceError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the body so it can be replayed.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read request body", err)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + max(c.retryPolicy.MaxRetries, 0)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if lastResp != nil {
			lastResp.Body.Close()
			lastResp = nil
		}
		if resp != nil {
			lastResp = resp
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if req.Context().Err() != nil {
			break
		}
		if attempt < maxAttempts-1 {
			c.sleepFn(c.computeBackoff(attempt, resp))
		}
	}

	return nil, c.mapError(lastResp, lastErr)
}

// computeBackoff honours Retry-After, otherwise uses exponential backoff with
// jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, c.retryPolicy.MaxWait)
			}
			if t, err := http.ParseTime(retryAfter); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return c.retryPolicy.MinWait
				}
				return min(wait, c.retryPolicy.MaxWait)
			}
		}
	}

	base := math.Min(float64(c.retryPolicy.MinWait)*math.Pow(2, float64(attempt)), float64(c.retryPolicy.MaxWait))
	minWait := float64(c.retryPolicy.MinWait)
	if base <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

// mapError turns the last failed attempt into a RemoteServiceError. The
// response body, if any, is consumed and closed.
func (c *BaseClient) mapError(resp *http.Response, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &types.RemoteServiceError{
			Service: c.service,
			Message: "circuit breaker is open",
			Err:     err,
		}
	}
	if resp != nil {
		return c.errorFromResponse(resp)
	}
	return &types.RemoteServiceError{
		Service: c.service,
		Message: "request failed",
		Err:     err,
	}
}

// errorFromResponse reads at most maxErrorBody bytes of a failed response,
// logs them and closes the body.
func (c *BaseClient) errorFromResponse(resp *http.Response) *types.RemoteServiceError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	c.logger.Error("upstream API error",
		"service", c.service,
		"status_code", resp.StatusCode,
		"response_body", string(body),
	)

	msg := strings.TrimSpace(extractErrorMessage(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &types.RemoteServiceError{
		Service: c.service,
		Status:  resp.StatusCode,
		Message: msg,
	}
}

// extractErrorMessage pulls a human message out of the common vendor error
// shapes, falling back to the raw body.
func extractErrorMessage(body []byte) string {
	var shapes struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &shapes); err != nil {
		return string(body)
	}
	switch e := shapes.Error.(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if m, ok := e["message"].(string); ok && m != "" {
			return m
		}
	}
	if shapes.Message != "" {
		return shapes.Message
	}
	if shapes.Detail != "" {
		return shapes.Detail
	}
	return string(body)
}

// DoJSON sends req and decodes a 2xx JSON body into out (which may be nil).
// Any other status becomes a *types.RemoteServiceError, as does an
// undecodable body.
func (c *BaseClient) DoJSON(req *http.Request, out any) error {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.RemoteServiceError{
			Service: c.service,
			Status:  resp.StatusCode,
			Message: "malformed response body",
			Err:     err,
		}
	}
	return nil
}

// NewJSONRequest builds a request with body marshalled as JSON.
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize request body", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
