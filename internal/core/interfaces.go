package core

import (
	"context"
	"time"

	"fieldwatch/internal/types"
)

// Authenticator decouples the HTTP layer from the token format, allowing for
// easy mocking in tests.
type Authenticator interface {
	// ResolveToken validates a bearer token and returns the Actor it names.
	// It returns ErrCodeAuthTokenExpired for expired tokens and
	// ErrCodeAuthTokenInvalid for anything else it rejects.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration)
}
