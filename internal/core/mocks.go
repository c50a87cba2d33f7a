package core

import (
	"context"
	"sync"
	"time"

	"fieldwatch/internal/types"
)

// MockAuthenticator implements Authenticator for tests. ResolveTokenFunc takes
// precedence over Err, which takes precedence over Actor.
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// RecordedRequest is one call captured by MockMetricsCollector.
type RecordedRequest struct {
	Method   string
	Endpoint string
	Status   string
	Duration time.Duration
}

// MockMetricsCollector implements MetricsCollector for tests.
type MockMetricsCollector struct {
	mu       sync.Mutex
	Requests []RecordedRequest
}

func (m *MockMetricsCollector) RecordRequest(_ context.Context, method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RecordedRequest{Method: method, Endpoint: endpoint, Status: status, Duration: duration})
}

// Recorded returns a copy of the captured requests.
func (m *MockMetricsCollector) Recorded() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.Requests))
	copy(out, m.Requests)
	return out
}
