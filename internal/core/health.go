package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds all checks together.
const healthCheckTimeout = 2 * time.Second

// HealthCheck checks one dependency the service cannot work without.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthCheck.
type CheckFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (p CheckFunc) Name() string                    { return p.Label }
func (p CheckFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type checkResult struct {
	name string
	err  error
}

// HandleHealth runs every check concurrently and answers 200 when all pass,
// 503 otherwise. Checks still running at the deadline count as failed.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}
	if len(s.HealthChecks) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	// Buffered so late checks never block after the handler has returned.
	results := make(chan checkResult, len(s.HealthChecks))
	for _, hc := range s.HealthChecks {
		go func(p HealthCheck) {
			var err error
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("check panicked: %v", rec)
				}
				results <- checkResult{name: p.Name(), err: err}
			}()
			err = p.Check(ctx)
		}(hc)
	}

	resp.Components = make(map[string]componentStatus, len(s.HealthChecks))
	for _, hc := range s.HealthChecks {
		resp.Components[hc.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
	}

collect:
	for range s.HealthChecks {
		select {
		case res := <-results:
			if res.err != nil {
				resp.Components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
			} else {
				resp.Components[res.name] = componentStatus{Status: "healthy"}
			}
		case <-ctx.Done():
			break collect
		}
	}

	status := http.StatusOK
	for _, c := range resp.Components {
		if c.Status != "healthy" {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			break
		}
	}
	JSON(w, r, status, resp)
}
