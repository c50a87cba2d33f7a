package core

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"fieldwatch/internal/config"
	"fieldwatch/internal/types"
)

func newTestServer(t *testing.T, logger *slog.Logger) *Server {
	t.Helper()
	if logger == nil {
		logger = testLogger()
	}
	s, err := NewServer(&config.Config{}, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(nil, testLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestMountRoutes_HealthIsPublic(t *testing.T) {
	s := newTestServer(t, nil)
	s.Authenticator = &MockAuthenticator{Err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "nope", nil)}
	s.MountRoutes()

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("request id header missing")
	}
}

func TestAuthMiddleware(t *testing.T) {
	farmer := &types.Actor{ID: "farmer-1", Role: types.RoleFarmer}

	tests := []struct {
		name       string
		header     string
		auth       *MockAuthenticator
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"missing header", "", &MockAuthenticator{Actor: farmer}, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"wrong scheme", "Basic abc", &MockAuthenticator{Actor: farmer}, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"expired", "Bearer t", &MockAuthenticator{Err: types.NewAppError(types.ErrCodeAuthTokenExpired, "exp", nil)}, http.StatusUnauthorized, types.ErrCodeAuthTokenExpired},
		{"invalid", "Bearer t", &MockAuthenticator{Err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "bad", nil)}, http.StatusUnauthorized, types.ErrCodeAuthTokenInvalid},
		{"nil actor", "Bearer t", &MockAuthenticator{}, http.StatusUnauthorized, types.ErrCodeAuthTokenInvalid},
		{"ok", "bearer t", &MockAuthenticator{Actor: farmer}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.Authenticator = tt.auth
			s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
				r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
					actor, _ := types.GetActor(r.Context())
					Data(w, r, http.StatusOK, actor.ID)
				})
			})
			s.MountRoutes()

			req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(s, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if got := decodeError(t, rec).Code; got != string(tt.wantCode) {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
				return
			}
			if !strings.Contains(rec.Body.String(), "farmer-1") {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(types.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		actor      *types.Actor
		wantStatus int
	}{
		{"no actor", nil, http.StatusUnauthorized},
		{"farmer", &types.Actor{ID: "f", Role: types.RoleFarmer}, http.StatusForbidden},
		{"admin", &types.Actor{ID: "a", Role: types.RoleAdmin}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.actor != nil {
				req = req.WithContext(types.WithActor(req.Context(), *tt.actor))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	s := newTestServer(t, nil)
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	})
	s.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/boom", nil)
	req.Header.Set("X-Request-Id", "req-panic")
	rec := serve(s, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	detail := decodeError(t, rec)
	if detail.Code != string(types.ErrCodeInternalUnexpected) || detail.RequestID != "req-panic" {
		t.Errorf("detail = %+v", detail)
	}
	if strings.Contains(rec.Body.String(), "kaboom") {
		t.Error("panic value leaked to client")
	}
}

func TestRequestLogger_RedactsHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger, []string{"Authorization"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/milestones/m1", nil)
	req.Header.Set("Authorization", "Bearer super-secret")
	req.Header.Set("User-Agent", "tests")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "super-secret") {
		t.Errorf("token leaked into logs: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") || !strings.Contains(out, `"status":418`) {
		t.Errorf("unexpected log line: %s", out)
	}
	if !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("4xx should log at WARN: %s", out)
	}
}

func TestRequestLogger_IncludesAuthenticatedActor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	s := newTestServer(t, logger)
	s.Authenticator = &MockAuthenticator{Actor: &types.Actor{ID: "admin-7", Role: types.RoleAdmin}}
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			Data(w, r, http.StatusOK, "pong")
		})
	})
	s.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer t")
	if rec := serve(s, req); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var line string
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(l, `"msg":"request completed"`) {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no request log line in: %s", buf.String())
	}
	if !strings.Contains(line, `"actor_id":"admin-7"`) || !strings.Contains(line, `"role":"admin"`) {
		t.Errorf("request log line missing actor: %s", line)
	}
}

func TestRequestLogger_NoActorWhenUnauthenticated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	s := newTestServer(t, logger)
	s.Authenticator = &MockAuthenticator{Err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "bad", nil)}
	s.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer t")
	serve(s, req)

	if strings.Contains(buf.String(), "actor_id") {
		t.Errorf("rejected request should not log an actor: %s", buf.String())
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	s := newTestServer(t, nil)
	metrics := &MockMetricsCollector{}
	s.Metrics = metrics
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/milestones/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	s.MountRoutes()

	serve(s, httptest.NewRequest(http.MethodGet, "/v1/milestones/abc-123", nil))

	got := metrics.Recorded()
	if len(got) != 1 {
		t.Fatalf("recorded %d requests, want 1", len(got))
	}
	if got[0].Endpoint != "/v1/milestones/{id}" || got[0].Status != "200" || got[0].Method != http.MethodGet {
		t.Errorf("recorded %+v", got[0])
	}
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t, nil)
	s.Config.Server.CorsAllowedOrigins = []string{"https://app.fieldwatch.io"}
	s.Authenticator = &MockAuthenticator{}
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Post("/imagery/statistics", func(w http.ResponseWriter, r *http.Request) {})
	})
	s.MountRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/v1/imagery/statistics", nil)
	req.Header.Set("Origin", "https://app.fieldwatch.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(s, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.fieldwatch.io" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if rec.Code == http.StatusUnauthorized {
		t.Error("preflight must not require authentication")
	}

	req = httptest.NewRequest(http.MethodOptions, "/v1/imagery/statistics", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = serve(s, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin %q", got)
	}
}
