package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fieldwatch/internal/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Error
}

func TestData_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Data(w, r, http.StatusCreated, map[string]string{"id": "m1"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"data":{"id":"m1"}}` {
		t.Errorf("body = %s", got)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))

	JSON(w, r, http.StatusOK, make(chan int))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	detail := decodeError(t, w)
	if detail.Code != string(types.ErrCodeInternalUnexpected) || detail.RequestID != "req-1" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{
			name:       "app error",
			err:        types.NewAppError(types.ErrCodeNotFoundMilestone, "milestone not found", nil),
			wantStatus: http.StatusNotFound,
			wantCode:   types.ErrCodeNotFoundMilestone,
		},
		{
			name:       "wrapped app error",
			err:        fmt.Errorf("loading: %w", types.NewAppError(types.ErrCodeConflictConcurrent, "changed", nil)),
			wantStatus: http.StatusConflict,
			wantCode:   types.ErrCodeConflictConcurrent,
		},
		{
			name:       "invalid geometry",
			err:        &types.InvalidGeometryError{Reason: "too few points"},
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidGeometry,
		},
		{
			name:       "configuration",
			err:        &types.ConfigurationError{Service: "titiler", Setting: "base URL"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   types.ErrCodeConfigMissing,
		},
		{
			name:       "remote rate limited",
			err:        &types.RemoteServiceError{Service: "sentinelhub", Status: http.StatusTooManyRequests},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   types.ErrCodeUpstreamRateLimited,
		},
		{
			name:       "remote failure",
			err:        &types.RemoteServiceError{Service: "stripe", Status: http.StatusBadGateway},
			wantStatus: http.StatusBadGateway,
			wantCode:   types.ErrCodeUpstreamUnavailable,
		},
		{
			name:       "generic",
			err:        errors.New("pq: password authentication failed"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   types.ErrCodeInternalUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			Error(w, r, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			detail := decodeError(t, w)
			if detail.Code != string(tt.wantCode) {
				t.Errorf("code = %q, want %q", detail.Code, tt.wantCode)
			}
			if strings.Contains(detail.Message, "password") {
				t.Errorf("internal error leaked: %q", detail.Message)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"a","count":1}`, false},
		{"empty", ``, true},
		{"syntax", `{"name":`, true},
		{"unknown field", `{"name":"a","extra":1}`, true},
		{"type mismatch", `{"count":"one"}`, true},
		{"two values", `{"name":"a"}{"name":"b"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst payload
			err := DecodeJSON(w, r, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			appErr := AsAppError(err)
			if appErr == nil || appErr.Code != types.ErrCodeValidationInvalidRequest {
				t.Errorf("err = %v, want validation_invalid_request", err)
			}
		})
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	w := httptest.NewRecorder()
	big := `{"name":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))

	var dst map[string]any
	err := DecodeJSON(w, r, &dst)
	appErr := AsAppError(err)
	if appErr == nil || appErr.Message != "request body is too large" {
		t.Errorf("err = %v, want too-large error", err)
	}
}
