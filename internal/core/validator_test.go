package core

import (
	"io"
	"log/slog"
	"testing"

	"fieldwatch/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testPoint struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

type testRequest struct {
	Points  []testPoint `json:"points" validate:"required,min=3,max=5,dive"`
	Index   string      `json:"index" validate:"required,vegetation_index"`
	Status  string      `json:"status,omitempty" validate:"omitempty,milestone_status"`
	Percent float64     `json:"percent" validate:"gte=0,lte=100"`
}

func validRequest() testRequest {
	return testRequest{
		Points: []testPoint{{1, 1}, {1, 2}, {2, 2}},
		Index:  "NDVI",
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator(testLogger())

	req := validRequest()
	req.Status = "Approved"
	if err := v.ValidateStruct(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStruct_ErrorCodes(t *testing.T) {
	v := NewValidator(testLogger())

	tests := []struct {
		name      string
		mutate    func(*testRequest)
		wantCode  types.ErrorCode
		wantField string
	}{
		{"missing points", func(r *testRequest) { r.Points = nil }, types.ErrCodeValidationMissingField, "points"},
		{"too few points", func(r *testRequest) { r.Points = r.Points[:2] }, types.ErrCodeValidationBatchSize, "points"},
		{"bad latitude", func(r *testRequest) { r.Points[1].Lat = 91 }, types.ErrCodeValidationInvalidGeometry, "points[1].lat"},
		{"bad longitude", func(r *testRequest) { r.Points[0].Lng = -181 }, types.ErrCodeValidationInvalidGeometry, "points[0].lng"},
		{"unknown index", func(r *testRequest) { r.Index = "evi" }, types.ErrCodeValidationInvalidIndex, "index"},
		{"unknown status", func(r *testRequest) { r.Status = "archived" }, types.ErrCodeValidationInvalidStatus, "status"},
		{"percent out of range", func(r *testRequest) { r.Percent = 101 }, types.ErrCodeValidationInvalidNumber, "percent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := v.ValidateStruct(req)
			appErr := AsAppError(err)
			if appErr == nil {
				t.Fatalf("err = %v, want AppError", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", appErr.Code, tt.wantCode)
			}
			fields, ok := appErr.Details["fields"].([]FieldError)
			if !ok || len(fields) == 0 {
				t.Fatalf("details.fields = %#v", appErr.Details["fields"])
			}
			if fields[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", fields[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidateStruct_NonStruct(t *testing.T) {
	v := NewValidator(testLogger())
	appErr := AsAppError(v.ValidateStruct("not a struct"))
	if appErr == nil || appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("got %v, want internal error", appErr)
	}
}
