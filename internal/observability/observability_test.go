package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestNoDashID(t *testing.T) {
	id := NoDashID()
	if len(id) != 32 {
		t.Fatalf("Expected 32 characters, got %d (%s)", len(id), id)
	}
	if strings.ContainsAny(id, "-abcdef") {
		t.Errorf("Expected upper-case hex without dashes, got %s", id)
	}
	if NoDashID() == id {
		t.Error("Expected distinct ids")
	}
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler("speechctl", "test")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "healthy" || status.Service != "speechctl" {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	failing := func(ctx context.Context) (bool, error) { return false, errors.New("token endpoint unreachable") }

	tests := []struct {
		name       string
		checks     map[string]HealthCheckFunc
		wantCode   int
		wantStatus string
	}{
		{"no checks", nil, http.StatusOK, "ready"},
		{"all healthy", map[string]HealthCheckFunc{"auth": ok, "endpoint": ok}, http.StatusOK, "ready"},
		{"one failing", map[string]HealthCheckFunc{"auth": failing, "endpoint": ok}, http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler("speechctl", "test", tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
			var status HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, status.Status)
			}
			if len(status.Dependencies) != len(tt.checks) {
				t.Errorf("Expected %d dependencies, got %d", len(tt.checks), len(status.Dependencies))
			}
		})
	}
}

func TestTurnMetrics_EndOnce(t *testing.T) {
	m := NewTurnMetrics("req")
	m.RecordFirstResult()
	m.RecordTurnEnd("success")
	m.RecordTurnEnd("timeout")
	m.RecordFirstResult()

	if !m.ended {
		t.Error("Expected turn to be marked ended")
	}
}
