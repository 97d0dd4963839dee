package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/agent/telemetry"
)

func TestTelemetryEndpoint(t *testing.T) {
	tele := telemetry.NewTelemetry(config.TelemetryConfig{})
	tele.RecordRun(context.Background(), "run-1", 3*time.Second, false)
	tele.RecordStage(context.Background(), "run-1", "brief")
	tele.RecordLLMUsage("gpt-4o", "report", 1000, 500, 0.0125)

	e := echo.New()
	registerTelemetry(e.Group("/api/telemetry"), tele, testSecret)

	req := authedRequest(t, http.MethodGet, "/api/telemetry", "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap telemetry.MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.TotalRuns != 1 || snap.CompletedRuns != 1 {
		t.Fatalf("unexpected run counts: %+v", snap)
	}
	if snap.StageCounts["brief"] != 1 {
		t.Fatalf("stage counts not exposed: %+v", snap.StageCounts)
	}
	if snap.TotalTokens != 1500 || snap.ModelCosts["gpt-4o"] != 0.0125 {
		t.Fatalf("spend not exposed: %+v", snap)
	}
}

func TestTelemetryEndpointRequiresAuth(t *testing.T) {
	e := echo.New()
	registerTelemetry(e.Group("/api/telemetry"), telemetry.NewTelemetry(config.TelemetryConfig{}), testSecret)

	req := httptest.NewRequest(http.MethodGet, "/api/telemetry", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
