package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"landkeeper/engine/internal/land"
	"landkeeper/engine/internal/manager"
)

func testHandlerSet(adminToken string, limiter RateLimiter) *HandlerSet {
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := started
	return NewHandlerSet(Options{
		Clients: func() int { return 3 },
		Lands: func() []manager.LandInfo {
			return []manager.LandInfo{
				{ID: "arena-1", Type: "arena", Players: 2, Ticks: land.TickStatsSnapshot{
					Samples: 10, Skipped: 1, Average: 5 * time.Millisecond,
				}},
			}
		},
		AdminToken:  adminToken,
		RateLimiter: limiter,
		TimeSource:  func() time.Time { return now },
	})
}

func TestLivenessHandler(t *testing.T) {
	handlers := testHandlerSet("", nil)
	recorder := httptest.NewRecorder()
	handlers.LivenessHandler()(recorder, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "alive" {
		t.Fatalf("unexpected status field: %q", body.Status)
	}
}

func TestReadinessHandlerReportsCounts(t *testing.T) {
	handlers := testHandlerSet("", nil)
	recorder := httptest.NewRecorder()
	handlers.ReadinessHandler()(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
		Lands   int    `json:"lands"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || body.Clients != 3 || body.Lands != 1 {
		t.Fatalf("unexpected readiness body: %+v", body)
	}
}

func TestMetricsHandlerEmitsLandGauges(t *testing.T) {
	handlers := testHandlerSet("", nil)
	recorder := httptest.NewRecorder()
	handlers.MetricsHandler()(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	text := recorder.Body.String()
	for _, expected := range []string{
		"engine_clients 3",
		"engine_lands 1",
		`engine_land_players{land="arena-1",type="arena"} 2`,
		`engine_tick_average_seconds{land="arena-1"} 0.005000`,
		`engine_tick_skipped_total{land="arena-1"} 1`,
	} {
		if !strings.Contains(text, expected) {
			t.Fatalf("metrics output missing %q:\n%s", expected, text)
		}
	}
}

func TestLandListHandlerRequiresConfiguredAdmin(t *testing.T) {
	handlers := testHandlerSet("", nil)
	recorder := httptest.NewRecorder()
	handlers.LandListHandler()(recorder, httptest.NewRequest(http.MethodGet, "/lands", nil))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when admin auth is disabled, got %d", recorder.Code)
	}
}

func TestLandListHandlerAuthorisation(t *testing.T) {
	handlers := testHandlerSet("hunter2", nil)

	recorder := httptest.NewRecorder()
	handlers.LandListHandler()(recorder, httptest.NewRequest(http.MethodGet, "/lands", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/lands", nil)
	request.Header.Set("Authorization", "Bearer wrong")
	recorder = httptest.NewRecorder()
	handlers.LandListHandler()(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/lands", nil)
	request.Header.Set("Authorization", "Bearer hunter2")
	recorder = httptest.NewRecorder()
	handlers.LandListHandler()(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", recorder.Code)
	}
	var body struct {
		Lands []struct {
			ID         string  `json:"id"`
			Players    int     `json:"players"`
			AverageTPS float64 `json:"average_tps"`
		} `json:"lands"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Lands) != 1 || body.Lands[0].ID != "arena-1" || body.Lands[0].Players != 2 {
		t.Fatalf("unexpected land list: %+v", body)
	}
	if body.Lands[0].AverageTPS != 200 {
		t.Fatalf("expected 200 TPS from 5ms average, got %v", body.Lands[0].AverageTPS)
	}
}

func TestLandListHandlerRateLimit(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRequestGate(time.Minute, 1, func() time.Time { return now })
	handlers := testHandlerSet("hunter2", limiter)

	request := httptest.NewRequest(http.MethodGet, "/lands", nil)
	request.Header.Set("X-Admin-Token", "hunter2")
	recorder := httptest.NewRecorder()
	handlers.LandListHandler()(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handlers.LandListHandler()(recorder, request)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", recorder.Code)
	}
}
