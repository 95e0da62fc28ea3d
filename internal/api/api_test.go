package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lvonguyen/threatpulse/internal/config"
	"github.com/lvonguyen/threatpulse/internal/matrix"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/protest"
	"github.com/lvonguyen/threatpulse/internal/quota"
	"github.com/lvonguyen/threatpulse/internal/service"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu       sync.Mutex
	threats  []service.ThreatRequest
	matrices []string
	protests []int

	threat  *service.ThreatResponse
	matrix  *service.MatrixResponse
	protest *service.ProtestResponse
	quota   *service.QuotaResponse
	err     error
	targets []string
}

func (f *fakeBackend) Threat(_ context.Context, req service.ThreatRequest) (*service.ThreatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threats = append(f.threats, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.threat != nil {
		return f.threat, nil
	}
	p := 42
	return &service.ThreatResponse{
		Success:     true,
		Status:      service.StatusOK,
		Target:      req.Target,
		WindowDays:  req.WindowDays,
		Probability: &p,
	}, nil
}

func (f *fakeBackend) Matrix(_ context.Context, target string) (*service.MatrixResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matrices = append(f.matrices, target)
	if f.err != nil {
		return nil, f.err
	}
	if f.matrix != nil {
		return f.matrix, nil
	}
	return &service.MatrixResponse{Success: true, Status: service.StatusOK}, nil
}

func (f *fakeBackend) Protests(_ context.Context, days int) (*service.ProtestResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.protests = append(f.protests, days)
	if f.err != nil {
		return nil, f.err
	}
	if f.protest != nil {
		return f.protest, nil
	}
	return &service.ProtestResponse{Success: true, Status: service.StatusOK, Report: &protest.Report{}}, nil
}

func (f *fakeBackend) Quota(context.Context) (*service.QuotaResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.quota != nil {
		return f.quota, nil
	}
	return &service.QuotaResponse{Success: true}, nil
}

func (f *fakeBackend) Targets() []string {
	if f.targets != nil {
		return f.targets
	}
	return []string{"hezbollah", "houthis", "iran"}
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{RequestTimeout: 5 * time.Second}
}

func do(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("GET %s: invalid JSON body %q: %v", target, rec.Body.String(), err)
		}
	}
	return rec, body
}

// =============================================================================
// Health Tests
// =============================================================================

// TestHealth verifies the liveness endpoint.
func TestHealth(t *testing.T) {
	h := NewServer(&fakeBackend{}, testServerConfig(), Options{Version: "1.2.3"}).Router()

	rec, body := do(t, h, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" || body["version"] != "1.2.3" {
		t.Errorf("unexpected body %v", body)
	}
}

// TestReady_ReportsPingFailure verifies /ready follows the pinger.
func TestReady_ReportsPingFailure(t *testing.T) {
	healthy := true
	ping := func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("redis: connection refused")
	}
	h := NewServer(&fakeBackend{}, testServerConfig(), Options{Ready: ping}).Router()

	if rec, _ := do(t, h, "/ready"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 while healthy, got %d", rec.Code)
	}
	healthy = false
	rec, body := do(t, h, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["success"] != false {
		t.Errorf("expected success=false, got %v", body["success"])
	}
}

// TestMetricsEndpoint verifies requests are counted by route pattern.
func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics()
	h := NewServer(&fakeBackend{}, testServerConfig(), Options{Metrics: metrics}).Router()

	do(t, h, "/api/v1/threat/iran")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `threatpulse_http_requests_total{method="GET",path="/api/v1/threat/{target}",status="200"} 1`) {
		t.Errorf("request counter missing from exposition:\n%s", rec.Body.String())
	}
}

// =============================================================================
// Threat Tests
// =============================================================================

// TestThreat_PassesParams verifies the path and query are forwarded.
func TestThreat_PassesParams(t *testing.T) {
	b := &fakeBackend{}
	h := NewServer(b, testServerConfig(), Options{}).Router()

	rec, body := do(t, h, "/api/v1/threat/Iran?days=30&refresh=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["probability"] != float64(42) {
		t.Errorf("unexpected probability %v", body["probability"])
	}
	want := service.ThreatRequest{Target: "iran", WindowDays: 30, Refresh: true}
	if len(b.threats) != 1 || b.threats[0] != want {
		t.Errorf("expected request %+v, got %+v", want, b.threats)
	}
}

// TestThreat_Defaults verifies a bare request asks for seven days without
// refresh.
func TestThreat_Defaults(t *testing.T) {
	b := &fakeBackend{}
	h := NewServer(b, testServerConfig(), Options{}).Router()

	do(t, h, "/api/v1/threat/hezbollah")
	want := service.ThreatRequest{Target: "hezbollah", WindowDays: 7}
	if len(b.threats) != 1 || b.threats[0] != want {
		t.Errorf("expected request %+v, got %+v", want, b.threats)
	}
}

// TestThreat_InvalidParams verifies bad input is rejected before the
// backend is called.
func TestThreat_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"unsupported window", "/api/v1/threat/iran?days=3", "days"},
		{"non-numeric window", "/api/v1/threat/iran?days=week", "days"},
		{"unknown target", "/api/v1/threat/atlantis", "target"},
		{"bad refresh", "/api/v1/threat/iran?refresh=maybe", "refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			h := NewServer(b, testServerConfig(), Options{}).Router()

			rec, body := do(t, h, tt.path)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if body["success"] != false {
				t.Errorf("expected success=false, got %v", body["success"])
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tt.want) {
				t.Errorf("expected error mentioning %q, got %q", tt.want, msg)
			}
			if len(b.threats) != 0 {
				t.Errorf("backend should not be called, got %+v", b.threats)
			}
		})
	}
}

// TestThreat_StatusCodes verifies outcome to HTTP status mapping.
func TestThreat_StatusCodes(t *testing.T) {
	p := 30
	tests := []struct {
		name string
		resp *service.ThreatResponse
		err  error
		want int
	}{
		{"quota exceeded without cache", &service.ThreatResponse{Status: service.StatusQuotaExceeded, QuotaExceeded: true}, nil, http.StatusTooManyRequests},
		{"quota exceeded with stale", &service.ThreatResponse{Success: true, Status: service.StatusQuotaExceeded, Stale: true, Probability: &p}, nil, http.StatusOK},
		{"sources unavailable", &service.ThreatResponse{Status: service.StatusSourcesUnavailable, Partial: true}, nil, http.StatusServiceUnavailable},
		{"unknown target from backend", nil, fmt.Errorf("%w %q", service.ErrUnknownTarget, "iran"), http.StatusBadRequest},
		{"deadline", nil, context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"internal", nil, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(&fakeBackend{threat: tt.resp, err: tt.err}, testServerConfig(), Options{}).Router()

			rec, body := do(t, h, "/api/v1/threat/iran")
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if _, ok := body["success"]; !ok {
				t.Errorf("every response should carry success, got %v", body)
			}
		})
	}
}

// TestThreat_QuotaExceededOmitsProbability verifies no probability is
// serialized when none was produced.
func TestThreat_QuotaExceededOmitsProbability(t *testing.T) {
	reset := testNow.Add(time.Hour)
	b := &fakeBackend{threat: &service.ThreatResponse{
		Status:        service.StatusQuotaExceeded,
		Target:        "iran",
		QuotaExceeded: true,
		QuotaResetAt:  &reset,
	}}
	h := NewServer(b, testServerConfig(), Options{}).Router()

	_, body := do(t, h, "/api/v1/threat/iran")
	if _, ok := body["probability"]; ok {
		t.Errorf("probability should be absent, got %v", body["probability"])
	}
	if body["quota_exceeded"] != true {
		t.Errorf("expected quota_exceeded=true, got %v", body["quota_exceeded"])
	}
}

// =============================================================================
// Matrix, Protest and Quota Tests
// =============================================================================

// TestMatrix_NoDirectionalData verifies an empty matrix is still a 200.
func TestMatrix_NoDirectionalData(t *testing.T) {
	b := &fakeBackend{matrix: &service.MatrixResponse{
		Status:       service.StatusNoDirectionalData,
		ThreatMatrix: matrix.ThreatMatrix{Target: "houthis", RiskLevel: matrix.RiskUnknown},
		WindowDays:   service.MatrixWindowDays,
	}}
	h := NewServer(b, testServerConfig(), Options{}).Router()

	rec, body := do(t, h, "/api/v1/matrix/houthis")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["success"] != false || body["risk_level"] != matrix.RiskUnknown {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["combined_probability"]; !ok {
		t.Error("combined_probability should be present as null")
	}
	if len(b.matrices) != 1 || b.matrices[0] != "houthis" {
		t.Errorf("unexpected matrix calls %v", b.matrices)
	}
}

// TestMatrix_UnknownTarget verifies the target rule applies to the matrix.
func TestMatrix_UnknownTarget(t *testing.T) {
	b := &fakeBackend{}
	h := NewServer(b, testServerConfig(), Options{}).Router()

	if rec, _ := do(t, h, "/api/v1/matrix/atlantis"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if len(b.matrices) != 0 {
		t.Errorf("backend should not be called")
	}
}

// TestProtests_Days verifies the window parameter and its validation.
func TestProtests_Days(t *testing.T) {
	b := &fakeBackend{}
	h := NewServer(b, testServerConfig(), Options{}).Router()

	if rec, _ := do(t, h, "/api/v1/protests?days=2"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec, _ := do(t, h, "/api/v1/protests?days=14"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for 14 days, got %d", rec.Code)
	}
	if len(b.protests) != 1 || b.protests[0] != 2 {
		t.Errorf("unexpected protest calls %v", b.protests)
	}
}

// TestProtests_QuotaExceeded verifies a quota refusal is a 429.
func TestProtests_QuotaExceeded(t *testing.T) {
	b := &fakeBackend{protest: &service.ProtestResponse{Status: service.StatusQuotaExceeded}}
	h := NewServer(b, testServerConfig(), Options{}).Router()

	if rec, _ := do(t, h, "/api/v1/protests"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

// TestQuota_Headers verifies the quota body and headers.
func TestQuota_Headers(t *testing.T) {
	reset := testNow.Add(6 * time.Hour)
	b := &fakeBackend{quota: &service.QuotaResponse{
		Success: true,
		Status:  quota.Status{RequestsUsed: 40, RequestsRemaining: 60, Limit: 100, ResetAt: reset},
	}}
	h := NewServer(b, testServerConfig(), Options{}).Router()

	rec, body := do(t, h, "/api/v1/quota")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Quota-Remaining"); got != "60" {
		t.Errorf("expected X-Quota-Remaining 60, got %q", got)
	}
	if got := rec.Header().Get("X-Quota-Limit"); got != "100" {
		t.Errorf("expected X-Quota-Limit 100, got %q", got)
	}
	if got := rec.Header().Get("X-Quota-Reset"); got != fmt.Sprint(reset.Unix()) {
		t.Errorf("unexpected X-Quota-Reset %q", got)
	}
	if body["requests_used"] != float64(40) || body["requests_remaining"] != float64(60) {
		t.Errorf("unexpected body %v", body)
	}
}

// TestNotFound verifies unknown routes answer JSON.
func TestNotFound(t *testing.T) {
	h := NewServer(&fakeBackend{}, testServerConfig(), Options{}).Router()

	rec, body := do(t, h, "/api/v2/threat/iran")
	if rec.Code != http.StatusNotFound || body["success"] != false {
		t.Errorf("expected JSON 404, got %d %v", rec.Code, body)
	}
}

// =============================================================================
// Rate Limit Tests
// =============================================================================

// TestRateLimiter_Check verifies burst, remaining and retry-after.
func TestRateLimiter_Check(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 3}, nil)
	rl.now = func() time.Time { return testNow }

	for i, want := range []int{2, 1, 0} {
		res := rl.Check("10.0.0.1")
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if res.Remaining != want || res.Limit != 3 {
			t.Errorf("request %d: expected remaining %d of 3, got %+v", i+1, want, res)
		}
	}

	res := rl.Check("10.0.0.1")
	if res.Allowed {
		t.Fatal("fourth request should be limited")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
		t.Errorf("expected retry within one second at 1 rps, got %v", res.RetryAfter)
	}

	if !rl.Check("10.0.0.2").Allowed {
		t.Error("clients should not share a bucket")
	}

	rl.now = func() time.Time { return testNow.Add(time.Second) }
	if !rl.Check("10.0.0.1").Allowed {
		t.Error("expected a token after one second")
	}
}

// TestRateLimiter_Middleware verifies the 429 response and headers on the
// API routes, and that health endpoints are not limited.
func TestRateLimiter_Middleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, BurstSize: 2, IncludeHeaders: true}
	h := NewServer(&fakeBackend{}, cfg, Options{}).Router()

	for i := 0; i < 2; i++ {
		if rec, _ := do(t, h, "/api/v1/threat/iran"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec, body := do(t, h, "/api/v1/threat/iran")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("missing rate limit headers: %v", rec.Header())
	}
	if body["success"] != false {
		t.Errorf("expected success=false, got %v", body["success"])
	}

	if rec, _ := do(t, h, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health should bypass the limiter, got %d", rec.Code)
	}
}
