package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/medcost/artifact"
	"github.com/rushteam/medcost/audit"
	"github.com/rushteam/medcost/config"
	_ "github.com/rushteam/medcost/config/builders"
	"github.com/rushteam/medcost/metrics"
	"github.com/rushteam/medcost/predict"
	"github.com/rushteam/medcost/store"
)

const smokerBody = `{"age":30,"sex":"male","bmi":28.5,"children":1,"smoker":"yes","region":"southeast"}`

type memAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *memAuditor) Record(ctx context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAuditor) all() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

func readyService(t *testing.T) *predict.Service {
	t.Helper()
	st, err := store.NewDirStore("../artifact/testdata")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	b, err := artifact.Load(context.Background(), st, "manifest.yaml")
	if err != nil {
		t.Fatalf("load artifacts: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return predict.NewService(b)
}

func testConfig() config.ServerConfig {
	return config.Default().Server
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var payload map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid json %q: %v", w.Body.String(), err)
		}
	}
	return w, payload
}

func TestHandleWelcome(t *testing.T) {
	h := New(readyService(t), testConfig()).Handler()
	w, payload := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if payload["message"] != WelcomeMessage {
		t.Fatalf("message = %v", payload["message"])
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestHandlePredict(t *testing.T) {
	h := New(readyService(t), testConfig()).Handler()

	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantStatus  string
		wantMessage string
	}{
		{"smoker", smokerBody, http.StatusOK, predict.StatusSuccess, ""},
		{"non smoker", `{"age":30,"sex":"male","bmi":28.5,"children":1,"smoker":"no","region":"southeast"}`, http.StatusOK, predict.StatusSuccess, ""},
		{"missing bmi", `{"age":30,"sex":"male","children":1,"smoker":"yes","region":"southeast"}`, http.StatusBadRequest, predict.StatusError, "bmi"},
		{"unknown region", `{"age":30,"sex":"male","bmi":28.5,"children":1,"smoker":"yes","region":"mars"}`, http.StatusBadRequest, predict.StatusError, "mars"},
		{"malformed age", `{"age":"thirty","sex":"male","bmi":28.5,"children":1,"smoker":"yes","region":"southeast"}`, http.StatusBadRequest, predict.StatusError, "age"},
		{"invalid json", `{"age":`, http.StatusBadRequest, predict.StatusError, "invalid JSON"},
		{"array body", `[1,2]`, http.StatusBadRequest, predict.StatusError, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, payload := do(t, h, http.MethodPost, "/predict", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if payload["status"] != tt.wantStatus {
				t.Fatalf("status = %v", payload["status"])
			}
			if tt.wantStatus == predict.StatusSuccess {
				p, ok := payload["prediction"].(float64)
				if !ok || p <= 0 {
					t.Fatalf("prediction = %v", payload["prediction"])
				}
				if _, has := payload["message"]; has {
					t.Error("success response carries message")
				}
				return
			}
			msg, _ := payload["message"].(string)
			if !strings.Contains(msg, tt.wantMessage) {
				t.Errorf("message = %q, want it to contain %q", msg, tt.wantMessage)
			}
			if _, has := payload["prediction"]; has {
				t.Error("error response carries prediction")
			}
		})
	}
}

func TestHandlePredict_SmokerCostsMore(t *testing.T) {
	h := New(readyService(t), testConfig()).Handler()
	_, smoker := do(t, h, http.MethodPost, "/predict", smokerBody)
	_, nonSmoker := do(t, h, http.MethodPost, "/predict", strings.Replace(smokerBody, `"yes"`, `"no"`, 1))
	if smoker["prediction"].(float64) <= nonSmoker["prediction"].(float64) {
		t.Fatalf("smoker %v <= non-smoker %v", smoker["prediction"], nonSmoker["prediction"])
	}
}

func TestHandlePredict_MethodNotAllowed(t *testing.T) {
	h := New(readyService(t), testConfig()).Handler()
	w, _ := do(t, h, http.MethodGet, "/predict", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestHandlePredict_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	h := New(readyService(t), cfg).Handler()
	w, payload := do(t, h, http.MethodPost, "/predict", smokerBody)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", w.Code)
	}
	if msg, _ := payload["message"].(string); !strings.Contains(msg, "exceeds 16 bytes") {
		t.Fatalf("message = %q", msg)
	}
}

func TestHandlePredict_CacheAndAudit(t *testing.T) {
	cache, err := NewCache(8)
	if err != nil {
		t.Fatal(err)
	}
	aud := &memAuditor{}
	h := New(readyService(t), testConfig(), WithCache(cache), WithAuditor(aud)).Handler()

	_, first := do(t, h, http.MethodPost, "/predict", smokerBody)
	// 字段顺序不同，规范化后命中同一缓存项
	_, second := do(t, h, http.MethodPost, "/predict",
		`{"region":"southeast","smoker":"yes","children":1,"bmi":28.5,"sex":"male","age":30}`)
	do(t, h, http.MethodPost, "/predict", `{"age":30}`)

	if first["prediction"] != second["prediction"] {
		t.Fatalf("cached prediction %v != %v", second["prediction"], first["prediction"])
	}
	if cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", cache.Len())
	}

	entries := aud.all()
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	if entries[0].Cached || !entries[1].Cached {
		t.Errorf("cached flags = %v, %v", entries[0].Cached, entries[1].Cached)
	}
	if entries[0].Version != "2024-06-01" || entries[0].Prediction == nil {
		t.Errorf("success entry = %+v", entries[0])
	}
	if entries[2].Status != predict.StatusError || entries[2].Code != "MISSING_FEATURE" {
		t.Errorf("error entry = %+v", entries[2])
	}
	for _, e := range entries {
		if e.RequestID == "" {
			t.Error("audit entry without request id")
		}
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	h := New(readyService(t), testConfig()).Handler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestHealthz(t *testing.T) {
	w, payload := do(t, New(readyService(t), testConfig()).Handler(), http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || payload["artifact_version"] != "2024-06-01" {
		t.Fatalf("ready healthz = %d %v", w.Code, payload)
	}

	failed := predict.NewFailedService(errors.New("scaler.json: not found"))
	h := New(failed, testConfig()).Handler()
	w, payload = do(t, h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable || payload["status"] != predict.StatusError {
		t.Fatalf("failed healthz = %d %v", w.Code, payload)
	}

	w, payload = do(t, h, http.MethodPost, "/predict", smokerBody)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed predict code = %d", w.Code)
	}
	if msg, _ := payload["message"].(string); !strings.Contains(msg, "ARTIFACT_LOAD_FAILURE") && !strings.Contains(msg, "scaler.json") {
		t.Errorf("message = %q", msg)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	svc := readyService(t)
	h := New(svc, testConfig(), WithMetrics(m)).Handler()

	do(t, h, http.MethodPost, "/predict", smokerBody)
	do(t, h, http.MethodPost, "/predict", `{}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`medcost_http_requests_total{code="200",method="POST",route="/predict"} 1`,
		`medcost_http_requests_total{code="400",method="POST",route="/predict"} 1`,
		`medcost_service_ready 1`,
		`medcost_artifact_info{version="2024-06-01"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestRecovery(t *testing.T) {
	h := Chain(Recovery(zap.NewNop()), WithRequestID)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w, payload := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusInternalServerError || payload["status"] != predict.StatusError {
		t.Fatalf("recovery = %d %v", w.Code, payload)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := New(readyService(t), testConfig()).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("code = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("missing allow methods")
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.ShutdownTimeout = time.Second
	srv := New(readyService(t), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/predict", "application/json", strings.NewReader(smokerBody))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_Swap(t *testing.T) {
	cache, err := NewCache(8)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(readyService(t), testConfig(), WithCache(cache))
	h := srv.Handler()

	do(t, h, http.MethodPost, "/predict", smokerBody)
	if cache.Len() != 1 {
		t.Fatalf("cache len = %d", cache.Len())
	}

	st, err := store.NewDirStore("../artifact/testdata")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	b, err := artifact.Load(context.Background(), st, "manifest.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	b.Version = "2024-07-01"

	old := srv.Swap(predict.NewService(b))
	if old.Version() != "2024-06-01" {
		t.Errorf("old version = %q", old.Version())
	}
	if cache.Len() != 0 {
		t.Errorf("cache not purged: %d", cache.Len())
	}
	_, payload := do(t, h, http.MethodGet, "/healthz", "")
	if payload["artifact_version"] != "2024-07-01" {
		t.Errorf("healthz version = %v", payload["artifact_version"])
	}
}
