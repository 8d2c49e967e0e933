package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/gatekeep/internal/coordinator"
	"github.com/loykin/gatekeep/internal/history"
	"github.com/loykin/gatekeep/internal/logger"
	"github.com/loykin/gatekeep/internal/reconciler"
	"github.com/loykin/gatekeep/internal/settings"
	"github.com/loykin/gatekeep/internal/supervisor"
)

func newTestRouter(t *testing.T) (*Router, *settings.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := settings.Open(":memory:")
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	hist, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	dir := t.TempDir()
	sup := supervisor.New(supervisor.Spec{
		Command: "sleep 300.33917",
		PIDFile: filepath.Join(dir, "gw.pid"),
		Log:     logger.FileConfig{Path: filepath.Join(dir, "gw.log")},
	}, hist)
	rec := reconciler.New(nil, sup, st, hist, nil, time.Millisecond)
	coord := coordinator.New(sup, rec, st)

	return NewRouter(sup, rec, coord, hist, st, "/api"), st
}

func newTestHandler(t *testing.T) (http.Handler, *settings.Store) {
	t.Helper()
	r, st := newTestRouter(t)
	return r.Handler(), st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestStatusEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	w, out := doJSON(t, h, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code %d", w.Code)
	}
	if out["state"] != "stopped" {
		t.Fatalf("expected stopped gateway: %v", out)
	}
}

func TestModeEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	w, out := doJSON(t, h, http.MethodGet, "/api/mode", "")
	if w.Code != http.StatusOK || out["mode"] != settings.ModeLocalPolling {
		t.Fatalf("GET mode: %d %v", w.Code, out)
	}

	w, _ = doJSON(t, h, http.MethodPut, "/api/mode", `{"bad json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body should be 400, got %d", w.Code)
	}

	w, out = doJSON(t, h, http.MethodPut, "/api/mode", `{"mode":"half_duplex"}`)
	if w.Code != http.StatusOK || out["success"] != false {
		t.Fatalf("unknown mode should be a structured failure: %d %v", w.Code, out)
	}
}

func TestWebhookCheckWithoutCredential(t *testing.T) {
	h, _ := newTestHandler(t)
	w, out := doJSON(t, h, http.MethodPost, "/api/webhook/check", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code %d", w.Code)
	}
	msg, _ := out["last_error_message"].(string)
	if !strings.Contains(msg, "not configured") {
		t.Fatalf("expected unconfigured-credential record: %v", out)
	}
	if out["action_taken"] != "none" {
		t.Fatalf("no action expected: %v", out)
	}
}

func TestProductionURLValidation(t *testing.T) {
	h, st := newTestHandler(t)

	w, _ := doJSON(t, h, http.MethodPut, "/api/webhook/url", `{"url":"ftp://x.example"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("non-http scheme should be 400, got %d", w.Code)
	}
	w, _ = doJSON(t, h, http.MethodPut, "/api/webhook/url", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing url should be 400, got %d", w.Code)
	}

	w, out := doJSON(t, h, http.MethodPut, "/api/webhook/url", `{"url":"https://x.example/hook"}`)
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("PUT url: %d %v", w.Code, out)
	}
	v, err := st.Get(context.Background(), settings.KeyProductionWebhookURL, "")
	if err != nil || v != "https://x.example/hook" {
		t.Fatalf("url not persisted: %q err=%v", v, err)
	}
}

func TestHistoryEndpointsEmpty(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, path := range []string{"/api/history/monitor", "/api/history/restarts", "/api/history/webhook"} {
		w, _ := doJSON(t, h, http.MethodGet, path+"?limit=5", "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, w.Code)
		}
	}
}

func TestLogsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	w, out := doJSON(t, h, http.MethodGet, "/api/logs?lines=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code %d", w.Code)
	}
	if _, ok := out["lines"]; !ok {
		t.Fatalf("missing lines field: %v", out)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	w, out := doJSON(t, h, http.MethodGet, "/api/healthz", "")
	if w.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("healthz: %d %v", w.Code, out)
	}
	if out["healthy"] != false {
		t.Fatalf("stopped gateway should be unhealthy: %v", out)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", w.Code)
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestNewServerLogsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	buf := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, nil)))
	defer slog.SetDefault(prev)

	r, _ := newTestRouter(t)
	srv := NewServer(ln.Addr().String(), r)
	defer func() { _ = srv.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), "operational API server failed") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("occupied port was not logged: %q", buf.String())
}

func TestAutoCheckValidation(t *testing.T) {
	h, _ := newTestHandler(t)
	w, _ := doJSON(t, h, http.MethodPut, "/api/webhook/autocheck", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing enabled should be 400, got %d", w.Code)
	}
	w, out := doJSON(t, h, http.MethodPut, "/api/webhook/autocheck", `{"enabled":false,"interval_seconds":30}`)
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("autocheck: %d %v", w.Code, out)
	}
}
