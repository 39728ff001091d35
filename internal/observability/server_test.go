package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/telemlink/internal/testutil/testlog"
)

func TestStatusServerRoutes(t *testing.T) {
	testlog.Start(t)
	ready := false
	s := NewStatusServer("wsrelay", StatusServerConfig{}, func() bool { return ready }, func() any {
		return []map[string]string{{"source": "veh-1", "state": "connected"}}
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready, status=%d", rec.Code)
	}
	ready = true
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))
	var body struct {
		Node    string              `json:"node"`
		Sources []map[string]string `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode sources: %v", err)
	}
	if body.Node != "wsrelay" || len(body.Sources) != 1 || body.Sources[0]["source"] != "veh-1" {
		t.Fatalf("unexpected sources body: %+v", body)
	}

	RecordFrameClosed("serial", 100)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "telemlink_aggregator_frames_total") {
		t.Fatalf("metrics output missing aggregator counter")
	}
}

func TestStatusServerServeListenerStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewStatusServer("serialbridge", StatusServerConfig{ListenAddr: ln.Addr().String()}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestStatusServerTokenGuardsMetricsAndSources(t *testing.T) {
	testlog.Start(t)
	s := NewStatusServer("wsrelay", StatusServerConfig{Token: "s3cret"}, nil, nil)

	get := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}
	if code := get("/health", ""); code != http.StatusOK {
		t.Fatalf("health must stay open, status=%d", code)
	}
	for _, path := range []string{"/metrics", "/sources"} {
		if code := get(path, ""); code != http.StatusUnauthorized {
			t.Fatalf("%s without token: status=%d", path, code)
		}
		if code := get(path, "wrong"); code != http.StatusUnauthorized {
			t.Fatalf("%s with wrong token: status=%d", path, code)
		}
		if code := get(path, "s3cret"); code != http.StatusOK {
			t.Fatalf("%s with token: status=%d", path, code)
		}
	}
}
