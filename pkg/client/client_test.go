package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const statusBody = `{
  "server": "Conan Exiles Server",
  "started_at": "2024-01-01T00:00:00Z",
  "lifecycle": {"state": "ready", "epoch": 3, "warning_sent": false, "since": "2024-01-01T00:05:00Z"},
  "watchdog": {"process_name": "server.exe", "health": "responsive", "pid": 42, "zombie_detected": false},
  "log": {"path": "/logs/ConanSandbox.log", "lines": 10, "size": 512},
  "firewall_enabled": true,
  "ports": ["7777/UDP", "7777/TCP"]
}`

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(statusBody))
	})
	mux.HandleFunc("GET /api/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"state":"ready"}`))
	})
	mux.HandleFunc("POST /api/watchdog/kill", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"no zombie process detected"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestStatus(t *testing.T) {
	ts := newAPI(t)
	c := New(Config{BaseURL: ts.URL + "/api/"})

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Server != "Conan Exiles Server" || st.Lifecycle.State != "ready" || st.Lifecycle.Epoch != 3 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Watchdog == nil || st.Watchdog.PID != 42 || st.Watchdog.Health != "responsive" {
		t.Fatalf("unexpected watchdog %+v", st.Watchdog)
	}
	if len(st.Ports) != 2 || !st.Firewall || st.Log.Lines != 10 {
		t.Fatalf("unexpected status %+v", st)
	}
	if !st.StartedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("started_at %v", st.StartedAt)
	}
}

func TestHealthAndReachable(t *testing.T) {
	ts := newAPI(t)
	c := New(Config{BaseURL: ts.URL + "/api"})
	h, err := c.Health(context.Background())
	if err != nil || !h.OK || h.State != "ready" {
		t.Fatalf("health %+v %v", h, err)
	}
	if !c.IsReachable(context.Background()) {
		t.Fatalf("expected reachable")
	}

	down := New(Config{BaseURL: ts.URL + "/nope", Timeout: time.Second})
	if down.IsReachable(context.Background()) {
		t.Fatalf("404 base should be unreachable")
	}
}

func TestKillZombieConflict(t *testing.T) {
	ts := newAPI(t)
	c := New(Config{BaseURL: ts.URL + "/api"})
	err := c.KillZombie(context.Background())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestKillZombieToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	if err := New(Config{BaseURL: ts.URL}).KillZombie(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if err := New(Config{BaseURL: ts.URL, Token: "s3cret"}).KillZombie(context.Background()); err != nil {
		t.Fatalf("kill with token: %v", err)
	}
}

func TestErrorWithoutBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(Config{BaseURL: ts.URL}).Status(context.Background())
	if err == nil || err.Error() != "HTTP 502" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestInsecureTLS(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"state":"loading"}`))
	}))
	defer ts.Close()

	strict := New(Config{BaseURL: ts.URL})
	if _, err := strict.Health(context.Background()); err == nil {
		t.Fatalf("self-signed certificate should be rejected")
	}

	c := New(Config{BaseURL: ts.URL, Insecure: true})
	h, err := c.Health(context.Background())
	if err != nil || h.State != "loading" {
		t.Fatalf("health %+v %v", h, err)
	}
}

func TestSetupClientTLS_BadCA(t *testing.T) {
	_, err := setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, CACert: "/does/not/exist.pem"}})
	if err == nil {
		t.Fatalf("expected error for missing CA file")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaseURL != DefaultBaseURL || cfg.Timeout != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if New(Config{}).baseURL != DefaultBaseURL {
		t.Fatalf("empty base URL should default")
	}
}
