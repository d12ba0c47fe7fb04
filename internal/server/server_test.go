package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-watch/internal/core"
)

type stubFeature struct {
	*core.BaseFeature
}

func (f *stubFeature) Routes() []core.Route {
	return []core.Route{
		{Method: "GET", Path: "/stub/items/{id}", Handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("item"))
		}},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := core.NewDiscardLogger()
	registry := core.NewRegistry(logger)
	if err := registry.Register(&stubFeature{core.NewBaseFeature("stub", "Stub feature", true, logger)}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	config := &core.Config{Server: core.ServerConfig{Enabled: true, Host: "127.0.0.1", Port: 0}}
	return New(config, logger, registry)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Status   string                        `json:"status"`
		Features map[string]core.FeatureStatus `json:"features"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if body.Status != "ok" || len(body.Features) != 1 {
		t.Fatalf("Unexpected health body: %+v", body)
	}
	if stub := body.Features["stub"]; !stub.Enabled || stub.Description != "Stub feature" {
		t.Errorf("Expected stub feature status, got %+v", stub)
	}
}

func TestFeatureRoutesMounted(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/stub/items/7", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "item" {
		t.Errorf("Expected feature route to answer, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/stub/items/7", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for a read-only route, got %d", rec.Code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
