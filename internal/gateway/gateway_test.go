package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/telecore/telecore/internal/gateway"
	"github.com/telecore/telecore/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "telecore.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHealthz_ReportsHealthy(t *testing.T) {
	s := openTestStore(t)
	gw := gateway.New(gateway.Config{Store: s, BotIDs: []string{"bot1"}})
	mux := http.NewServeMux()
	gw.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["healthy"] != true {
		t.Fatalf("expected healthy=true, got %+v", body)
	}
}

func TestMetrics_IncludesConfiguredBots(t *testing.T) {
	s := openTestStore(t)
	if err := s.IncrCounter(context.Background(), "bot1", "runs_completed", 3); err != nil {
		t.Fatalf("incr counter: %v", err)
	}
	gw := gateway.New(gateway.Config{Store: s, BotIDs: []string{"bot1"}})
	mux := http.NewServeMux()
	gw.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	bots, ok := body["bots"].(map[string]any)
	if !ok || bots["bot1"] == nil {
		t.Fatalf("expected bot1 in metrics readout, got %+v", body)
	}
}
