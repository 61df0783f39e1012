// Package gateway implements Metrics' HTTP readout (spec §4.8) and the
// process-wide /healthz and /readyz checks. Per-bot webhook routes are
// mounted separately by cmd/telecore onto the same mux, one per
// ingress.Ingress.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/telecore/telecore/internal/store"
)

// Server serves the process-wide HTTP surface.
type Server struct {
	store             *store.Store
	botIDs            []string
	configFingerprint string
}

// Config configures a Server.
type Config struct {
	Store             *store.Store
	BotIDs            []string
	ConfigFingerprint string
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{store: cfg.Store, botIDs: cfg.BotIDs, configFingerprint: cfg.ConfigFingerprint}
}

// Register mounts /healthz, /readyz, and /metrics onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
}

// handleHealthz reports process liveness: the store's connection is
// reachable. It never checks upstream bot/platform reachability.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.store.AllCounters(r.Context(), "__healthcheck__"); err != nil {
		dbOK = false
	}
	writeJSON(w, dbOK, map[string]any{"healthy": dbOK, "db_ok": dbOK})
}

// handleReadyz reports whether the process is ready to accept traffic: the
// store is reachable and at least one bot is configured.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := len(s.botIDs) > 0
	if _, err := s.store.AllCounters(r.Context(), "__healthcheck__"); err != nil {
		ready = false
	}
	writeJSON(w, ready, map[string]any{"ready": ready})
}

// handleMetrics returns the per-bot raw counters, queue depths, and
// in-flight run counts (spec §4.8's "raw counters readout").
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := context.Background()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	bots := make(map[string]any, len(s.botIDs))
	for _, botID := range s.botIDs {
		counters, err := s.store.AllCounters(ctx, botID)
		if err != nil {
			continue
		}
		jobsByStatus, err := s.store.JobsByStatus(ctx, botID)
		if err != nil {
			jobsByStatus = map[string]int{}
		}
		inFlight, _ := s.store.InFlightRunCount(ctx, botID)
		bots[botID] = map[string]any{
			"counters":        counters,
			"jobs_by_status":  jobsByStatus,
			"in_flight_runs":  inFlight,
		}
	}

	payload := map[string]any{
		"config_fingerprint": s.configFingerprint,
		"goroutines":         runtime.NumGoroutine(),
		"heap_alloc_bytes":   mem.HeapAlloc,
		"bots":               bots,
	}
	writeJSON(w, true, payload)
}

func writeJSON(w http.ResponseWriter, ok bool, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
