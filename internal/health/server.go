// Package health implements the optional health endpoint (spec §6):
// GET /healthz -> 200 "ok", GET /metrics -> 200 JSON limiter snapshots
// and identifying fields, never secrets.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbcore/solarb/internal/ratelimit"
)

// PairSnapshot is one pair's in-memory scan/trigger state, sourced
// from C5/C6's already-maintained structures (SPEC_FULL §12
// "/metrics health snapshot") — no new state is introduced.
type PairSnapshot struct {
	Name                string    `json:"name"`
	LastScanAt          time.Time `json:"lastScanAt,omitempty"`
	LastDecisionProfit  bool      `json:"lastDecisionProfitable"`
	TriggerState        string    `json:"triggerState,omitempty"`
}

// Snapshotter supplies the current per-pair state for /metrics.
// Implemented by the scheduler, which is the sole owner of pair
// state (spec §9 "Cyclic/global state").
type Snapshotter interface {
	Pairs() []PairSnapshot
}

// Server serves /healthz and /metrics on addr.
type Server struct {
	addr     string
	governor *ratelimit.Governor
	snap     Snapshotter
	logger   zerolog.Logger
	http     *http.Server
}

// New constructs a health Server. addr is empty to disable (the
// caller should not call Run in that case).
func New(addr string, governor *ratelimit.Governor, snap Snapshotter, logger zerolog.Logger) *Server {
	s := &Server{addr: addr, governor: governor, snap: snap, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type metricsResponse struct {
	Limiters map[string]ratelimit.BucketSnapshot `json:"limiters"`
	Pairs    []PairSnapshot                      `json:"pairs"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := metricsResponse{
		Limiters: make(map[string]ratelimit.BucketSnapshot),
	}
	for upstream, snap := range s.governor.Snapshot() {
		resp.Limiters[string(upstream)] = snap
	}
	if s.snap != nil {
		resp.Pairs = s.snap.Pairs()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("encode /metrics response")
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
