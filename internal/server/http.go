package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"synthvault/internal/observability"
	"synthvault/internal/query"
)

// HTTPServer serves the read-only JSON query API plus the probe and
// metrics endpoints.
//
//	GET /v1/positions/{user}             full position with health factor
//	GET /v1/positions/{user}/operations  recent operation log entries
//	GET /v1/assets                       registered assets with prices
//	GET /healthz, /readyz, /metrics
type HTTPServer struct {
	server  *http.Server
	addr    string
	qs      *query.QueryService
	checker *observability.HealthChecker
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewHTTPServer(
	addr string,
	qs *query.QueryService,
	checker *observability.HealthChecker,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *HTTPServer {
	return &HTTPServer{
		addr:    addr,
		qs:      qs,
		checker: checker,
		logger:  logger.With().Str("component", "http").Logger(),
		metrics: metrics,
	}
}

// Start serves until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/positions/", s.handlePositions)
	mux.HandleFunc("/v1/assets", s.handleAssets)
	mux.HandleFunc("/healthz", s.checker.LivenessHandler)
	mux.HandleFunc("/readyz", s.checker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handlePositions routes /v1/positions/{user} and
// /v1/positions/{user}/operations.
func (s *HTTPServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "positions", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	start := time.Now()

	rest := strings.TrimPrefix(r.URL.Path, "/v1/positions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, "positions", http.StatusBadRequest, "user id is required")
		return
	}

	userID, err := uuid.Parse(parts[0])
	if err != nil {
		s.writeError(w, "positions", http.StatusBadRequest, "invalid user id")
		return
	}

	switch {
	case len(parts) == 1:
		resp, err := s.qs.GetPosition(r.Context(), userID)
		if err != nil {
			s.logger.Warn().Str("user", userID.String()).Err(err).Msg("position query failed")
			s.writeError(w, "positions", http.StatusInternalServerError, "position query failed")
			return
		}
		s.writeJSON(w, "positions", resp)

	case len(parts) == 2 && parts[1] == "operations":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		ops, err := s.qs.GetOperations(r.Context(), userID, limit)
		if err != nil {
			s.logger.Warn().Str("user", userID.String()).Err(err).Msg("operations query failed")
			s.writeError(w, "operations", http.StatusInternalServerError, "operations query failed")
			return
		}
		s.writeJSON(w, "operations", map[string]interface{}{"operations": ops})

	default:
		s.writeError(w, "positions", http.StatusNotFound, "not found")
	}

	s.metrics.QueryDuration.WithLabelValues("positions").Observe(time.Since(start).Seconds())
}

func (s *HTTPServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "assets", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	start := time.Now()

	assets, err := s.qs.ListAssets(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("assets query failed")
		s.writeError(w, "assets", http.StatusInternalServerError, "assets query failed")
		return
	}
	s.writeJSON(w, "assets", map[string]interface{}{"assets": assets})
	s.metrics.QueryDuration.WithLabelValues("assets").Observe(time.Since(start).Seconds())
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, endpoint string, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
	s.metrics.QueryRequests.WithLabelValues(endpoint, "200").Inc()
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
	s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}
