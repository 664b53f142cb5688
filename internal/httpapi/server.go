// Package httpapi exposes the engine's order, position, and recommendation
// surface over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"tradekeeper/internal/admission"
	"tradekeeper/internal/domain"
	"tradekeeper/internal/engine"
)

// Server serves the trading HTTP API.
type Server struct {
	engine *engine.Engine
	log    *slog.Logger
}

// NewServer creates a Server over the given engine.
func NewServer(e *engine.Engine, log *slog.Logger) *Server {
	return &Server{
		engine: e,
		log:    log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/positions/{user}", s.handlePositions)
	mux.HandleFunc("GET /api/recommendations/{user}", s.handleRecommendations)
	mux.HandleFunc("GET /api/attempts/{user}", s.handleAttempts)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decision, err := s.engine.SubmitOrder(r.Context(), req)
	switch {
	case errors.Is(err, admission.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.log.Error("order submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForOutcome(decision.Outcome))
	if err := json.NewEncoder(w).Encode(decision); err != nil {
		s.log.Error("encoding JSON response", "error", err)
	}
}

// statusForOutcome maps an admission outcome to its HTTP status. Rejections
// are still well-formed decisions, not server errors.
func statusForOutcome(outcome domain.Outcome) int {
	switch outcome {
	case domain.OutcomeDuplicate:
		return http.StatusConflict
	case domain.OutcomeRateLimited:
		return http.StatusTooManyRequests
	case domain.OutcomeBrokerError:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// positionsResponse pairs a user's positions with their account snapshot.
type positionsResponse struct {
	Positions []domain.Position   `json:"positions"`
	Account   *domain.AccountInfo `json:"account,omitempty"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	resp := positionsResponse{Positions: s.engine.Positions(user)}
	if acct, ok := s.engine.Account(user); ok {
		resp.Account = acct
	}
	writeJSON(w, resp)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Recommendations(r.PathValue("user")))
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	attempts, err := s.engine.Attempts(r.Context(), r.PathValue("user"), limit)
	if err != nil {
		s.log.Error("listing attempts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, attempts)
}

// healthResponse carries the aggregate status plus the per-component view.
type healthResponse struct {
	Status     domain.HealthStatus            `json:"status"`
	Components map[string]domain.HealthStatus `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	components := s.engine.ComponentHealth()
	overall := components["engine"]

	status := http.StatusOK
	if overall == domain.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: overall, Components: components}); err != nil {
		s.log.Error("encoding JSON response", "error", err)
	}
}

// ---------------------------------------------------------------------------
// Plumbing
// ---------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
