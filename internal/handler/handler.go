package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/driftwatch/internal/circuitbreaker"
	"github.com/angeloszaimis/driftwatch/internal/store"
	"github.com/angeloszaimis/driftwatch/internal/transport"
)

const defaultHistoryLimit = 20

// Limiter is the read-only view of the rate limiter served by the API.
type Limiter interface {
	AvailableTokens() float64
	Capacity() float64
	RefillRate() float64
}

// Target reports the state of the client bound to the probed API.
type Target interface {
	Stats() transport.Stats
}

type AdminHandler struct {
	logger   *slog.Logger
	breakers *circuitbreaker.Registry
	limiter  Limiter
	store    store.Store
	target   Target
	started  time.Time
}

type LimiterResponse struct {
	AvailableTokens float64 `json:"available_tokens"`
	Capacity        float64 `json:"capacity"`
	RefillRate      float64 `json:"refill_rate_per_second"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

type ResetResponse struct {
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAdminHandler(logger *slog.Logger, breakers *circuitbreaker.Registry, limiter Limiter, st store.Store, target Target) *AdminHandler {
	return &AdminHandler{
		logger:   logger,
		breakers: breakers,
		limiter:  limiter,
		store:    st,
		target:   target,
		started:  time.Now(),
	}
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Store:     h.store.Driver(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	})
}

// Breakers lists every breaker created so far keyed by endpoint.
func (h *AdminHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.breakers.Stats())
}

func (h *AdminHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	endpoint := chi.URLParam(r, "endpoint")

	if !h.breakers.ResetBreaker(endpoint) {
		h.writeError(w, http.StatusNotFound, "no circuit breaker for endpoint "+strconv.Quote(endpoint))
		return
	}

	h.logger.Info("Circuit breaker reset via admin API", slog.String("endpoint", endpoint))

	cb, _ := h.breakers.Lookup(endpoint)
	h.writeJSON(w, http.StatusOK, ResetResponse{Endpoint: endpoint, State: cb.State().String()})
}

func (h *AdminHandler) Limiter(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, LimiterResponse{
		AvailableTokens: h.limiter.AvailableTokens(),
		Capacity:        h.limiter.Capacity(),
		RefillRate:      h.limiter.RefillRate(),
	})
}

func (h *AdminHandler) Target(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.target.Stats())
}

// LatestSchema serves the newest stored schema version of an endpoint.
func (h *AdminHandler) LatestSchema(w http.ResponseWriter, r *http.Request) {
	endpoint := chi.URLParam(r, "endpoint")

	record, err := h.store.LatestSchema(r.Context(), endpoint)
	if err != nil {
		h.logger.Error("Failed to load schema",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "failed to load schema")
		return
	}

	if record == nil {
		h.writeError(w, http.StatusNotFound, "no schema stored for endpoint "+strconv.Quote(endpoint))
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// SchemaHistory serves stored versions newest first. ?limit=N bounds the
// result; 0 returns every version.
func (h *AdminHandler) SchemaHistory(w http.ResponseWriter, r *http.Request) {
	endpoint := chi.URLParam(r, "endpoint")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.store.ListSchemas(r.Context(), endpoint, limit)
	if err != nil {
		h.logger.Error("Failed to list schemas",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "failed to list schemas")
		return
	}

	if records == nil {
		records = []store.SchemaRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to write response", slog.String("error", err.Error()))
	}
}

func (h *AdminHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
