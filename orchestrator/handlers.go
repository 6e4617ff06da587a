// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchflow/platform/orchestrator/adapter"
	"matchflow/platform/orchestrator/circuitbreaker"
)

// maxBodyBytes bounds request bodies on the match endpoints.
const maxBodyBytes = 4 << 20

// Handler serves the public HTTP API on top of a Service.
type Handler struct {
	service   *Service
	validator *RequestValidator
}

// NewHandler creates a handler for service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validator: NewRequestValidator()}
}

// RegisterRoutes registers all routes with a mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, h.service.Gatherer()},
		promhttp.HandlerOpts{},
	)).Methods("GET")

	r.HandleFunc("/api/v2/match", h.match).Methods("POST")
	r.HandleFunc("/match", h.legacyMatch).Methods("POST")

	r.HandleFunc("/api/v2/algorithms", h.algorithms).Methods("GET")
	r.HandleFunc("/api/v2/stats", h.stats).Methods("GET")
	r.HandleFunc("/api/v2/audit/search", h.auditSearch).Methods("POST")

	circuitbreaker.NewHandler(h.service.Breakers(), h.service.Resettable).RegisterRoutes(r)
}

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	var body MatchRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.service.RecordValidationError()
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Validate(&body); err != nil {
		h.service.RecordValidationError()
		sendValidationError(w, err)
		return
	}

	q := r.URL.Query()
	algorithm := strings.TrimSpace(q.Get("algorithm"))
	if algorithm == "" {
		algorithm = "auto"
	}
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	resp := h.service.Match(r.Context(), body.ToRequest(requestID, algorithm, userID))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) legacyMatch(w http.ResponseWriter, r *http.Request) {
	var body adapter.LegacyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.service.RecordValidationError()
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Validate(&body); err != nil {
		h.service.RecordValidationError()
		sendValidationError(w, err)
		return
	}

	req := body.ToCanonical()
	req.RequestID = r.Header.Get("X-Request-ID")
	req.UserID = r.URL.Query().Get("user_id")

	resp := h.service.Match(r.Context(), req)
	writeJSON(w, http.StatusOK, adapter.NewLegacyResponse(resp))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Health(r.Context()))
}

func (h *Handler) algorithms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"algorithms": h.service.Algorithms(),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

func (h *Handler) auditSearch(w http.ResponseWriter, r *http.Request) {
	audit := h.service.Audit()
	if !audit.Enabled() {
		sendErrorResponse(w, "Audit trail is not enabled", http.StatusServiceUnavailable)
		return
	}

	var filter AuditFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entries, err := audit.Search(r.Context(), filter)
	if err != nil {
		sendErrorResponse(w, "Audit search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(entries),
		"decisions": entries,
	})
}

// recoveryMiddleware turns panics into 500 responses.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[MATCH_ORCHESTRATOR] panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				sendErrorResponse(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, errorResponse{Success: false, Error: message})
}

func sendValidationError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Success: false,
		Error:   ve.Error(),
		Errors:  ve.Errors,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
