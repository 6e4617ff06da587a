// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package circuitbreaker

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// Handler exposes breaker state over HTTP.
type Handler struct {
	registry *Registry
	// resettable restricts resets to known backends; nil allows any
	// registered breaker.
	resettable func(name string) bool
}

// NewHandler creates a handler over registry.
func NewHandler(registry *Registry, resettable func(name string) bool) *Handler {
	return &Handler{registry: registry, resettable: resettable}
}

// RegisterRoutes registers circuit breaker routes with a mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v2/circuits", h.list).Methods("GET")
	r.HandleFunc("/api/v2/algorithms/{name}/reset", h.reset).Methods("POST")
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"circuit_breakers": h.registry.Snapshot(),
	})
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	// Breakers are registered under lowercase algorithm identifiers.
	name := strings.ToLower(strings.TrimSpace(mux.Vars(r)["name"]))
	if h.resettable != nil && !h.resettable(name) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "algorithm has no circuit breaker: " + name,
		})
		return
	}

	b, ok := h.registry.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "unknown algorithm: " + name,
		})
		return
	}

	b.Reset()
	log.Printf("[CIRCUIT_BREAKER] %s reset to CLOSED via API", name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"circuit": b.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
