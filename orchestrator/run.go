// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter builds the HTTP handler for service, including CORS and panic
// recovery.
func NewRouter(service *Service) http.Handler {
	r := mux.NewRouter()
	NewHandler(service).RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return recoveryMiddleware(c.Handler(r))
}

// Run starts the match orchestrator and blocks until SIGINT or SIGTERM.
//
// Environment variables used:
//   - MATCH_CONFIG_PATH: optional YAML configuration file
//   - PORT: HTTP server port (default: 8085)
//   - REDIS_URL: shared cache tier (optional)
//   - DATABASE_URL: PostgreSQL decision audit trail (optional)
//   - ML_MATCHER_URL, SMART_MATCHER_URL, ENHANCED_MATCHER_URL,
//     SEMANTIC_MATCHER_URL: remote algorithm endpoints (optional)
func Run() {
	log.Println("Starting MatchFlow Orchestrator...")

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	service, err := NewService(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           NewRouter(service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("MatchFlow Orchestrator listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down MatchFlow Orchestrator...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := service.Close(); err != nil {
		log.Printf("Service close error: %v", err)
	}
}
