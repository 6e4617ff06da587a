// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the MatchFlow Orchestrator service.
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8085)
//	MATCH_CONFIG_PATH - YAML configuration file (optional)
//	REDIS_URL - shared cache tier (optional)
//	DATABASE_URL - PostgreSQL decision audit trail (optional)
//	ML_MATCHER_URL, SMART_MATCHER_URL, ENHANCED_MATCHER_URL, SEMANTIC_MATCHER_URL - algorithm backends
package main

import (
	"matchflow/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
