// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package orchestrator provides the MatchFlow Orchestrator service, which
decides which matching algorithm scores a candidate against a set of job
offers and keeps serving when the algorithm backends do not.

# Overview

Every match request goes through one pipeline:

	Request → Cache → Context Analyzer → Algorithm Selector → Fallback Executor → Cache store → Audit

The Context Analyzer derives a feature record from the candidate
(questionnaire completeness, location constraints, seniority, skill
complexity). The Algorithm Selector maps that record and the current
circuit states to one algorithm and a human-readable reason. The Fallback
Executor tries the selected algorithm and then the fixed hierarchy

	ml → enhanced → smart → semantic → basic

skipping algorithms whose circuit is OPEN. basic runs in-process and
cannot fail, so a request that passes validation always receives results
unless the caller goes away first.

# Caching

Responses are cached in two tiers (package cache): an in-process LRU and
an optional Redis tier shared between replicas. The TTL of an entry is
scaled by the algorithm used and the shape of the request. Concurrent
identical misses share one pipeline run.

# Observability

  - GET /health: aggregate status, algorithms, circuits and cache tiers
  - GET /metrics: Prometheus series prefixed matchflow_
  - GET /api/v2/stats: request counts and latency percentiles
  - POST /api/v2/audit/search: decision audit trail (Postgres)

# Configuration

See Config and LoadConfig. Every setting has a working default; no remote
algorithm is deployed until its URL is configured.
*/
package orchestrator
