// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package adapter converts between the canonical match request/result shape
// and the native payloads of each remote scoring backend.
//
// Adapters are stateless. Encoding never fails for a valid canonical
// request. Decoding is lenient: missing or mistyped fields become zero
// scores, scores reported on a 0-100 scale are rescaled, and everything is
// clamped into [0, 1]. A body that is not JSON, or that carries no result
// list (an error envelope such as {"error": "..."}), is rejected.
package adapter

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"matchflow/platform/orchestrator/match"
)

// ErrMalformedPayload is returned when a backend body is not valid JSON or
// has no result list.
var ErrMalformedPayload = errors.New("malformed backend payload")

// Adapter translates for one backend.
type Adapter interface {
	// Algorithm is the algorithm the adapter serves.
	Algorithm() match.Algorithm

	// EncodeRequest returns the backend's native request body.
	EncodeRequest(req *match.Request) interface{}

	// DecodeResponse converts a native response body to canonical results,
	// sorted by descending score.
	DecodeResponse(body []byte) ([]match.Result, error)
}

// For returns the adapter for a remote algorithm.
func For(algorithm match.Algorithm) (Adapter, bool) {
	switch algorithm {
	case match.AlgorithmML:
		return MLAdapter{}, true
	case match.AlgorithmSmart:
		return SmartAdapter{}, true
	case match.AlgorithmEnhanced:
		return EnhancedAdapter{}, true
	case match.AlgorithmSemantic:
		return SemanticAdapter{}, true
	default:
		return nil, false
	}
}

// Score converts a backend score to [0, 1]. Values above 1 are taken to be
// percentages.
func Score(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return match.Clamp01(v)
}

// parseBody validates body and returns the list found under the first
// matching key, or the body itself when it is a top-level array. An empty
// list is a valid answer; a missing one is not.
func parseBody(body []byte, listKeys ...string) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedPayload
	}
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root.Array(), nil
	}
	if root.IsObject() {
		for _, k := range listKeys {
			if v := root.Get(k); v.IsArray() {
				return v.Array(), nil
			}
		}
	}
	if msg := firstOf(root, "error", "detail", "message"); msg.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, msg.String())
	}
	return nil, fmt.Errorf("%w: no result list", ErrMalformedPayload)
}

func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		return []string{}
	}
	out := make([]string, 0, len(v.Array()))
	for _, s := range v.Array() {
		if str := s.String(); str != "" {
			out = append(out, str)
		}
	}
	return out
}

// firstOf returns the first present value among paths.
func firstOf(v gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// finish normalizes and orders decoded results. Entries without an offer
// id cannot be attributed and are dropped.
func finish(results []match.Result) []match.Result {
	out := results[:0]
	for _, r := range results {
		if r.OfferID == "" {
			continue
		}
		r.Normalize()
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
