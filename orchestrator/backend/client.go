// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package backend calls the remote scoring algorithms.
//
// Each remote algorithm is a Backend: its Adapter, its circuit Breaker and
// a Client bound to its endpoint. Every failure is returned as a *CallError
// carrying one of the sentinel errors below.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"

	"matchflow/platform/orchestrator/adapter"
	"matchflow/platform/orchestrator/match"
)

var (
	// ErrTimeout marks a call that exceeded its deadline.
	ErrTimeout = errors.New("backend timeout")

	// ErrBadStatus marks a non-2xx response.
	ErrBadStatus = errors.New("backend returned non-success status")

	// ErrMalformedPayload marks a response body that is not JSON.
	ErrMalformedPayload = adapter.ErrMalformedPayload

	// ErrNotConfigured marks an algorithm with no endpoint.
	ErrNotConfigured = errors.New("backend not configured")
)

// CallError describes a failed backend call.
type CallError struct {
	Algorithm  match.Algorithm
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend: %v (status %d)", e.Algorithm, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%s backend: %v", e.Algorithm, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Client posts a native payload and returns the raw response body.
type Client interface {
	Post(ctx context.Context, payload interface{}) ([]byte, error)
}

// HTTPClient is a Client for one algorithm endpoint.
type HTTPClient struct {
	algorithm match.Algorithm
	endpoint  string
	http      *resty.Client
}

// NewHTTPClient creates a client that POSTs JSON to endpoint with the given
// per-call timeout.
func NewHTTPClient(algorithm match.Algorithm, endpoint string, timeout time.Duration) *HTTPClient {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "matchflow-orchestrator")
	return &HTTPClient{algorithm: algorithm, endpoint: endpoint, http: client}
}

// Endpoint returns the configured URL.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Post implements Client.
func (c *HTTPClient) Post(ctx context.Context, payload interface{}) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.endpoint)
	if err != nil {
		return nil, &CallError{Algorithm: c.algorithm, Err: classify(ctx, err)}
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, &CallError{Algorithm: c.algorithm, StatusCode: code, Err: ErrBadStatus}
	}
	return resp.Body(), nil
}

// classify maps transport errors onto the sentinels. A caller cancellation
// is kept as context.Canceled so it can be told apart from a timeout.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", context.Canceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
