// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package client is a typed HTTP client for the procsim API.
//
// # Usage
//
//	c := client.New("http://localhost:5000")
//	procs, err := c.ListProcesses(ctx, client.ListOptions{User: "alice"})
//	if err != nil {
//	    return err
//	}
//	msg, err := c.KillProcess(ctx, procs[0].PID, "alice")
//	if errors.Is(err, client.ErrForbidden) {
//	    // alice does not own it
//	}
//
// # Thread Safety
//
// A Client is safe for concurrent use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

const (
	requestIDHeader = "X-Request-ID"
	requesterHeader = "X-Requester"

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// Status sentinels. APIError unwraps to one of these when the status matches.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrServer      = errors.New("server error")
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("procsim: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("procsim: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto a sentinel.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return ErrBadRequest
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServer
	}
	return nil
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Message string `json:"message"`
}

// ListOptions filters and orders ListProcesses. Zero values are omitted.
type ListOptions struct {
	User  string
	Query string
	Sort  string
	Desc  bool
}

// Client talks to one procsim server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client for the server at baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Processes
// =============================================================================

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil, &out)
	return out, err
}

// ListProcesses calls GET /processes.
func (c *Client) ListProcesses(ctx context.Context, opts ListOptions) ([]datatypes.ProcessRecord, error) {
	q := url.Values{}
	if opts.User != "" {
		q.Set("user", opts.User)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Desc {
		q.Set("order", "desc")
	}
	var out []datatypes.ProcessRecord
	err := c.do(ctx, http.MethodGet, "/processes", q, nil, nil, &out)
	return out, err
}

// GetProcess calls GET /processes/:pid.
func (c *Client) GetProcess(ctx context.Context, pid int) (datatypes.ProcessRecord, error) {
	var out datatypes.ProcessRecord
	err := c.do(ctx, http.MethodGet, "/processes/"+strconv.Itoa(pid), nil, nil, nil, &out)
	return out, err
}

// KillProcess calls POST /processes/:pid/kill as requester. An empty
// requester is unrestricted. Returns the server's confirmation message.
func (c *Client) KillProcess(ctx context.Context, pid int, requester string) (string, error) {
	var headers http.Header
	if requester != "" {
		headers = http.Header{requesterHeader: []string{requester}}
	}
	var out datatypes.MessageResponse
	err := c.do(ctx, http.MethodPost, "/processes/"+strconv.Itoa(pid)+"/kill", nil, headers, nil, &out)
	return out.Message, err
}

// Stats calls GET /stats.
func (c *Client) Stats(ctx context.Context) (datatypes.AggregateStats, error) {
	var out datatypes.AggregateStats
	err := c.do(ctx, http.MethodGet, "/stats", nil, nil, nil, &out)
	return out, err
}

// =============================================================================
// Simulation
// =============================================================================

// StartSimulation calls POST /mock/start. A non-positive interval uses the
// server default.
func (c *Client) StartSimulation(ctx context.Context, interval time.Duration) (datatypes.SimulationStatus, error) {
	q := url.Values{}
	if interval > 0 {
		q.Set("ms", strconv.FormatInt(interval.Milliseconds(), 10))
	}
	var out datatypes.SimulationStatus
	err := c.do(ctx, http.MethodPost, "/mock/start", q, nil, nil, &out)
	return out, err
}

// StopSimulation calls POST /mock/stop.
func (c *Client) StopSimulation(ctx context.Context) (datatypes.SimulationStatus, error) {
	var out datatypes.SimulationStatus
	err := c.do(ctx, http.MethodPost, "/mock/stop", nil, nil, nil, &out)
	return out, err
}

// SimulationStatus calls GET /mock/status.
func (c *Client) SimulationStatus(ctx context.Context) (datatypes.SimulationStatus, error) {
	var out datatypes.SimulationStatus
	err := c.do(ctx, http.MethodGet, "/mock/status", nil, nil, nil, &out)
	return out, err
}

// ResetPopulation calls POST /mock/reset. A negative count uses the server
// default.
func (c *Client) ResetPopulation(ctx context.Context, count int) (datatypes.ResetResponse, error) {
	q := url.Values{}
	if count >= 0 {
		q.Set("count", strconv.Itoa(count))
	}
	var out datatypes.ResetResponse
	err := c.do(ctx, http.MethodPost, "/mock/reset", q, nil, nil, &out)
	return out, err
}

// =============================================================================
// Snapshots and History
// =============================================================================

// CreateSnapshot calls POST /snapshots.
func (c *Client) CreateSnapshot(ctx context.Context, name, description string) (datatypes.Snapshot, error) {
	body := datatypes.CreateSnapshotRequest{Name: name, Description: description}
	var out datatypes.Snapshot
	err := c.do(ctx, http.MethodPost, "/snapshots", nil, nil, body, &out)
	return out, err
}

// ListSnapshots calls GET /snapshots. Newest first.
func (c *Client) ListSnapshots(ctx context.Context) ([]datatypes.SnapshotSummary, error) {
	var out []datatypes.SnapshotSummary
	err := c.do(ctx, http.MethodGet, "/snapshots", nil, nil, nil, &out)
	return out, err
}

// GetSnapshot calls GET /snapshots/:id.
func (c *Client) GetSnapshot(ctx context.Context, id int64) (datatypes.Snapshot, error) {
	var out datatypes.Snapshot
	err := c.do(ctx, http.MethodGet, "/snapshots/"+strconv.FormatInt(id, 10), nil, nil, nil, &out)
	return out, err
}

// SystemHistory calls GET /history/system.
func (c *Client) SystemHistory(ctx context.Context) (datatypes.SystemHistory, error) {
	var out datatypes.SystemHistory
	err := c.do(ctx, http.MethodGet, "/history/system", nil, nil, nil, &out)
	return out, err
}

// ProcessHistory calls GET /history/processes/:pid.
func (c *Client) ProcessHistory(ctx context.Context, pid int) (datatypes.ProcessHistory, error) {
	var out datatypes.ProcessHistory
	err := c.do(ctx, http.MethodGet, "/history/processes/"+strconv.Itoa(pid), nil, nil, nil, &out)
	return out, err
}

// =============================================================================
// Transport
// =============================================================================

// do sends one request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers http.Header, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.New().String())
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get(requestIDHeader),
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body datatypes.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
