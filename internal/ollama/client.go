// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP transport for an Ollama-compatible server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigchat/internal/logger"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the transport.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any ClientError of the same Type, so the sentinels below work
// with errors.Is even when the concrete error carries a different message.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeMalformedFragment
	ErrTypeStreamCorrupt
	ErrTypeStreamClosed
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "model server is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrConnection    = &ClientError{Type: ErrTypeConnection, Message: "connection error"}
	ErrStreamCorrupt = &ClientError{Type: ErrTypeStreamCorrupt, Message: "too many malformed fragments, stream looks corrupt"}
	ErrStreamClosed  = &ClientError{Type: ErrTypeStreamClosed, Message: "stream closed"}
)

// IsConnectionError reports whether err means the connection to the server
// failed or broke: not running, timed out, dropped mid-stream or corrupt.
func IsConnectionError(err error) bool {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	switch clientErr.Type {
	case ErrTypeNotRunning, ErrTypeTimeout, ErrTypeConnection, ErrTypeStreamCorrupt:
		return true
	}
	return false
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates the server is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsStreamClosed reports whether err came from reading a closed stream.
func IsStreamClosed(err error) bool {
	return errors.Is(err, ErrStreamClosed)
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the client.
type ClientConfig struct {
	// BaseURL is the server base URL (default: http://127.0.0.1:11434)
	// Note: explicit IPv4 avoids IPv6 localhost resolution issues on Windows
	BaseURL string

	// Timeout for single-shot requests (default: 10s)
	Timeout time.Duration

	// ConnectTimeout bounds how long a streaming request may wait for
	// response headers (default: 30s). The body itself is unbounded.
	ConnectTimeout time.Duration

	// MaxConsecutiveMalformed aborts a stream after this many unparseable
	// fragments in a row (default: 8, negative disables).
	MaxConsecutiveMalformed int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:                 "http://127.0.0.1:11434",
		Timeout:                 10 * time.Second,
		ConnectTimeout:          30 * time.Second,
		MaxConsecutiveMalformed: 8,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the model server.
//
// The Client is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	log          *log.Logger
}

// NewClient creates a client. A nil config uses DefaultConfig and a nil
// logger discards output.
func NewClient(config *ClientConfig, l *log.Logger) *Client {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.MaxConsecutiveMalformed == 0 {
		config.MaxConsecutiveMalformed = defaults.MaxConsecutiveMalformed
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		// Streaming bodies may run for minutes; deadlines come from the context
		// and ResponseHeaderTimeout only.
		streamClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: config.ConnectTimeout,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		log: logger.OrDiscard(l),
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that the server is reachable.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyDoError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from server: " + resp.Status,
		}
	}
	return nil
}

// =============================================================================
// SINGLE-SHOT REQUESTS
// =============================================================================

// Do performs a synchronous request against path and decodes a JSON response
// into out (which may be nil). payload, when non-nil, is sent as JSON.
func (c *Client) Do(ctx context.Context, method, path string, payload, out any) error {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyDoError(err)
	}
	defer drainAndClose(resp.Body)

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// ListModels retrieves all models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.Do(ctx, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// =============================================================================
// STREAMING REQUESTS
// =============================================================================

// Open sends a request and returns a Stream over the raw response body.
// Framing into Fragments happens lazily as the caller calls Next.
// The returned Stream must be closed; closing it cancels the request.
func (c *Client) Open(ctx context.Context, method, path string, payload any) (*Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(streamCtx, method, path, payload)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, classifyDoError(err)
	}

	if err := checkStatus(resp); err != nil {
		drainAndClose(resp.Body)
		cancel()
		return nil, err
	}

	c.log.Debug("stream opened", "path", path, "status", resp.StatusCode)
	return newStream(resp.Body, cancel, NewFrameParser(c.config.MaxConsecutiveMalformed, c.log)), nil
}

// ChatStream opens a streaming /api/chat request. Stream is forced to true.
func (c *Client) ChatStream(ctx context.Context, request ChatRequest) (*Stream, error) {
	request.Stream = true
	return c.Open(ctx, http.MethodPost, "/api/chat", request)
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// classifyDoError maps an http.Client.Do failure onto the error taxonomy.
func classifyDoError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ClientError{Type: ErrTypeStreamClosed, Message: "request cancelled", Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "model server is not reachable", Cause: err}
}

// checkStatus turns a non-200 response into a ClientError, using the
// server's {"error": "..."} body when present.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var apiErr apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&apiErr)

	if resp.StatusCode == http.StatusNotFound {
		msg := "model not found"
		if apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &ClientError{Type: ErrTypeModelNotFound, Message: msg}
	}
	if apiErr.Error != "" {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error}
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: "request failed: " + resp.Status}
}

// drainAndClose drains the body so the connection can be reused.
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	_ = r.Close()
}
