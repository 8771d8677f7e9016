// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigchat/internal/logger"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// DefaultOpenRouterURL is the base URL for the OpenRouter API.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// Error variables for common OpenRouter failures.
var (
	ErrAuthFailed          = errors.New("authentication failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIError is an error body returned by an OpenAI-compatible endpoint.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	TopK        *float64            `json:"top_k,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

// openRouterChunk is one streamed SSE data payload.
type openRouterChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// =============================================================================
// PROVIDER
// =============================================================================

// OpenRouter serves "openrouter:" models over OpenRouter's SSE endpoint.
type OpenRouter struct {
	cfg        CloudConfig
	baseURL    string
	httpClient *http.Client
	siteURL    string
	siteName   string
	log        *log.Logger
}

// NewOpenRouter creates the provider. It is available only with an API key.
func NewOpenRouter(cfg CloudConfig, l *log.Logger) *OpenRouter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	return &OpenRouter{
		cfg:     cfg,
		baseURL: baseURL,
		// No overall timeout for streaming; controlled via context.
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
		siteURL:  "https://github.com/jeranaias/rigchat",
		siteName: "rigchat",
		log:      logger.OrDiscard(l),
	}
}

// ID implements Provider.
func (o *OpenRouter) ID() model.ProviderID {
	return model.ProviderOpenRouter
}

// Available implements Provider.
func (o *OpenRouter) Available(context.Context) bool {
	return o.cfg.APIKey != ""
}

// Models implements Provider.
func (o *OpenRouter) Models(context.Context) ([]string, error) {
	return o.cfg.models("openrouter/auto"), nil
}

// setHeaders sets the required headers for OpenRouter API requests.
func (o *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if o.siteURL != "" {
		req.Header.Set("HTTP-Referer", o.siteURL)
	}
	if o.siteName != "" {
		req.Header.Set("X-Title", o.siteName)
	}
}

// OpenChat implements Provider. Suffix is not supported and ignored.
func (o *OpenRouter) OpenChat(ctx context.Context, req ChatRequest) (Stream, error) {
	system, msgs := splitSystem(req)

	body := openRouterRequest{
		Model:     req.Model.Name,
		Stream:    true,
		MaxTokens: maxTokens(req.Options, o.cfg.maxTokens()),
		Stop:      stopOption(req.Options),
	}
	if system != "" {
		body.Messages = append(body.Messages, openRouterMessage{Role: "system", Content: system})
	}
	for _, m := range msgs {
		body.Messages = append(body.Messages, openRouterMessage{Role: string(m.Role), Content: m.Content})
	}
	if t, ok := floatOption(req.Options, "temperature"); ok {
		body.Temperature = &t
	}
	if p, ok := floatOption(req.Options, "top_p"); ok {
		body.TopP = &p
	}
	if k, ok := floatOption(req.Options, "top_k"); ok {
		body.TopK = &k
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	o.setHeaders(httpReq)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifySDKError("openrouter", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		cancel()
		return nil, handleErrorResponse(resp.StatusCode, data)
	}

	return &sseStream{
		body:   resp.Body,
		reader: NewSSEReader(resp.Body),
		cancel: cancel,
		model:  req.Model.String(),
		log:    o.log,
	}, nil
}

// handleErrorResponse converts HTTP error responses to typed errors.
func handleErrorResponse(statusCode int, body []byte) error {
	apiErr := &APIError{Status: statusCode, Message: strings.TrimSpace(string(body))}
	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		if parsed.Error.Code != nil {
			apiErr.Code = fmt.Sprint(parsed.Error.Code)
		}
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAuthFailed, apiErr)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %w", ErrInsufficientCredits, apiErr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, apiErr)
	case http.StatusNotFound:
		return &ollama.ClientError{Type: ollama.ErrTypeModelNotFound, Message: apiErr.Message, Cause: apiErr}
	default:
		return &ollama.ClientError{Type: ollama.ErrTypeInvalidResponse, Message: "openrouter request failed", Cause: apiErr}
	}
}

// =============================================================================
// SSE STREAM
// =============================================================================

// sseStream reads OpenAI-style chat completion chunks from an SSE body.
type sseStream struct {
	body   io.ReadCloser
	reader *SSEReader
	cancel context.CancelFunc
	model  string
	log    *log.Logger

	final    Fragment
	finished bool
	dropped  int

	closed    atomic.Bool
	closeOnce sync.Once
}

// Next implements Stream. The terminal fragment is produced on "[DONE]", or
// at end of body when a finish_reason was already seen.
func (s *sseStream) Next() (Fragment, error) {
	for {
		if s.finished {
			return Fragment{}, io.EOF
		}
		if s.closed.Load() {
			return Fragment{}, ollama.ErrStreamClosed
		}

		_, data, err := s.reader.ReadEvent()
		if err != nil {
			if s.closed.Load() {
				return Fragment{}, ollama.ErrStreamClosed
			}
			if errors.Is(err, io.EOF) && s.final.DoneReason != "" {
				return s.finish(), nil
			}
			if errors.Is(err, io.EOF) {
				return Fragment{}, &ollama.ClientError{
					Type:    ollama.ErrTypeConnection,
					Message: "openrouter stream ended before terminal fragment",
				}
			}
			return Fragment{}, &ollama.ClientError{Type: ollama.ErrTypeConnection, Message: "openrouter stream read failed", Cause: err}
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return s.finish(), nil
		}

		var chunk openRouterChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.dropped++
			s.log.Warn("dropping malformed stream fragment", "provider", "openrouter", "error", err, "bytes", len(data))
			continue
		}

		if chunk.Usage != nil {
			s.final.PromptTokens = chunk.Usage.PromptTokens
			s.final.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if r := chunk.Choices[0].FinishReason; r != "" {
			s.final.DoneReason = r
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return Fragment{Content: content, Model: s.model}, nil
		}
	}
}

func (s *sseStream) finish() Fragment {
	s.finished = true
	f := s.final
	f.Done = true
	f.Model = s.model
	return f
}

// Close implements Stream.
func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// Dropped implements Stream.
func (s *sseStream) Dropped() int {
	return s.dropped
}
