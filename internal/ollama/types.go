// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP transport for an Ollama-compatible server.
package ollama

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message on the wire.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatRequest is the request body for the /api/chat endpoint.
// Options carries only the parameters that differ from server defaults.
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	System   string         `json:"system,omitempty"`
	Suffix   string         `json:"suffix,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ModelInfo contains information about a locally installed model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from the /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// chatLine is one newline-delimited object of a streaming chat response.
type chatLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Response           string `json:"response"` // /api/generate uses this instead of message
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	LoadDuration       int64  `json:"load_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
	Error              string `json:"error,omitempty"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// Fragment is one incremental unit of a streamed chat response.
type Fragment struct {
	// Content is the text delta carried by this fragment.
	Content string

	// Done marks the terminal fragment.
	Done       bool
	DoneReason string

	// Model as reported by the server.
	Model string

	// Statistics, only populated on the terminal fragment.
	PromptTokens     int
	CompletionTokens int
	TotalDuration    time.Duration
	EvalDuration     time.Duration
}

func (l *chatLine) fragment() Fragment {
	content := l.Message.Content
	if content == "" {
		content = l.Response
	}
	f := Fragment{
		Content:    content,
		Done:       l.Done,
		DoneReason: l.DoneReason,
		Model:      l.Model,
	}
	if l.Done {
		f.PromptTokens = l.PromptEvalCount
		f.CompletionTokens = l.EvalCount
		f.TotalDuration = time.Duration(l.TotalDuration)
		f.EvalDuration = time.Duration(l.EvalDuration)
	}
	return f
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// apiError is the error body returned by the server.
type apiError struct {
	Error string `json:"error"`
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// TokensPerSecond returns the server-measured generation speed of a terminal
// fragment, or 0 when the server did not report it.
func (f Fragment) TokensPerSecond() float64 {
	if f.EvalDuration <= 0 {
		return 0
	}
	return float64(f.CompletionTokens) / f.EvalDuration.Seconds()
}
