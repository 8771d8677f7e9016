// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Machine-readable output for --json.
package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jeranaias/rigchat/internal/engine"
)

// JSONResponse is the envelope every command prints in JSON mode.
type JSONResponse struct {
	Success bool `json:"success"`

	// Data contains the command-specific response data.
	Data any `json:"data"`

	Error *string `json:"error"`

	// Timestamp is RFC 3339 UTC.
	Timestamp string `json:"timestamp"`

	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the response to w as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// COMMAND DATA
// =============================================================================

// AskData is printed by ask and run.
type AskData struct {
	Response         string  `json:"response"`
	Model            string  `json:"model"`
	Requested        string  `json:"requested,omitempty"`
	Fallback         bool    `json:"fallback"`
	Tokens           int     `json:"tokens"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
	DurationMs       int64   `json:"duration_ms"`
	DroppedFragments int     `json:"dropped_fragments,omitempty"`
	DoneReason       string  `json:"done_reason,omitempty"`
	Session          string  `json:"session,omitempty"`
}

func newAskData(res *engine.Result) AskData {
	return AskData{
		Response:         res.Content,
		Model:            res.Model,
		Requested:        res.Requested,
		Fallback:         res.Fallback,
		Tokens:           res.Stats.Tokens,
		PromptTokens:     res.Stats.PromptTokens,
		CompletionTokens: res.Stats.CompletionTokens,
		TokensPerSecond:  res.Stats.TokensPerSecond,
		DurationMs:       res.Stats.Elapsed.Milliseconds(),
		DroppedFragments: res.Stats.DroppedFragments,
		DoneReason:       res.Stats.DoneReason,
	}
}

// RegisterData is one multishot register.
type RegisterData struct {
	Register        string  `json:"register"`
	Model           string  `json:"model"`
	Response        string  `json:"response"`
	Tokens          int     `json:"tokens"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

// MultishotData is printed by multishot.
type MultishotData struct {
	RunID     string         `json:"run_id"`
	Prompt    string         `json:"prompt"`
	Registers []RegisterData `json:"registers"`
	HaltedAt  int            `json:"halted_at,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// StatusData is printed by status.
type StatusData struct {
	State          string   `json:"state"`
	ServerURL      string   `json:"server_url"`
	Reachable      bool     `json:"reachable"`
	Online         bool     `json:"online"`
	DefaultModel   string   `json:"default_model"`
	CurrentModel   string   `json:"current_model"`
	HistoryEnabled bool     `json:"history_enabled"`
	Profile        string   `json:"profile,omitempty"`
	Modified       []string `json:"modified_parameters,omitempty"`
	Providers      []string `json:"providers"`
	Models         int      `json:"models"`
}
