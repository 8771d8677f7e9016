// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"hash/fnv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// PROVIDER IDS
// =============================================================================

// ProviderID names the backend that serves a model.
type ProviderID string

const (
	ProviderLocal      ProviderID = "local"
	ProviderAnthropic  ProviderID = "claude"
	ProviderOpenAI     ProviderID = "openai"
	ProviderGemini     ProviderID = "gemini"
	ProviderOpenRouter ProviderID = "openrouter"
)

// cloudProviders are the providers whose ids carry a "<prefix>:" namespace.
// Local ids never do; a local tag such as "llama3.2:3b" is part of the name.
var cloudProviders = map[string]ProviderID{
	string(ProviderAnthropic):  ProviderAnthropic,
	string(ProviderOpenAI):     ProviderOpenAI,
	string(ProviderGemini):     ProviderGemini,
	string(ProviderOpenRouter): ProviderOpenRouter,
}

// IsLocal reports whether p is the local model server.
func (p ProviderID) IsLocal() bool {
	return p == ProviderLocal || p == ""
}

// =============================================================================
// REF TYPE
// =============================================================================

// Ref identifies a model together with its provider. The wire and session
// form is produced by String and read back by ParseRef.
type Ref struct {
	Provider ProviderID
	Name     string
}

// ParseRef splits a model identifier into provider and name. Identifiers
// without a known provider prefix belong to the local server.
func ParseRef(id string) Ref {
	id = strings.TrimSpace(id)
	if prefix, name, ok := strings.Cut(id, ":"); ok {
		if p, known := cloudProviders[strings.ToLower(prefix)]; known && name != "" {
			return Ref{Provider: p, Name: name}
		}
	}
	return Ref{Provider: ProviderLocal, Name: id}
}

// String returns the namespaced identifier.
func (r Ref) String() string {
	if r.Provider.IsLocal() {
		return r.Name
	}
	return string(r.Provider) + ":" + r.Name
}

// IsZero reports whether r names no model.
func (r Ref) IsZero() bool {
	return r.Name == ""
}

// =============================================================================
// MODEL TYPE
// =============================================================================

// Model is a model as presented to callers.
type Model struct {
	ID        string         `json:"id"`
	Ref       Ref            `json:"-"`
	Available bool           `json:"available"`
	Color     lipgloss.Color `json:"color"`

	// Size in bytes, local models only.
	Size int64 `json:"size,omitempty"`
}

// NewModel builds a Model from its identifier.
func NewModel(id string, available bool) Model {
	return Model{
		ID:        id,
		Ref:       ParseRef(id),
		Available: available,
		Color:     ColorFor(id),
	}
}

// palette is a set of colors that read well on both dark and light terminals.
var palette = []lipgloss.Color{
	"#FF6B6B", "#4ECDC4", "#FFD93D", "#6BCB77", "#4D96FF",
	"#C77DFF", "#FF9F1C", "#2EC4B6", "#E71D36", "#8AC926",
	"#1982C4", "#F15BB5",
}

// ColorFor returns the display color for a model id. The same id always
// maps to the same color.
func ColorFor(id string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return palette[h.Sum32()%uint32(len(palette))]
}

// IDs returns the identifiers of models, in order.
func IDs(models []Model) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids
}
