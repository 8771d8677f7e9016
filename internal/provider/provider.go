// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// ErrNoProvider is returned when a model's provider is not configured.
var ErrNoProvider = errors.New("no provider configured for model")

// Fragment is one incremental piece of a streamed response. Every provider
// produces the same type as the local transport.
type Fragment = ollama.Fragment

// Stream is an open response. Next returns io.EOF after the terminal
// fragment; Close is idempotent and safe from any goroutine.
type Stream interface {
	Next() (Fragment, error)
	Close() error
	// Dropped reports how many malformed fragments were skipped.
	Dropped() int
}

// ChatRequest is a provider-neutral chat request.
type ChatRequest struct {
	Model    model.Ref
	Messages []model.Message
	System   string
	Suffix   string
	// Options holds only the parameters that differ from defaults.
	Options map[string]any
}

// Provider serves models from one backend.
type Provider interface {
	// ID is the namespace carried by this provider's model ids.
	ID() model.ProviderID
	// Available reports whether requests can be sent right now.
	Available(ctx context.Context) bool
	// Models lists model names, without the namespace prefix.
	Models(ctx context.Context) ([]string, error)
	// OpenChat starts a streaming exchange.
	OpenChat(ctx context.Context, req ChatRequest) (Stream, error)
}

// ModelInfo is a listed model with the metadata its backend reports.
type ModelInfo struct {
	Name string
	// Size in bytes, zero when unknown.
	Size int64
}

// Describer is implemented by providers that report model metadata.
type Describer interface {
	DescribeModels(ctx context.Context) ([]ModelInfo, error)
}

// DescribeModels lists p's models with metadata when p is a Describer, and
// by name alone otherwise.
func DescribeModels(ctx context.Context, p Provider) ([]ModelInfo, error) {
	if d, ok := p.(Describer); ok {
		return d.DescribeModels(ctx)
	}
	names, err := p.Models(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, ModelInfo{Name: name})
	}
	return infos, nil
}

// =============================================================================
// PROVIDER SET
// =============================================================================

// Set routes requests to providers by the tagged provider of the model ref.
// A Set is immutable once built and safe for concurrent use.
type Set struct {
	providers map[model.ProviderID]Provider
}

// NewSet builds a set. Nil providers are skipped; a later provider with the
// same ID replaces an earlier one.
func NewSet(providers ...Provider) *Set {
	s := &Set{providers: make(map[model.ProviderID]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		s.providers[p.ID()] = p
	}
	return s
}

// Get returns the provider registered under id.
func (s *Set) Get(id model.ProviderID) (Provider, bool) {
	if id == "" {
		id = model.ProviderLocal
	}
	p, ok := s.providers[id]
	return p, ok
}

// Local returns the local provider, or nil.
func (s *Set) Local() Provider {
	p, _ := s.Get(model.ProviderLocal)
	return p
}

// For returns the provider that serves ref.
func (s *Set) For(ref model.Ref) (Provider, error) {
	p, ok := s.Get(ref.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, ref)
	}
	return p, nil
}

// IsCloud reports whether ref is served by a configured non-local provider.
func (s *Set) IsCloud(ref model.Ref) bool {
	if ref.Provider.IsLocal() {
		return false
	}
	_, ok := s.Get(ref.Provider)
	return ok
}

// All returns the providers with the local one first, then by ID.
func (s *Set) All() []Provider {
	out := make([]Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].ID().IsLocal(), out[j].ID().IsLocal()
		if li != lj {
			return li
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// OpenChat dispatches req to the provider of req.Model.
func (s *Set) OpenChat(ctx context.Context, req ChatRequest) (Stream, error) {
	p, err := s.For(req.Model)
	if err != nil {
		return nil, err
	}
	return p.OpenChat(ctx, req)
}

// =============================================================================
// OPTION HELPERS
// =============================================================================

// floatOption reads a numeric option.
func floatOption(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// stopOption reads the stop sequences option.
func stopOption(opts map[string]any) []string {
	switch v := opts["stop"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// maxTokens returns num_predict when set to a positive value, else def.
func maxTokens(opts map[string]any, def int) int {
	if n, ok := floatOption(opts, "num_predict"); ok && n > 0 {
		return int(n)
	}
	return def
}

// splitSystem returns the system prompt for providers that take it out of
// band: an explicit System wins over leading system messages, which are
// removed from msgs either way.
func splitSystem(req ChatRequest) (string, []model.Message) {
	system := req.System
	msgs := make([]model.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem {
			if system == "" {
				system = m.Content
			}
			continue
		}
		msgs = append(msgs, m)
	}
	return system, msgs
}
