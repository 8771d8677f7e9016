// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"fmt"

	"github.com/jeranaias/rigchat/internal/model"
)

// Snapshot is the exported conversation state. Histories keep their
// message order.
type Snapshot struct {
	CurrentModel string                     `json:"current_model"`
	History      map[string][]model.Message `json:"history"`

	SystemPrompt string `json:"system_prompt,omitempty"`
	Suffix       string `json:"suffix,omitempty"`
	Profile      string `json:"profile,omitempty"`
}

// ExportState returns a deep copy of the conversation state.
func (e *Engine) ExportState() Snapshot {
	e.mu.Lock()
	snap := Snapshot{
		CurrentModel: e.currentModel,
		SystemPrompt: e.systemPrompt,
		Suffix:       e.suffix,
	}
	e.mu.Unlock()
	snap.History = e.store.Snapshot()
	snap.Profile = e.params.Profile()
	return snap
}

// ImportState replaces the conversation state with snap. Every history is
// validated before anything changes. A profile named in snap is applied
// when it exists.
func (e *Engine) ImportState(snap Snapshot) error {
	for id, msgs := range snap.History {
		if id == "" {
			return fmt.Errorf("%w: history with empty model id", ErrInvalidSnapshot)
		}
		for i, m := range msgs {
			if !m.Role.Valid() {
				return fmt.Errorf("%w: %s message %d has role %q", ErrInvalidSnapshot, id, i, m.Role)
			}
		}
	}

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return ErrBusy
	}
	e.currentModel = snap.CurrentModel
	e.systemPrompt = snap.SystemPrompt
	e.suffix = snap.Suffix
	e.mu.Unlock()

	e.store.Restore(snap.History)
	if snap.Profile != "" {
		if err := e.params.ApplyProfile(snap.Profile); err != nil {
			e.log.Warn("snapshot profile not applied", "profile", snap.Profile, "error", err)
		}
	}
	e.log.Debug("state imported", "models", len(snap.History), "current", snap.CurrentModel)
	return nil
}
