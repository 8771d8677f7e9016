// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"sync"
)

// DefaultMaxPairs is the number of user/assistant pairs kept per model.
const DefaultMaxPairs = 10

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore owns the per-model conversation histories.
//
// Each model's history holds at most 2*MaxPairs messages; the oldest are
// dropped first. Histories are created on first write and removed only by
// Clear, ClearAll or Replace with an empty slice.
//
// ConversationStore is safe for concurrent use. Reads return copies.
type ConversationStore struct {
	mu       sync.RWMutex
	maxPairs int
	history  map[string][]Message
}

// NewConversationStore creates an empty store. maxPairs <= 0 uses
// DefaultMaxPairs.
func NewConversationStore(maxPairs int) *ConversationStore {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	return &ConversationStore{
		maxPairs: maxPairs,
		history:  make(map[string][]Message),
	}
}

// MaxPairs returns the configured pair limit.
func (s *ConversationStore) MaxPairs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPairs
}

// SetMaxPairs changes the pair limit and truncates every history to it.
func (s *ConversationStore) SetMaxPairs(n int) {
	if n <= 0 {
		n = DefaultMaxPairs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPairs = n
	for id, msgs := range s.history {
		s.history[id] = s.truncate(msgs)
	}
}

// Append adds one message to a model's history.
func (s *ConversationStore) Append(modelID string, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[modelID] = s.truncate(append(s.history[modelID], Message{Role: role, Content: content}))
}

// AppendPair adds a user message and its assistant reply in one step, so a
// concurrent reader sees both or neither.
func (s *ConversationStore) AppendPair(modelID, user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.history[modelID],
		Message{Role: RoleUser, Content: user},
		Message{Role: RoleAssistant, Content: assistant},
	)
	s.history[modelID] = s.truncate(msgs)
}

// Get returns a copy of a model's history, oldest first.
func (s *ConversationStore) Get(modelID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneMessages(s.history[modelID])
}

// Len returns the number of messages stored for a model.
func (s *ConversationStore) Len(modelID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history[modelID])
}

// Clear removes a model's history.
func (s *ConversationStore) Clear(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, modelID)
}

// ClearAll removes every history.
func (s *ConversationStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make(map[string][]Message)
}

// Replace sets a model's history wholesale, keeping only the newest
// messages when msgs exceeds the limit. An empty msgs clears the model.
func (s *ConversationStore) Replace(modelID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msgs) == 0 {
		delete(s.history, modelID)
		return
	}
	s.history[modelID] = s.truncate(CloneMessages(msgs))
}

// Models returns the ids that have history, sorted.
func (s *ConversationStore) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.history))
	for id := range s.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a deep copy of every history.
func (s *ConversationStore) Snapshot() map[string][]Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Message, len(s.history))
	for id, msgs := range s.history {
		out[id] = CloneMessages(msgs)
	}
	return out
}

// Restore replaces every history with the contents of snap.
func (s *ConversationStore) Restore(snap map[string][]Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make(map[string][]Message, len(snap))
	for id, msgs := range snap {
		if len(msgs) == 0 {
			continue
		}
		s.history[id] = s.truncate(CloneMessages(msgs))
	}
}

// truncate drops the oldest messages beyond the limit. Callers hold mu.
func (s *ConversationStore) truncate(msgs []Message) []Message {
	limit := 2 * s.maxPairs
	if len(msgs) <= limit {
		return msgs
	}
	// Copy so the dropped prefix does not stay reachable through the
	// backing array.
	kept := make([]Message, limit)
	copy(kept, msgs[len(msgs)-limit:])
	return kept
}
