// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// REF TESTS
// =============================================================================

func TestParseRef(t *testing.T) {
	tests := []struct {
		in       string
		provider ProviderID
		name     string
	}{
		{"llama3.2:3b", ProviderLocal, "llama3.2:3b"},
		{"mistral", ProviderLocal, "mistral"},
		{"claude:claude-3-5-haiku-latest", ProviderAnthropic, "claude-3-5-haiku-latest"},
		{"openai:gpt-4o-mini", ProviderOpenAI, "gpt-4o-mini"},
		{"gemini:gemini-2.0-flash", ProviderGemini, "gemini-2.0-flash"},
		{"openrouter:meta-llama/llama-3.1-8b-instruct:free", ProviderOpenRouter, "meta-llama/llama-3.1-8b-instruct:free"},
		{"claude:", ProviderLocal, "claude:"},
		{"  qwen2.5:7b  ", ProviderLocal, "qwen2.5:7b"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			ref := ParseRef(tc.in)
			assert.Equal(t, tc.provider, ref.Provider)
			assert.Equal(t, tc.name, ref.Name)
		})
	}
}

func TestRef_StringRoundTrip(t *testing.T) {
	for _, id := range []string{"llama3.2:3b", "claude:claude-3-opus", "openrouter:x/y:free"} {
		assert.Equal(t, id, ParseRef(id).String())
	}
	assert.True(t, Ref{}.IsZero())
}

func TestColorFor_Deterministic(t *testing.T) {
	assert.Equal(t, ColorFor("llama3.2:3b"), ColorFor("llama3.2:3b"))
	assert.Contains(t, palette, ColorFor("anything"))

	m := NewModel("claude:claude-3-5-haiku-latest", true)
	assert.Equal(t, ProviderAnthropic, m.Ref.Provider)
	assert.Equal(t, ColorFor(m.ID), m.Color)
}

func TestRole(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("tool").Valid())
	assert.Equal(t, "You", RoleUser.DisplayName())
}

// =============================================================================
// CONVERSATION STORE TESTS
// =============================================================================

func TestConversationStore_TruncationBound(t *testing.T) {
	s := NewConversationStore(3)

	for i := 0; i < 25; i++ {
		s.Append("m", RoleUser, fmt.Sprintf("msg %d", i))
		require.LessOrEqual(t, s.Len("m"), 6)
	}

	got := s.Get("m")
	require.Len(t, got, 6)
	assert.Equal(t, "msg 19", got[0].Content, "oldest entries are dropped first")
	assert.Equal(t, "msg 24", got[5].Content)
}

func TestConversationStore_AppendPair(t *testing.T) {
	s := NewConversationStore(0)
	assert.Equal(t, DefaultMaxPairs, s.MaxPairs())

	s.AppendPair("m", "question", "answer")

	got := s.Get("m")
	require.Len(t, got, 2)
	assert.Equal(t, NewUserMessage("question"), got[0])
	assert.Equal(t, NewAssistantMessage("answer"), got[1])
}

func TestConversationStore_Isolation(t *testing.T) {
	s := NewConversationStore(10)
	s.AppendPair("a", "hi a", "hello a")
	s.AppendPair("b", "hi b", "hello b")

	s.Clear("a")

	assert.Zero(t, s.Len("a"))
	assert.Equal(t, 2, s.Len("b"))
	assert.Equal(t, []string{"b"}, s.Models())
}

func TestConversationStore_GetReturnsCopy(t *testing.T) {
	s := NewConversationStore(10)
	s.AppendPair("m", "q", "a")

	got := s.Get("m")
	got[0].Content = "mutated"
	got = append([]Message{NewSystemMessage("sys")}, got...)

	assert.Equal(t, "q", s.Get("m")[0].Content)
	assert.Equal(t, 2, s.Len("m"))
	assert.Len(t, got, 3)
}

func TestConversationStore_ReplaceAndClearAll(t *testing.T) {
	s := NewConversationStore(1)

	s.Replace("m", []Message{
		NewUserMessage("1"), NewAssistantMessage("2"),
		NewUserMessage("3"), NewAssistantMessage("4"),
	})
	got := s.Get("m")
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].Content)

	s.Replace("m", nil)
	assert.Empty(t, s.Models())

	s.Append("x", RoleUser, "u")
	s.Append("y", RoleUser, "u")
	s.ClearAll()
	assert.Empty(t, s.Models())
}

func TestConversationStore_SnapshotRestore(t *testing.T) {
	s := NewConversationStore(10)
	s.AppendPair("a", "1", "2")
	s.AppendPair("a", "3", "4")
	s.AppendPair("claude:claude-3-opus", "x", "y")

	snap := s.Snapshot()
	snap["a"][0].Content = "changed"
	assert.Equal(t, "1", s.Get("a")[0].Content)

	other := NewConversationStore(10)
	other.Restore(s.Snapshot())
	assert.Equal(t, s.Snapshot(), other.Snapshot())
}

func TestConversationStore_SetMaxPairsTruncates(t *testing.T) {
	s := NewConversationStore(5)
	for i := 0; i < 5; i++ {
		s.AppendPair("m", "q", "a")
	}
	s.SetMaxPairs(2)
	assert.Equal(t, 4, s.Len("m"))
}

func TestConversationStore_Concurrent(t *testing.T) {
	s := NewConversationStore(4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m%d", i%2)
			for j := 0; j < 50; j++ {
				s.AppendPair(id, "q", "a")
				_ = s.Get(id)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range s.Models() {
		assert.LessOrEqual(t, s.Len(id), 8)
	}
}
