// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation data model shared by every layer.
//
// # Key Types
//
//   - Message: one turn of a conversation (role and content)
//   - Ref: a model identifier tagged with the provider that serves it
//   - Model: a model as listed to callers, with availability and display color
//   - ConversationStore: per-model bounded history
//
// # Usage
//
//	store := model.NewConversationStore(10)
//	store.AppendPair("llama3.2:3b", "Hello!", "Hi there.")
//	history := store.Get("llama3.2:3b") // a copy, safe to modify
//
//	ref := model.ParseRef("claude:claude-3-5-haiku-latest")
//	fmt.Println(ref.Provider, ref.Name) // claude claude-3-5-haiku-latest
package model
