// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/rigchat/internal/params"
)

// TextPlaceholder is replaced by the caller's text in prompt templates.
const TextPlaceholder = "{{text}}"

// ActionKind selects how a command runs.
type ActionKind string

const (
	// ActionBuiltin runs an engine operation from the dispatch table.
	ActionBuiltin ActionKind = "builtin"
	// ActionSendWithPrompt sends the rendered prompt template.
	ActionSendWithPrompt ActionKind = "send"
)

// Builtin names an engine operation a command can trigger.
type Builtin string

const (
	BuiltinClearHistory    Builtin = "clear-history"
	BuiltinClearAll        Builtin = "clear-all"
	BuiltinCancel          Builtin = "cancel"
	BuiltinResetParameters Builtin = "reset-parameters"
	BuiltinRefreshModels   Builtin = "refresh-models"
	BuiltinToggleHistory   Builtin = "toggle-history"
)

// Action is what a command does.
type Action struct {
	Kind    ActionKind
	Builtin Builtin
}

// Command is a named, data-only command definition.
type Command struct {
	ID          string
	Key         string
	Description string

	// Model overrides the current model for this command.
	Model string
	// PromptTemplate may contain TextPlaceholder. An empty template sends
	// the caller's text as is.
	PromptTemplate string
	// SystemPrompt replaces the engine's system prompt for this exchange.
	SystemPrompt string
	// Parameters apply for this exchange only.
	Parameters params.Set

	Action Action
}

// Render builds the prompt for text.
func (c Command) Render(text string) string {
	switch {
	case c.PromptTemplate == "":
		return text
	case strings.Contains(c.PromptTemplate, TextPlaceholder):
		return strings.ReplaceAll(c.PromptTemplate, TextPlaceholder, text)
	case strings.TrimSpace(text) == "":
		return c.PromptTemplate
	default:
		return c.PromptTemplate + "\n\n" + text
	}
}

// Validate checks the definition.
func (c Command) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCommand)
	}
	switch c.Action.Kind {
	case ActionBuiltin:
		if _, ok := builtins[c.Action.Builtin]; !ok {
			return fmt.Errorf("%w: %s: unknown builtin %q", ErrInvalidCommand, c.ID, c.Action.Builtin)
		}
	case ActionSendWithPrompt:
	default:
		return fmt.Errorf("%w: %s: unknown action %q", ErrInvalidCommand, c.ID, c.Action.Kind)
	}
	return nil
}

// =============================================================================
// DISPATCH TABLE
// =============================================================================

type builtinFunc func(ctx context.Context, e *Engine) error

var builtins = map[Builtin]builtinFunc{
	BuiltinClearHistory: func(_ context.Context, e *Engine) error {
		e.ClearHistory("")
		return nil
	},
	BuiltinClearAll: func(_ context.Context, e *Engine) error {
		e.ClearAllHistory()
		return nil
	},
	BuiltinCancel: func(_ context.Context, e *Engine) error {
		e.Cancel()
		return nil
	},
	BuiltinResetParameters: func(_ context.Context, e *Engine) error {
		e.params.Reset()
		return nil
	},
	BuiltinRefreshModels: func(ctx context.Context, e *Engine) error {
		e.RefreshModels(ctx)
		return nil
	},
	BuiltinToggleHistory: func(_ context.Context, e *Engine) error {
		e.mu.Lock()
		e.historyEnabled = !e.historyEnabled
		e.mu.Unlock()
		return nil
	},
}

// DefaultCommands returns the built-in command set.
func DefaultCommands() []Command {
	return []Command{
		{ID: "clear-history", Key: "c", Description: "Clear the current model's history", Action: Action{Kind: ActionBuiltin, Builtin: BuiltinClearHistory}},
		{ID: "clear-all", Key: "C", Description: "Clear every model's history", Action: Action{Kind: ActionBuiltin, Builtin: BuiltinClearAll}},
		{ID: "cancel", Key: "k", Description: "Cancel the exchange in flight", Action: Action{Kind: ActionBuiltin, Builtin: BuiltinCancel}},
		{ID: "reset-parameters", Key: "0", Description: "Reset parameters to defaults", Action: Action{Kind: ActionBuiltin, Builtin: BuiltinResetParameters}},
		{ID: "refresh-models", Key: "r", Description: "Refresh the model list", Action: Action{Kind: ActionBuiltin, Builtin: BuiltinRefreshModels}},
		{ID: "toggle-history", Key: "H", Description: "Toggle conversation history", Action: Action{Kind: ActionBuiltin, Builtin: BuiltinToggleHistory}},
		{
			ID:             "proofread",
			Key:            "p",
			Description:    "Proofread text",
			PromptTemplate: "Proofread the following text and return a corrected version:\n\n" + TextPlaceholder,
			Parameters:     params.Set{"temperature": 0.2},
			Action:         Action{Kind: ActionSendWithPrompt},
		},
		{
			ID:             "summarize",
			Key:            "s",
			Description:    "Summarize text",
			PromptTemplate: "Summarize the following:\n\n" + TextPlaceholder,
			Action:         Action{Kind: ActionSendWithPrompt},
		},
		{
			ID:             "explain-code",
			Key:            "e",
			Description:    "Explain code",
			PromptTemplate: "Explain what this code does:\n\n" + TextPlaceholder,
			SystemPrompt:   "You are a senior software engineer. Be precise and concise.",
			Action:         Action{Kind: ActionSendWithPrompt},
		},
		{
			ID:             "git-commit",
			Key:            "g",
			Description:    "Write a commit message for a diff",
			PromptTemplate: "Write a concise git commit message for this diff:\n\n" + TextPlaceholder,
			Parameters:     params.Set{"temperature": 0.3},
			Action:         Action{Kind: ActionSendWithPrompt},
		},
	}
}

// SetCommands installs DefaultCommands followed by extra. A command in
// extra with the same ID as a default replaces it. Keys must be unique.
func (e *Engine) SetCommands(extra []Command) error {
	byID := make(map[string]Command)
	var order []string
	for _, c := range append(DefaultCommands(), extra...) {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, seen := byID[c.ID]; !seen {
			order = append(order, c.ID)
		}
		byID[c.ID] = c
	}

	keys := make(map[string]string)
	for _, id := range order {
		k := byID[id].Key
		if k == "" {
			continue
		}
		if other, dup := keys[k]; dup {
			return fmt.Errorf("%w: key %q used by %s and %s", ErrDuplicateCommand, k, other, id)
		}
		keys[k] = id
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = byID
	e.commandOrder = order
	return nil
}

// Commands returns the installed commands in definition order.
func (e *Engine) Commands() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Command, 0, len(e.commandOrder))
	for _, id := range e.commandOrder {
		out = append(out, e.commands[id])
	}
	return out
}

// Command looks a command up by ID, then by key.
func (e *Engine) Command(name string) (Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.commands[name]; ok {
		return c, true
	}
	for _, id := range e.commandOrder {
		if c := e.commands[id]; c.Key != "" && c.Key == name {
			return c, true
		}
	}
	return Command{}, false
}

// ExecuteCommand runs the command named by ID or key. text fills the prompt
// template of send commands and is ignored by builtins, which return a nil
// Result.
func (e *Engine) ExecuteCommand(ctx context.Context, name, text string) (*Result, error) {
	cmd, ok := e.Command(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	e.log.Debug("executing command", "id", cmd.ID, "action", cmd.Action.Kind)

	switch cmd.Action.Kind {
	case ActionBuiltin:
		return nil, builtins[cmd.Action.Builtin](ctx, e)
	case ActionSendWithPrompt:
		opts := sendOptions{model: cmd.Model, params: cmd.Parameters}
		if cmd.SystemPrompt != "" {
			system := cmd.SystemPrompt
			opts.system = &system
		}
		return e.send(ctx, cmd.Render(text), opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}
