// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import "time"

// =============================================================================
// STATES
// =============================================================================

// State is the phase of the exchange state machine.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateSending
	StateStreaming
	StateFinalizing
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventStateChanged carries the new State.
	EventStateChanged EventKind = iota
	// EventSending is emitted once the request has been built.
	EventSending
	// EventDelta carries one streamed text delta.
	EventDelta
	// EventRate carries running Stats at a fixed interval while streaming.
	EventRate
	// EventFinished carries the full Content and final Stats.
	EventFinished
	// EventInterrupted carries the partial Content and the cause in Err.
	EventInterrupted
	// EventModelFallback carries Requested and the Model used instead.
	EventModelFallback
	// EventChoiceRequired carries the Choices the caller may pick from.
	EventChoiceRequired
	// EventMultishotStep is emitted before each multishot step.
	EventMultishotStep
	// EventMultishotDone is emitted when a sequence ends; Err is set if it
	// halted.
	EventMultishotDone
)

var eventNames = map[EventKind]string{
	EventStateChanged:   "state",
	EventSending:        "sending",
	EventDelta:          "delta",
	EventRate:           "rate",
	EventFinished:       "finished",
	EventInterrupted:    "interrupted",
	EventModelFallback:  "model_fallback",
	EventChoiceRequired: "choice_required",
	EventMultishotStep:  "multishot_step",
	EventMultishotDone:  "multishot_done",
}

// String returns the event name.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a lifecycle notification. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind       EventKind
	ExchangeID string
	State      State

	Model     string
	Requested string
	Choices   []string

	Delta   string
	Content string
	Stats   Stats
	Err     error

	// Multishot progress.
	Step     int
	Total    int
	Register string
}

// Listener receives engine events.
type Listener func(Event)

// Stats describes the token throughput of an exchange.
type Stats struct {
	// Tokens counts streamed content fragments.
	Tokens  int
	Elapsed time.Duration
	// TokensPerSecond is the server-reported generation rate when known,
	// otherwise Tokens over Elapsed.
	TokensPerSecond float64

	PromptTokens     int
	CompletionTokens int
	DroppedFragments int
	DoneReason       string
}
