// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"errors"
	"fmt"
)

// Errors returned by the engine. Resolver, transport and parameter errors
// pass through unchanged and are matched with their own packages' helpers.
var (
	// ErrEmptyPrompt is returned before any network access when the prompt
	// is blank.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrOffline is returned when no provider can take a request.
	ErrOffline = errors.New("model server is not reachable")

	// ErrCancelled is returned by an exchange that was interrupted by Cancel,
	// by a newer exchange, or by its context.
	ErrCancelled = errors.New("exchange cancelled")

	// ErrBusy is returned when a multishot sequence is already running or
	// state is imported while an exchange is in flight.
	ErrBusy = errors.New("engine is busy")

	ErrUnknownCommand   = errors.New("unknown command")
	ErrEmptySequence    = errors.New("multishot sequence is empty")
	ErrModelUnavailable = errors.New("model is not available")
	ErrInvalidSnapshot  = errors.New("invalid state snapshot")
	ErrClosed           = errors.New("engine closed")
	ErrInvalidCommand   = errors.New("invalid command definition")
	ErrDuplicateCommand = errors.New("duplicate command")
)

// MultishotError reports the step at which a multishot sequence halted.
type MultishotError struct {
	// Index is the zero-based position of the failed step.
	Index int
	Model string
	Err   error
}

func (e *MultishotError) Error() string {
	return fmt.Sprintf("multishot halted at step %d (%s): %v", e.Index+1, e.Model, e.Err)
}

func (e *MultishotError) Unwrap() error {
	return e.Err
}
