// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error display and exit codes for rigchat commands.
//
// Commands always return errors; Execute displays them once and maps them
// to an exit code.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/params"
	"github.com/jeranaias/rigchat/internal/router"
	"github.com/jeranaias/rigchat/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
	// ExitCancelled follows the shell convention for SIGINT.
	ExitCancelled = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError is invalid command usage.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\nExample: %s", e.Reason, e.Example)
	}
	return e.Reason
}

// NotFoundError is a named resource that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrMissingArgument creates a usage error for a missing argument.
func ErrMissingArgument(argName, example string) error {
	return &UsageError{Reason: "missing " + argName, Example: example}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		displayErrorJSON(w, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(w, DimStyle.Render(hint))
	}
}

func displayErrorJSON(w io.Writer, err error) {
	output := map[string]any{
		"success":    false,
		"error":      err.Error(),
		"error_type": errorType(err),
		"exit_code":  GetExitCode(err),
	}
	var choice *router.ChoiceRequiredError
	if errors.As(err, &choice) {
		output["requested"] = choice.Requested
		output["available"] = choice.Available
	}
	var halt *engine.MultishotError
	if errors.As(err, &halt) {
		output["step"] = halt.Index + 1
		output["model"] = halt.Model
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output)
}

func errorType(err error) string {
	var (
		usage    *UsageError
		notFound *NotFoundError
		halt     *engine.MultishotError
	)
	switch {
	case errors.As(err, &halt):
		return "multishot_halted"
	case errors.As(err, &usage):
		return "usage_error"
	case errors.As(err, &notFound), errors.Is(err, session.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, router.ErrChoiceRequired):
		return "choice_required"
	case errors.Is(err, router.ErrNoModelsAvailable):
		return "no_models_available"
	case errors.Is(err, engine.ErrCancelled):
		return "cancelled"
	case errors.Is(err, engine.ErrOffline), ollama.IsConnectionError(err):
		return "connection_error"
	case errors.Is(err, ollama.ErrStreamCorrupt):
		return "stream_corrupt"
	default:
		return "error"
	}
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, engine.ErrOffline), ollama.IsNotRunning(err):
		return "Is the model server running? Start it with: ollama serve"
	case errors.Is(err, router.ErrChoiceRequired):
		return "Pick one with --model, or list them with: rigchat models"
	case errors.Is(err, router.ErrNoModelsAvailable):
		return "Pull a model first, e.g.: ollama pull llama3.2"
	default:
		return ""
	}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the exit code for err.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		usage    *UsageError
		notFound *NotFoundError
		cfgErrs  config.ValidateErrors
	)
	switch {
	case errors.Is(err, engine.ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.As(err, &usage),
		errors.Is(err, engine.ErrEmptyPrompt),
		errors.Is(err, engine.ErrEmptySequence),
		errors.Is(err, engine.ErrUnknownCommand),
		errors.Is(err, params.ErrUnknownParameter),
		errors.Is(err, params.ErrInvalidValue),
		errors.Is(err, router.ErrChoiceRequired):
		return ExitUsageError
	case errors.As(err, &cfgErrs):
		return ExitConfigError
	case errors.As(err, &notFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, params.ErrProfileNotFound),
		errors.Is(err, router.ErrNoModelsAvailable),
		errors.Is(err, engine.ErrModelUnavailable),
		ollama.IsModelNotFound(err):
		return ExitNotFoundError
	case errors.Is(err, ollama.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.Is(err, engine.ErrOffline), ollama.IsConnectionError(err):
		return ExitNetworkError
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "config") {
		return ExitConfigError
	}
	return ExitGeneralError
}
