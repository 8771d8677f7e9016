// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/params"
)

// Version information, set at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "rigchat",
		Short: "Chat with local and cloud language models",
		Long: `rigchat talks to a local Ollama server and optional cloud providers.
It keeps a separate conversation per model, falls back to the default model
when the requested one is unavailable, and can send one prompt to several
models in turn (multishot).`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Reason: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&app.ConfigPath, "config", "", "Config file (default ~/.rigchat/config.toml)")
	pf.StringVarP(&app.Model, "model", "m", "", "Model to use (default from config)")
	pf.StringVarP(&app.Session, "session", "s", "", "Session to restore and save back (id, name or id prefix)")
	pf.BoolVar(&app.JSON, "json", false, "Print machine-readable JSON")
	pf.BoolVarP(&app.Verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newAskCommand(app),
		newChatCommand(app),
		newMultishotCommand(app),
		newRunCommand(app),
		newModelsCommand(app),
		newStatusCommand(app),
		newProfilesCommand(app),
		newSessionCommand(app),
		newConfigCommand(app),
	)
	return root
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	app := NewApp()
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runRoot(ctx, app, NewRootCommand(app))
}

func runRoot(ctx context.Context, app *App, root *cobra.Command) int {
	if err := root.ExecuteContext(ctx); err != nil {
		var reported *reportedError
		if errors.As(err, &reported) {
			return GetExitCode(reported.err)
		}
		w := app.Err
		if app.JSON {
			w = app.Out
		}
		DisplayError(w, err, app.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// reportedError is an error the command already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// =============================================================================
// SHARED ARGUMENT HELPERS
// =============================================================================

// readPrompt joins args, or reads stdin when there are none and stdin is
// not a terminal.
func (a *App) readPrompt(args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if f, ok := a.In.(*os.File); ok && f == os.Stdin && IsTTY() {
		return "", ErrMissingArgument("prompt", `rigchat ask "why is the sky blue?"`)
	}
	data, err := io.ReadAll(a.In)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", ErrMissingArgument("prompt", `echo "why is the sky blue?" | rigchat ask`)
	}
	return prompt, nil
}

// parseParams turns key=value flags into a parameter set. Values take the
// type of the parameter's default; list parameters split on commas.
func parseParams(m *params.Merger, pairs []string) (params.Set, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(params.Set, len(pairs))
	for _, kv := range pairs {
		key, raw, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, &UsageError{Reason: fmt.Sprintf("invalid parameter %q", kv), Example: "--param temperature=0.2"}
		}
		def, known := m.Default(key)
		if !known {
			return nil, fmt.Errorf("%w: %s", params.ErrUnknownParameter, key)
		}
		v, err := parseValue(def, strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", params.ErrInvalidValue, key, err)
		}
		out[key] = v
	}
	return out, nil
}

func parseValue(def any, raw string) (any, error) {
	switch def.(type) {
	case float64:
		return strconv.ParseFloat(raw, 64)
	case bool:
		return strconv.ParseBool(raw)
	case []string:
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return raw, nil
	}
}
