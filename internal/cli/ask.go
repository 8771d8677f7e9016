// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/engine"
)

// exchangeFlags are shared by commands that send one exchange.
type exchangeFlags struct {
	noStream bool
	stats    bool
	noSave   bool
	system   string
	profile  string
	params   []string
}

func (f *exchangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noStream, "no-stream", false, "Print the answer when complete, rendered as markdown on a terminal")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "Print token statistics to stderr")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "Do not write the exchange back to --session")
	cmd.Flags().StringVar(&f.system, "system", "", "System prompt for this exchange")
	cmd.Flags().StringVarP(&f.profile, "profile", "p", "", "Parameter profile to apply")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "Parameter override key=value (repeatable)")
}

// prepareExchange builds the engine, applies the flags and attaches an
// event printer. The returned restore undoes --system and --param.
func (a *App) prepareExchange(ctx context.Context, f *exchangeFlags) (*engine.Engine, func(), error) {
	eng, err := a.Engine(ctx)
	if err != nil {
		return nil, nil, err
	}
	prevSystem := eng.SystemPrompt()
	if f.system != "" {
		eng.SetSystemPrompt(f.system)
	}
	if f.profile != "" {
		if err := eng.ApplyParameterProfile(f.profile); err != nil {
			return nil, nil, err
		}
	}
	overrides, err := parseParams(eng.Params(), f.params)
	if err != nil {
		return nil, nil, err
	}
	restoreParams := func() {}
	if overrides != nil {
		if restoreParams, err = eng.Params().ApplyCommandParameters(overrides); err != nil {
			return nil, nil, err
		}
	}
	restore := func() {
		restoreParams()
		eng.SetSystemPrompt(prevSystem)
	}

	printer := newEventPrinter(a.Out, a.Err, !a.JSON && !f.noStream)
	eng.SetListener(printer.handle)
	return eng, restore, nil
}

// finishExchange prints the result and saves the session.
func (a *App) finishExchange(command string, res *engine.Result, f *exchangeFlags) error {
	if !f.noSave {
		if err := a.SaveSession(); err != nil {
			return err
		}
	}
	if a.JSON {
		data := newAskData(res)
		if a.current != nil {
			data.Session = a.current.ID
		}
		return NewJSONResponse(command, data).Print(a.Out)
	}
	if f.noStream {
		a.displayResponse(res.Content)
	}
	if f.stats || a.Verbose {
		fmt.Fprintln(a.Err, DimStyle.Render(formatStats(res)))
	}
	return nil
}

func newAskCommand(app *App) *cobra.Command {
	var flags exchangeFlags
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send one prompt and print the answer",
		Long: `Send one prompt to the current model and stream the answer to stdout.
The prompt is read from stdin when no arguments are given. With --session
the conversation history of that session is used and updated.`,
		Example: `  rigchat ask "why is the sky blue?"
  rigchat ask -m mistral --param temperature=0.2 "name three primes"
  git diff | rigchat ask --system "You review code." -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := app.readPrompt(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, restore, err := app.prepareExchange(ctx, &flags)
			if err != nil {
				return err
			}
			res, err := eng.Send(ctx, prompt, app.Model)
			restore()
			if err != nil {
				return err
			}
			return app.finishExchange("ask", res, &flags)
		},
	}
	flags.register(cmd)
	return cmd
}
