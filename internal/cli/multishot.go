// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/engine"
)

func newMultishotCommand(app *App) *cobra.Command {
	var (
		flags  exchangeFlags
		models []string
	)
	cmd := &cobra.Command{
		Use:     "multishot --models a,b,c [prompt...]",
		Aliases: []string{"ms"},
		Short:   "Send one prompt to several models in turn",
		Long: `Send the same prompt to each model in order, one at a time. Each answer
is captured in a register (a, b, c, ...) and recorded in that model's
history. The sequence stops at the first model that fails.`,
		Example: `  rigchat multishot --models llama3.2,mistral,claude:claude-sonnet-4-5 "explain monads"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(models) == 0 {
				return ErrMissingArgument("--models", "rigchat multishot --models llama3.2,mistral \"hello\"")
			}
			prompt, err := app.readPrompt(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, restore, err := app.prepareExchange(ctx, &flags)
			if err != nil {
				return err
			}

			res, runErr := eng.StartMultishot(ctx, prompt, models)
			restore()
			if res == nil {
				return runErr
			}
			if !flags.noSave {
				if err := app.SaveSession(); err != nil {
					return err
				}
			}
			return app.printMultishot(prompt, res, runErr, &flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&models, "models", nil, "Models to query, in order (comma separated)")
	return cmd
}

func (a *App) printMultishot(prompt string, res *engine.MultishotResult, runErr error, f *exchangeFlags) error {
	var halt *engine.MultishotError
	errors.As(runErr, &halt)

	if a.JSON {
		data := MultishotData{RunID: res.RunID, Prompt: prompt, Registers: []RegisterData{}}
		for _, r := range res.Registers {
			data.Registers = append(data.Registers, RegisterData{
				Register:        r.Key,
				Model:           r.Model,
				Response:        r.Content,
				Tokens:          r.Stats.Tokens,
				TokensPerSecond: r.Stats.TokensPerSecond,
			})
		}
		resp := NewJSONResponse("multishot", data)
		if runErr != nil {
			msg := runErr.Error()
			resp.Success = false
			resp.Error = &msg
			if halt != nil {
				data.HaltedAt = halt.Index + 1
				data.Error = halt.Err.Error()
				resp.Data = data
			}
		}
		if err := resp.Print(a.Out); err != nil {
			return err
		}
		if runErr != nil {
			return &reportedError{err: runErr}
		}
		return nil
	}

	if f.noStream {
		for _, r := range res.Registers {
			fmt.Fprintf(a.Out, "%s %s\n", InfoStyle.Render("["+r.Key+"]"), RenderModel(r.Model))
			a.displayResponse(r.Content)
		}
	}
	if f.stats || a.Verbose {
		for _, r := range res.Registers {
			line := formatStats(&engine.Result{Model: r.Model, Stats: r.Stats})
			fmt.Fprintln(a.Err, DimStyle.Render("["+r.Key+"] "+line))
		}
	}
	return runErr
}
