// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/util"
)

// CommandData describes one command for --json listings.
type CommandData struct {
	ID          string         `json:"id"`
	Key         string         `json:"key,omitempty"`
	Description string         `json:"description,omitempty"`
	Action      string         `json:"action"`
	Builtin     string         `json:"builtin,omitempty"`
	Model       string         `json:"model,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func newRunCommand(app *App) *cobra.Command {
	var (
		flags exchangeFlags
		list  bool
	)
	cmd := &cobra.Command{
		Use:   "run <command> [text...]",
		Short: "Run a built-in or configured command",
		Long: `Run a command by id or key. Prompt commands fill their template with
the text, read from stdin when no text is given. Builtin commands such as
clear-history act on the --session state.`,
		Example: `  rigchat run --list
  rigchat run proofread "teh quick brown fox"
  git diff --cached | rigchat run g
  rigchat --session work run clear-history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if list {
				eng, err := app.Engine(ctx)
				if err != nil {
					return err
				}
				return app.printCommands(eng.Commands())
			}
			if len(args) == 0 {
				return ErrMissingArgument("command", "rigchat run proofread \"some text\"")
			}

			eng, restore, err := app.prepareExchange(ctx, &flags)
			if err != nil {
				return err
			}
			def, ok := eng.Command(args[0])
			if !ok {
				restore()
				return fmt.Errorf("%w: %s", engine.ErrUnknownCommand, args[0])
			}
			text := strings.Join(args[1:], " ")
			if text == "" && def.Action.Kind == engine.ActionSendWithPrompt {
				if text, err = app.readOptionalStdin(); err != nil {
					restore()
					return err
				}
			}
			if app.Model != "" {
				eng.SetModel(app.Model)
			}

			res, err := eng.ExecuteCommand(ctx, def.ID, text)
			restore()
			if err != nil {
				return err
			}
			if res == nil {
				if err := app.SaveSession(); err != nil {
					return err
				}
				if app.JSON {
					return NewJSONResponse("run", map[string]string{"command": def.ID}).Print(app.Out)
				}
				fmt.Fprintf(app.Out, "%s %s\n", SuccessStyle.Render("[OK]"), def.ID)
				return nil
			}
			return app.finishExchange("run", res, &flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List available commands")
	return cmd
}

// readOptionalStdin reads piped stdin; a terminal yields "".
func (a *App) readOptionalStdin() (string, error) {
	if f, ok := a.In.(*os.File); ok && f == os.Stdin && IsTTY() {
		return "", nil
	}
	data, err := io.ReadAll(a.In)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (a *App) printCommands(cmds []engine.Command) error {
	if a.JSON {
		data := make([]CommandData, 0, len(cmds))
		for _, c := range cmds {
			data = append(data, CommandData{
				ID:          c.ID,
				Key:         c.Key,
				Description: c.Description,
				Action:      string(c.Action.Kind),
				Builtin:     string(c.Action.Builtin),
				Model:       c.Model,
				Parameters:  c.Parameters,
			})
		}
		return NewJSONResponse("run", data).Print(a.Out)
	}

	fmt.Fprintln(a.Out, TitleStyle.Render("Commands"))
	for _, c := range cmds {
		key := c.Key
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(a.Out, "  %s %s %s\n",
			InfoStyle.Render(util.PadWidth(key, 3)),
			ValueStyle.Render(util.PadWidth(c.ID, 18)),
			DimStyle.Render(c.Description))
	}
	return nil
}
