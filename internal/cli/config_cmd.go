// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/config"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration file",
		Long: `Show and edit ~/.rigchat/config.toml (or --config). Environment
variables such as RIGCHAT_MODEL and OLLAMA_HOST override the file; 'config
show' prints the effective values with API keys redacted.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := app.Config()
				if err != nil {
					return err
				}
				if app.JSON {
					return NewJSONResponse("config show", json.RawMessage(cfg.String())).Print(app.Out)
				}
				fmt.Fprintln(app.Out, cfg.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				path, err := app.configPath()
				if err != nil {
					return err
				}
				if app.JSON {
					return NewJSONResponse("config path", map[string]string{"path": path}).Print(app.Out)
				}
				fmt.Fprintln(app.Out, path)
				return nil
			},
		},
		&cobra.Command{
			Use:     "get <key>",
			Short:   "Print one effective value",
			Example: "  rigchat config get server.url",
			Args:    cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				cfg, err := app.Config()
				if err != nil {
					return err
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return &UsageError{Reason: err.Error()}
				}
				if app.JSON {
					return NewJSONResponse("config get", map[string]any{"key": args[0], "value": v}).Print(app.Out)
				}
				fmt.Fprintln(app.Out, v)
				return nil
			},
		},
		&cobra.Command{
			Use:     "set <key> <value>",
			Short:   "Set one value in the configuration file",
			Example: "  rigchat config set history.max_pairs 20",
			Args:    cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				path, err := app.configPath()
				if err != nil {
					return err
				}
				// Edit the file alone so environment values are not written back.
				cfg, err := config.LoadFile(path)
				if err != nil {
					return err
				}
				if err := cfg.Set(args[0], args[1]); err != nil {
					return &UsageError{Reason: err.Error()}
				}
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
				if err := config.SaveTOML(cfg, path); err != nil {
					return err
				}
				if app.JSON {
					return NewJSONResponse("config set", map[string]string{"key": args[0], "value": args[1]}).Print(app.Out)
				}
				fmt.Fprintf(app.Out, "%s %s = %s\n", SuccessStyle.Render("[OK]"), args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				path, err := app.configPath()
				if err != nil {
					return err
				}
				if _, err := app.Config(); err != nil {
					return err
				}
				if app.JSON {
					return NewJSONResponse("config validate", map[string]any{"path": path, "valid": true}).Print(app.Out)
				}
				fmt.Fprintf(app.Out, "%s %s\n", SuccessStyle.Render("[OK]"), path)
				return nil
			},
		},
		newConfigInitCommand(app),
	)
	return cmd
}

func newConfigInitCommand(app *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := app.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{Reason: "config file already exists: " + path, Example: "rigchat config init --force"}
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			if app.JSON {
				return NewJSONResponse("config init", map[string]string{"path": path}).Print(app.Out)
			}
			fmt.Fprintf(app.Out, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
