// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/params"
)

// =============================================================================
// MODELS
// =============================================================================

// ModelData is one row of the models listing.
type ModelData struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
	Default   bool   `json:"default"`
	Color     string `json:"color"`
	Size      int64  `json:"size,omitempty"`
}

func newModelsCommand(app *App) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"list"},
		Short:   "List models from every provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			var models []model.Model
			if refresh {
				models = eng.RefreshModels(ctx)
			} else {
				models = eng.Models(ctx)
			}
			def := eng.DefaultModel()

			if app.JSON {
				data := make([]ModelData, 0, len(models))
				for _, m := range models {
					data = append(data, ModelData{
						ID:        m.ID,
						Provider:  string(m.Ref.Provider),
						Available: m.Available,
						Default:   m.ID == def,
						Color:     string(m.Color),
						Size:      m.Size,
					})
				}
				return NewJSONResponse("models", data).Print(app.Out)
			}

			if len(models) == 0 {
				fmt.Fprintln(app.Out, WarningStyle.Render("No models available."))
				fmt.Fprintln(app.Out, DimStyle.Render("Pull one with: ollama pull llama3.2"))
				return nil
			}
			fmt.Fprintln(app.Out, TitleStyle.Render("Models"))
			for _, m := range models {
				marker := "  "
				if m.ID == def {
					marker = SuccessStyle.Render("* ")
				}
				size := ""
				if m.Size > 0 {
					size = DimStyle.Render(humanize.Bytes(uint64(m.Size)))
				}
				fmt.Fprintf(app.Out, "%s%s %s\n", marker, RenderModel(m.ID), size)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the model cache")
	return cmd
}

// =============================================================================
// STATUS
// =============================================================================

func newStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server reachability and engine state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			st := eng.Status(ctx)
			models := eng.Models(ctx)

			data := StatusData{
				State:          st.State.String(),
				ServerURL:      cfg.Server.URL,
				Reachable:      st.Reachable,
				Online:         st.Online,
				DefaultModel:   st.DefaultModel,
				CurrentModel:   st.CurrentModel,
				HistoryEnabled: st.HistoryEnabled,
				Profile:        st.Profile,
				Modified:       st.Modified,
				Providers:      []string{},
				Models:         len(models),
			}
			for _, p := range app.registry.Providers().All() {
				if p.Available(ctx) {
					data.Providers = append(data.Providers, string(p.ID()))
				}
			}
			if app.JSON {
				return NewJSONResponse("status", data).Print(app.Out)
			}

			yesNo := func(ok bool) string {
				if ok {
					return RenderStatus("ok")
				}
				return RenderStatus("fail")
			}
			current := st.CurrentModel
			if current == "" {
				current = "(default)"
			}
			profile := st.Profile
			if profile == "" {
				profile = "(none)"
			}
			fmt.Fprintln(app.Out, TitleStyle.Render("rigchat status"))
			fmt.Fprintf(app.Out, "%s%s %s\n", RenderLabel("Server"), yesNo(st.Reachable), ValueStyle.Render(cfg.Server.URL))
			fmt.Fprintf(app.Out, "%s%s\n", RenderLabel("Online"), yesNo(st.Online))
			fmt.Fprintf(app.Out, "%s%s\n", RenderLabel("Providers"), ValueStyle.Render(strings.Join(data.Providers, ", ")))
			fmt.Fprintf(app.Out, "%s%d\n", RenderLabel("Models"), data.Models)
			fmt.Fprintf(app.Out, "%s%s\n", RenderLabel("Default model"), RenderModel(st.DefaultModel))
			fmt.Fprintf(app.Out, "%s%s\n", RenderLabel("Current model"), ValueStyle.Render(current))
			fmt.Fprintf(app.Out, "%s%t\n", RenderLabel("History"), st.HistoryEnabled)
			fmt.Fprintf(app.Out, "%s%s\n", RenderLabel("Profile"), ValueStyle.Render(profile))
			if len(st.Modified) > 0 {
				fmt.Fprintf(app.Out, "%s%s\n", RenderLabel("Modified"), ValueStyle.Render(strings.Join(st.Modified, ", ")))
			}
			if app.current != nil {
				fmt.Fprintf(app.Out, "%s%s\n", RenderLabel("Session"), ValueStyle.Render(app.current.ID))
			}
			return nil
		},
	}
}

// =============================================================================
// PROFILES
// =============================================================================

// ProfileData is one parameter profile.
type ProfileData struct {
	Name       string         `json:"name"`
	Active     bool           `json:"active"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

func newProfilesCommand(app *App) *cobra.Command {
	var showParams bool
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List parameter profiles and the active parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			merger := eng.Params()
			active := merger.Profile()

			if app.JSON {
				data := []ProfileData{}
				for _, name := range merger.Profiles() {
					data = append(data, ProfileData{Name: name, Active: name == active, Parameters: cfg.Profiles[name]})
				}
				return NewJSONResponse("profiles", map[string]any{
					"profiles":   data,
					"parameters": merger.Active(),
					"modified":   merger.Modified(),
				}).Print(app.Out)
			}

			fmt.Fprintln(app.Out, TitleStyle.Render("Profiles"))
			names := merger.Profiles()
			if len(names) == 0 {
				fmt.Fprintln(app.Out, DimStyle.Render("  No profiles configured. Add [profiles.<name>] to the config file."))
			}
			for _, name := range names {
				marker := "  "
				if name == active {
					marker = SuccessStyle.Render("* ")
				}
				fmt.Fprintf(app.Out, "%s%s %s\n", marker, ValueStyle.Render(name), DimStyle.Render(formatSet(cfg.Profiles[name])))
			}
			if showParams {
				printParameters(app, merger)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showParams, "params", false, "Also show every active parameter")
	return cmd
}

func printParameters(app *App, m *params.Merger) {
	modified := make(map[string]bool)
	for _, k := range m.Modified() {
		modified[k] = true
	}
	active := m.Active()
	fmt.Fprintln(app.Out)
	fmt.Fprintln(app.Out, TitleStyle.Render("Parameters"))
	for _, k := range params.Names() {
		v, ok := active[k]
		if !ok {
			continue
		}
		line := fmt.Sprintf("%s%v", RenderLabel(k), v)
		if modified[k] {
			line += " " + WarningStyle.Render("(modified)")
		}
		fmt.Fprintln(app.Out, "  "+line)
	}
}

// formatSet renders a parameter map as sorted key=value pairs.
func formatSet(s map[string]any) string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, s[k])
	}
	return strings.Join(parts, " ")
}
