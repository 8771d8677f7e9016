// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/util"
)

func newSessionCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Manage saved conversations",
		Long: `Saved sessions hold every model's conversation plus the current model,
system prompt and parameter profile. Refer to a session by id, name, unique
id prefix, or its number in 'session list'.`,
	}
	cmd.AddCommand(
		newSessionListCommand(app),
		newSessionShowCommand(app),
		newSessionNewCommand(app),
		newSessionDeleteCommand(app),
		newSessionSearchCommand(app),
	)
	return cmd
}

// findSession resolves a 1-based list number, then an id, name or prefix.
func (a *App) findSession(ref string) (*session.Session, error) {
	store, err := a.Sessions()
	if err != nil {
		return nil, err
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && len(ref) < 4 {
		return store.LoadByIndex(n - 1)
	}
	return store.Find(ref)
}

func newSessionListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := app.Sessions()
			if err != nil {
				return err
			}
			metas, err := store.List()
			if err != nil {
				return err
			}
			return app.printSessions("session list", metas)
		},
	}
}

func newSessionSearchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find sessions by name, summary or message text",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := app.Sessions()
			if err != nil {
				return err
			}
			metas, err := store.Search(args[0])
			if err != nil {
				return err
			}
			return app.printSessions("session search", metas)
		},
	}
}

func (a *App) printSessions(command string, metas []session.Meta) error {
	if a.JSON {
		if metas == nil {
			metas = []session.Meta{}
		}
		return NewJSONResponse(command, metas).Print(a.Out)
	}
	if len(metas) == 0 {
		fmt.Fprintln(a.Out, DimStyle.Render("No sessions."))
		return nil
	}
	for i, m := range metas {
		title := m.Summary
		if m.Name != "" {
			title = m.Name
		}
		fmt.Fprintf(a.Out, "%s %s %s %s\n",
			InfoStyle.Render(fmt.Sprintf("%3d", i+1)),
			DimStyle.Render(m.ID[:min(8, len(m.ID))]),
			ValueStyle.Render(util.PadWidth(title, 40)),
			DimStyle.Render(fmt.Sprintf("%d msgs, %s", m.MessageCount, m.UpdatedAt.Format("2006-01-02 15:04"))))
	}
	return nil
}

func newSessionShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Print a session as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := app.findSession(args[0])
			if err != nil {
				return err
			}
			if app.JSON {
				return NewJSONResponse("session show", sess).Print(app.Out)
			}
			app.displayResponse(sess.Markdown())
			return nil
		},
	}
}

func newSessionNewCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "new [name]",
		Short: "Create an empty session for use with --session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := app.Sessions()
			if err != nil {
				return err
			}
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			sess := &session.Session{}
			if len(args) == 1 {
				sess.Name = args[0]
			}
			sess.Snapshot.CurrentModel = cfg.DefaultModel
			sess.Snapshot.SystemPrompt = cfg.SystemPrompt
			sess.Snapshot.Suffix = cfg.Suffix
			sess.Snapshot.Profile = cfg.Profile
			if _, err := store.Save(sess); err != nil {
				return err
			}
			if app.JSON {
				return NewJSONResponse("session new", map[string]string{"id": sess.ID, "name": sess.Name}).Print(app.Out)
			}
			fmt.Fprintf(app.Out, "%s created session %s\n", SuccessStyle.Render("[OK]"), sess.ID)
			return nil
		},
	}
}

func newSessionDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session>",
		Aliases: []string{"rm"},
		Short:   "Delete a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := app.findSession(args[0])
			if err != nil {
				return err
			}
			store, err := app.Sessions()
			if err != nil {
				return err
			}
			if err := store.Delete(sess.ID); err != nil {
				return err
			}
			if app.JSON {
				return NewJSONResponse("session delete", map[string]string{"id": sess.ID}).Print(app.Out)
			}
			fmt.Fprintf(app.Out, "%s deleted session %s\n", SuccessStyle.Render("[OK]"), sess.ID)
			return nil
		},
	}
}
