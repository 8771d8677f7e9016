// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/logger"
	"github.com/jeranaias/rigchat/internal/router"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI that keeps its history in historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with history navigation.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history owner-readable only.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

func defaultHistoryFile() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chat_history")
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// chatSession is the state of one interactive run.
type chatSession struct {
	app   *App
	eng   *engine.Engine
	input lineReader

	started time.Time
	queries int
	tokens  int
}

func newChatCommand(app *App) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with history and slash commands",
		Long: `Start an interactive chat. Each model keeps its own conversation.
Type /help for commands. Ctrl+C cancels a reply in progress; Ctrl+D exits.
Edits to the config file apply to the running chat.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := RequiresTTY("chat"); err != nil {
				return err
			}
			ctx := context.WithoutCancel(cmd.Context())
			if _, err := app.Engine(ctx); err != nil {
				return err
			}
			input := NewChatCLI(defaultHistoryFile())
			defer input.Close()

			if !noWatch {
				if stop := app.watchConfig(); stop != nil {
					defer stop()
				}
			}
			return app.runChat(ctx, input)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the config file when it changes")
	return cmd
}

// watchConfig starts hot reload of the config file. It returns nil when the
// file cannot be watched.
func (a *App) watchConfig() func() {
	path, err := a.configPath()
	if err != nil {
		return nil
	}
	w, err := config.Watch(path, config.DefaultDebounce, a.applyConfig, logger.New("config"))
	if err != nil {
		a.log.Debug("config watch unavailable", "path", path, "error", err)
		return nil
	}
	return func() { _ = w.Close() }
}

// runChat is the read-eval-print loop. Interrupts cancel the exchange in
// flight instead of ending the process.
func (a *App) runChat(ctx context.Context, input lineReader) error {
	eng, err := a.Engine(ctx)
	if err != nil {
		return err
	}
	if a.Model != "" {
		eng.SetModel(a.Model)
	}
	printer := newEventPrinter(a.Out, a.Err, true)
	eng.SetListener(printer.handle)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigCh:
				if eng.Cancel() {
					fmt.Fprintln(a.Err, "\n"+WarningStyle.Render("[Cancelled]"))
				}
			case <-done:
				return
			}
		}
	}()

	cs := &chatSession{app: a, eng: eng, input: input, started: time.Now()}
	cs.printWelcome()

	for {
		line, err := input.ReadInput(PromptStyle.Render(cs.promptModel() + "> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D and closed input all end the chat.
			fmt.Fprintln(a.Out)
			cs.printExitSummary()
			return a.SaveSession()
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			cs.printExitSummary()
			return a.SaveSession()
		}

		if strings.HasPrefix(line, "/") {
			cont, err := cs.handleSlashCommand(ctx, line)
			if err != nil {
				DisplayError(a.Err, err, false)
			}
			if !cont {
				cs.printExitSummary()
				return a.SaveSession()
			}
			continue
		}

		if err := cs.send(ctx, line, ""); err != nil {
			DisplayError(a.Err, err, false)
		}
	}
}

func (cs *chatSession) promptModel() string {
	if m := cs.eng.CurrentModel(); m != "" {
		return m
	}
	return cs.eng.DefaultModel()
}

// send runs one exchange. When the resolver needs a choice the user picks a
// model and the prompt is sent again to it.
func (cs *chatSession) send(ctx context.Context, prompt, modelID string) error {
	res, err := cs.eng.Send(ctx, prompt, modelID)
	var choice *router.ChoiceRequiredError
	if errors.As(err, &choice) {
		picked, ok := cs.chooseModel(choice.Available)
		if !ok {
			return nil
		}
		cs.eng.SetModel(picked)
		res, err = cs.eng.Send(ctx, prompt, picked)
	}
	if err != nil {
		if errors.Is(err, engine.ErrCancelled) {
			return nil
		}
		return err
	}
	cs.record(res)
	return cs.app.SaveSession()
}

func (cs *chatSession) record(res *engine.Result) {
	cs.queries++
	cs.tokens += res.Stats.Tokens
	if cs.app.Verbose {
		fmt.Fprintln(cs.app.Err, DimStyle.Render(formatStats(res)))
	}
}

// chooseModel asks for one of choices by number or id.
func (cs *chatSession) chooseModel(choices []string) (string, bool) {
	for i, c := range choices {
		fmt.Fprintf(cs.app.Out, "  %s %s\n", InfoStyle.Render(fmt.Sprintf("%2d", i+1)), RenderModel(c))
	}
	answer, err := cs.input.ReadInput("Choose a model (number or name, empty to skip): ")
	if err != nil {
		return "", false
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(choices) {
		return choices[n-1], true
	}
	for _, c := range choices {
		if c == answer {
			return c, true
		}
	}
	fmt.Fprintln(cs.app.Err, WarningStyle.Render("Unknown choice: "+answer))
	return "", false
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs a slash command. It returns false to end the
// chat.
func (cs *chatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	a, eng := cs.app, cs.eng

	switch strings.ToLower(command) {
	case "/", "/help", "/h", "/?":
		cs.printHelp()

	case "/quit", "/q", "/exit":
		return false, nil

	case "/clear", "/c":
		eng.ClearHistory("")
		fmt.Fprintln(a.Out, SuccessStyle.Render("[Conversation cleared]"))

	case "/clearall":
		eng.ClearAllHistory()
		fmt.Fprintln(a.Out, SuccessStyle.Render("[All conversations cleared]"))

	case "/model", "/m":
		if rest == "" {
			fmt.Fprintf(a.Out, "%s %s\n", InfoStyle.Render("[Model]"), RenderModel(cs.promptModel()))
			return true, nil
		}
		if !a.registry.IsAvailable(ctx, rest) {
			fmt.Fprintf(a.Err, "%s %s is not listed; the default model is used if it stays unavailable\n",
				WarningStyle.Render("[Warning]"), rest)
		}
		eng.SetModel(rest)
		fmt.Fprintf(a.Out, "%s switched to %s\n", SuccessStyle.Render("[OK]"), RenderModel(rest))

	case "/models":
		for _, m := range eng.Models(ctx) {
			fmt.Fprintf(a.Out, "  %s\n", RenderModel(m.ID))
		}

	case "/status", "/s":
		cs.printStatus(ctx)

	case "/history":
		cs.printHistory()

	case "/system":
		if rest == "" {
			fmt.Fprintf(a.Out, "%s %s\n", InfoStyle.Render("[System]"), eng.SystemPrompt())
			return true, nil
		}
		if rest == "-" {
			rest = ""
		}
		eng.SetSystemPrompt(rest)
		fmt.Fprintln(a.Out, SuccessStyle.Render("[System prompt updated]"))

	case "/suffix":
		if rest == "" {
			fmt.Fprintf(a.Out, "%s %s\n", InfoStyle.Render("[Suffix]"), eng.Suffix())
			return true, nil
		}
		if rest == "-" {
			rest = ""
		}
		eng.SetSuffix(rest)
		fmt.Fprintln(a.Out, SuccessStyle.Render("[Suffix updated]"))

	case "/profile":
		if rest == "" {
			fmt.Fprintf(a.Out, "%s %s (available: %s)\n", InfoStyle.Render("[Profile]"),
				eng.Params().Profile(), strings.Join(eng.Params().Profiles(), ", "))
			return true, nil
		}
		if err := eng.ApplyParameterProfile(rest); err != nil {
			return true, err
		}
		fmt.Fprintf(a.Out, "%s profile %s applied\n", SuccessStyle.Render("[OK]"), rest)

	case "/param", "/set":
		if rest == "" {
			printParameters(a, eng.Params())
			return true, nil
		}
		set, err := parseParams(eng.Params(), strings.Fields(rest))
		if err != nil {
			return true, err
		}
		for k, v := range set {
			if err := eng.Params().Set(k, v); err != nil {
				return true, err
			}
		}
		fmt.Fprintln(a.Out, SuccessStyle.Render("[Parameters updated]"))

	case "/reset":
		if _, err := eng.ExecuteCommand(ctx, string(engine.BuiltinResetParameters), ""); err != nil {
			return true, err
		}
		fmt.Fprintln(a.Out, SuccessStyle.Render("[Parameters reset]"))

	case "/history-toggle":
		eng.SetHistoryEnabled(!eng.HistoryEnabled())
		fmt.Fprintf(a.Out, "%s history %s\n", InfoStyle.Render("[History]"), onOff(eng.HistoryEnabled()))

	case "/commands":
		return true, a.printCommands(eng.Commands())

	case "/run":
		name, text, _ := strings.Cut(rest, " ")
		if name == "" {
			return true, ErrMissingArgument("command", "/run proofread some text")
		}
		res, err := eng.ExecuteCommand(ctx, name, strings.TrimSpace(text))
		if err != nil {
			if errors.Is(err, engine.ErrCancelled) {
				return true, nil
			}
			return true, err
		}
		if res == nil {
			fmt.Fprintf(a.Out, "%s %s\n", SuccessStyle.Render("[OK]"), name)
			return true, nil
		}
		cs.record(res)
		return true, a.SaveSession()

	case "/multishot", "/ms":
		list, prompt, _ := strings.Cut(rest, " ")
		if list == "" || strings.TrimSpace(prompt) == "" {
			return true, ErrMissingArgument("models and prompt", "/multishot llama3.2,mistral explain monads")
		}
		res, err := eng.StartMultishot(ctx, strings.TrimSpace(prompt), strings.Split(list, ","))
		if res != nil {
			for _, r := range res.Registers {
				cs.record(&engine.Result{Model: r.Model, Stats: r.Stats})
			}
		}
		if err != nil {
			return true, err
		}
		return true, a.SaveSession()

	case "/register", "/reg":
		if rest == "" {
			for _, r := range eng.Registers() {
				fmt.Fprintf(a.Out, "  %s %s %s\n", InfoStyle.Render("["+r.Key+"]"), RenderModel(r.Model),
					DimStyle.Render(util.TruncateRunes(oneLine(r.Content), 60)))
			}
			return true, nil
		}
		r, ok := eng.Register(rest)
		if !ok {
			return true, &NotFoundError{Resource: "register", ID: rest}
		}
		a.displayResponse(r.Content)

	case "/save":
		return true, cs.save(rest)

	case "/load":
		if rest == "" {
			return true, ErrMissingArgument("session", "/load my-session")
		}
		a.Session = rest
		if err := a.restoreSession(); err != nil {
			return true, err
		}
		fmt.Fprintf(a.Out, "%s session %s loaded\n", SuccessStyle.Render("[OK]"), a.current.ID)

	default:
		// A configured command key or id, e.g. "/p some text".
		name := strings.TrimPrefix(command, "/")
		if _, ok := eng.Command(name); ok {
			return cs.handleSlashCommand(ctx, "/run "+name+" "+rest)
		}
		return true, &UsageError{Reason: fmt.Sprintf("unknown command: %s (type /help for commands)", command)}
	}
	return true, nil
}

// save writes the conversation as the current session, or as a new one.
func (cs *chatSession) save(name string) error {
	a := cs.app
	sess := a.current
	if sess == nil {
		sess = &session.Session{}
	}
	if name != "" {
		sess.Name = name
	}
	if err := a.saveAs(sess); err != nil {
		return err
	}
	a.current = sess
	fmt.Fprintf(a.Out, "%s saved as %s\n", SuccessStyle.Render("[OK]"), sess.ID)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (cs *chatSession) printWelcome() {
	a := cs.app
	fmt.Fprintln(a.Out, TitleStyle.Render("rigchat interactive chat"))
	fmt.Fprintf(a.Out, "%s %s\n", InfoStyle.Render("Model:"), RenderModel(cs.promptModel()))
	if a.current != nil {
		fmt.Fprintf(a.Out, "%s %s (%d messages)\n", InfoStyle.Render("Session:"), a.current.ID, a.current.MessageCount())
	}
	fmt.Fprintln(a.Out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(a.Out)
}

func (cs *chatSession) printHelp() {
	commands := []struct{ cmd, desc string }{
		{"/help, /h", "Show this help"},
		{"/model [id]", "Show or switch model"},
		{"/models", "List models"},
		{"/clear, /c", "Clear this model's conversation"},
		{"/clearall", "Clear every conversation"},
		{"/history", "Show this model's conversation"},
		{"/history-toggle", "Turn history on or off"},
		{"/system [text|-]", "Show, set or clear the system prompt"},
		{"/suffix [text|-]", "Show, set or clear the suffix"},
		{"/profile [name]", "Show or apply a parameter profile"},
		{"/param [k=v ...]", "Show or set parameters"},
		{"/reset", "Reset parameters to defaults"},
		{"/commands", "List commands"},
		{"/run <cmd> [text]", "Run a command (also /<key> [text])"},
		{"/multishot a,b <prompt>", "Send a prompt to several models"},
		{"/register [key]", "Show multishot registers"},
		{"/save [name]", "Save the session"},
		{"/load <session>", "Load a session"},
		{"/status, /s", "Show status"},
		{"/quit, /q", "Exit chat"},
	}
	fmt.Fprintln(cs.app.Out, TitleStyle.Render("Available Commands"))
	for _, c := range commands {
		fmt.Fprintf(cs.app.Out, "  %s %s\n", InfoStyle.Render(util.PadWidth(c.cmd, 24)), DimStyle.Render(c.desc))
	}
	fmt.Fprintln(cs.app.Out, DimStyle.Render("Tip: Ctrl+C cancels the current reply, Ctrl+D exits"))
}

func (cs *chatSession) printStatus(ctx context.Context) {
	a, st := cs.app, cs.eng.Status(ctx)
	fmt.Fprintf(a.Out, "%s%s\n", RenderLabel("Model"), RenderModel(cs.promptModel()))
	fmt.Fprintf(a.Out, "%s%t\n", RenderLabel("Server"), st.Reachable)
	fmt.Fprintf(a.Out, "%s%s\n", RenderLabel("History"), onOff(st.HistoryEnabled))
	fmt.Fprintf(a.Out, "%s%d messages\n", RenderLabel("Conversation"), len(cs.eng.History("")))
	fmt.Fprintf(a.Out, "%s%s\n", RenderLabel("Profile"), st.Profile)
	fmt.Fprintf(a.Out, "%s%d queries, %d tokens\n", RenderLabel("This chat"), cs.queries, cs.tokens)
}

func (cs *chatSession) printHistory() {
	msgs := cs.eng.History("")
	if len(msgs) == 0 {
		fmt.Fprintln(cs.app.Out, DimStyle.Render("(no history)"))
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(cs.app.Out, "%s %s\n", InfoStyle.Render(m.Role.DisplayName()+":"), util.TruncateRunes(oneLine(m.Content), 100))
	}
}

func (cs *chatSession) printExitSummary() {
	elapsed := time.Since(cs.started).Round(time.Second)
	fmt.Fprintf(cs.app.Out, "%s %d queries, %d tokens in %s\n",
		DimStyle.Render("Session:"), cs.queries, cs.tokens, elapsed)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
