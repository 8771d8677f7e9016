// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigchat/internal/engine"
)

var (
	markdownOnce     sync.Once
	markdownRenderer *glamour.TermRenderer
)

// getMarkdownRenderer builds the renderer on first use, wrapping at the
// terminal width. It returns nil when glamour could not be initialized.
func getMarkdownRenderer() *glamour.TermRenderer {
	markdownOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(GetTerminalWidth()),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	return markdownRenderer
}

// renderMarkdown returns content rendered for the terminal, or content
// unchanged if rendering fails.
func renderMarkdown(content string) string {
	r := getMarkdownRenderer()
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// isTerminal reports whether output goes to an interactive terminal.
func (a *App) isTerminal() bool {
	return a.Out == os.Stdout && IsStdoutTTY()
}

// displayResponse prints a complete response, rendered as markdown only on
// a terminal so piped output stays plain.
func (a *App) displayResponse(response string) {
	if a.isTerminal() {
		fmt.Fprint(a.Out, renderMarkdown(response))
		return
	}
	fmt.Fprint(a.Out, response)
	if !strings.HasSuffix(response, "\n") {
		fmt.Fprintln(a.Out)
	}
}

// =============================================================================
// EVENT PRINTER
// =============================================================================

// eventPrinter turns engine events into terminal output. Deltas go to out
// when streaming; notices always go to errOut so stdout stays clean.
type eventPrinter struct {
	out    io.Writer
	errOut io.Writer
	stream bool

	mu      sync.Mutex
	pending bool
	lastNL  bool
}

func newEventPrinter(out, errOut io.Writer, stream bool) *eventPrinter {
	return &eventPrinter{out: out, errOut: errOut, stream: stream, lastNL: true}
}

func (p *eventPrinter) handle(ev engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case engine.EventDelta:
		if !p.stream {
			return
		}
		fmt.Fprint(p.out, ev.Delta)
		p.pending = true
		p.lastNL = strings.HasSuffix(ev.Delta, "\n")

	case engine.EventFinished, engine.EventInterrupted:
		if p.pending && !p.lastNL {
			fmt.Fprintln(p.out)
		}
		p.pending = false
		p.lastNL = true
		if ev.Kind == engine.EventInterrupted && ev.Content != "" {
			fmt.Fprintln(p.errOut, WarningStyle.Render("[Interrupted]")+" partial response discarded from history")
		}

	case engine.EventModelFallback:
		fmt.Fprintf(p.errOut, "%s %s is not available, using %s\n",
			WarningStyle.Render("[Fallback]"), ev.Requested, RenderModel(ev.Model))

	case engine.EventMultishotStep:
		fmt.Fprintf(p.errOut, "%s %s\n",
			InfoStyle.Render(fmt.Sprintf("[%s %d/%d]", ev.Register, ev.Step+1, ev.Total)),
			RenderModel(ev.Model))
	}
}

// formatStats renders a one-line summary of an exchange.
func formatStats(res *engine.Result) string {
	parts := []string{res.Model, fmt.Sprintf("%d tokens", res.Stats.Tokens)}
	if res.Stats.TokensPerSecond > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", res.Stats.TokensPerSecond))
	}
	parts = append(parts, res.Stats.Elapsed.Round(time.Millisecond).String())
	if res.Stats.DroppedFragments > 0 {
		parts = append(parts, fmt.Sprintf("%d malformed skipped", res.Stats.DroppedFragments))
	}
	return strings.Join(parts, " | ")
}
