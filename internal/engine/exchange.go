// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/params"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/router"
	"github.com/jeranaias/rigchat/internal/util"
)

// Result is the outcome of one exchange. On interruption Content holds the
// partial reply.
type Result struct {
	ID        string
	Model     string
	Requested string
	Fallback  bool
	Prompt    string
	Content   string
	Stats     Stats
}

// sendOptions carries per-exchange settings that must not outlive it.
type sendOptions struct {
	model        string
	forceHistory bool
	// exact fails the exchange instead of falling back to another model.
	exact  bool
	system *string
	params params.Set
}

// =============================================================================
// EXCHANGE HANDLE
// =============================================================================

// exchange is the in-flight request. abort may be called from any goroutine.
type exchange struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stream  provider.Stream
	aborted bool
}

// attach records the open stream. It returns false if the exchange was
// aborted first; the caller then owns closing s.
func (x *exchange) attach(s provider.Stream) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.aborted {
		return false
	}
	x.stream = s
	return true
}

func (x *exchange) abort() {
	x.mu.Lock()
	x.aborted = true
	s := x.stream
	x.mu.Unlock()

	x.cancel()
	if s != nil {
		_ = s.Close()
	}
}

func (x *exchange) wasAborted() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.aborted
}

// begin reserves the engine for a new exchange, interrupting and waiting out
// the one in flight.
func (e *Engine) begin(ctx context.Context) (*exchange, context.Context, error) {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, nil, ErrClosed
		}
		if e.active == nil {
			xctx, cancel := context.WithCancel(ctx)
			x := &exchange{
				id:     uuid.NewString(),
				cancel: cancel,
				done:   make(chan struct{}),
			}
			e.active = x
			e.mu.Unlock()
			return x, xctx, nil
		}
		prev := e.active
		e.mu.Unlock()

		e.log.Debug("interrupting exchange in flight", "id", prev.id)
		prev.abort()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (e *Engine) end(x *exchange) {
	e.mu.Lock()
	if e.active == x {
		e.active = nil
	}
	e.mu.Unlock()
	x.cancel()
	close(x.done)
}

// Cancel interrupts the exchange in flight and halts a running multishot
// sequence, even between its steps. It reports whether there was anything
// to cancel. Partial output is kept in the returned Result and not
// committed.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	x := e.active
	stop := e.stopMultishot
	e.mu.Unlock()
	if stop != nil {
		e.log.Debug("cancelling multishot sequence")
		stop()
	}
	if x == nil {
		return stop != nil
	}
	e.log.Debug("cancelling exchange", "id", x.id)
	x.abort()
	return true
}

func (e *Engine) setState(x *exchange, s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.log.Debug("exchange state", "id", x.id, "state", s)
	e.emit(Event{Kind: EventStateChanged, ExchangeID: x.id, State: s})
}

// =============================================================================
// SEND
// =============================================================================

// Send runs one exchange with prompt. An empty modelID uses the current
// model. History is included and recorded when enabled.
func (e *Engine) Send(ctx context.Context, prompt, modelID string) (*Result, error) {
	return e.send(ctx, prompt, sendOptions{model: modelID})
}

// SendWithHistory is Send with history included and recorded regardless of
// SetHistoryEnabled.
func (e *Engine) SendWithHistory(ctx context.Context, prompt, modelID string) (*Result, error) {
	return e.send(ctx, prompt, sendOptions{model: modelID, forceHistory: true})
}

func (e *Engine) send(ctx context.Context, prompt string, opts sendOptions) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !e.registry.IsOnline(ctx) {
		return nil, ErrOffline
	}

	x, xctx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer e.end(x)

	if opts.params != nil {
		restore, err := e.params.ApplyCommandParameters(opts.params)
		if err != nil {
			return nil, err
		}
		defer restore()
	}

	return e.run(xctx, x, prompt, opts)
}

func (e *Engine) run(ctx context.Context, x *exchange, prompt string, opts sendOptions) (*Result, error) {
	e.setState(x, StateResolving)

	requested := strings.TrimSpace(opts.model)
	if requested == "" {
		requested = e.CurrentModel()
	}
	res, err := e.resolver.Resolve(ctx, requested)
	if err == nil && opts.exact && res.Fallback {
		err = fmt.Errorf("%w: %s", ErrModelUnavailable, requested)
	}
	if err != nil {
		var choice *router.ChoiceRequiredError
		if errors.As(err, &choice) {
			e.emit(Event{
				Kind:       EventChoiceRequired,
				ExchangeID: x.id,
				Requested:  choice.Requested,
				Choices:    append([]string(nil), choice.Available...),
			})
		}
		e.setState(x, StateIdle)
		return nil, err
	}
	if res.Fallback {
		e.emit(Event{Kind: EventModelFallback, ExchangeID: x.id, Requested: res.Requested, Model: res.Model})
	}

	e.mu.Lock()
	e.currentModel = res.Model
	system := e.systemPrompt
	suffix := e.suffix
	withHistory := e.historyEnabled || opts.forceHistory
	e.mu.Unlock()
	if opts.system != nil {
		system = *opts.system
	}

	var msgs []model.Message
	if withHistory {
		msgs = e.store.Get(res.Model)
	}
	msgs = append(msgs, model.NewUserMessage(prompt))

	req := provider.ChatRequest{
		Model:    model.ParseRef(res.Model),
		Messages: msgs,
		System:   system,
		Suffix:   suffix,
		Options:  e.params.GetModifiedForRequest(),
	}
	result := &Result{
		ID:        x.id,
		Model:     res.Model,
		Requested: res.Requested,
		Fallback:  res.Fallback,
		Prompt:    prompt,
	}

	e.setState(x, StateSending)
	e.emit(Event{Kind: EventSending, ExchangeID: x.id, Model: res.Model})
	e.log.Debug("sending", "id", x.id, "model", res.Model, "messages", len(msgs),
		"options", len(req.Options), "prompt", util.TruncateRunes(prompt, 60))

	stream, err := e.providers.OpenChat(ctx, req)
	if err != nil {
		return e.interrupt(ctx, x, result, err)
	}
	if !x.attach(stream) {
		_ = stream.Close()
		return e.interrupt(ctx, x, result, ErrCancelled)
	}
	defer stream.Close()

	var (
		content strings.Builder
		m       *meter
		final   provider.Fragment
	)
	for {
		frag, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = &ollama.ClientError{Type: ollama.ErrTypeConnection, Message: "stream ended before terminal fragment"}
			}
			result.Content = content.String()
			if m != nil {
				result.Stats = m.halt()
			}
			result.Stats.DroppedFragments = stream.Dropped()
			return e.interrupt(ctx, x, result, err)
		}

		if m == nil {
			m = e.startMeter(x)
			e.setState(x, StateStreaming)
		}
		if frag.Content != "" {
			content.WriteString(frag.Content)
			m.add()
			e.emit(Event{Kind: EventDelta, ExchangeID: x.id, Model: res.Model, Delta: frag.Content})
		}
		if frag.Done {
			final = frag
			break
		}
	}

	e.setState(x, StateFinalizing)
	result.Content = content.String()
	result.Stats = m.finish(final, stream.Dropped())
	if withHistory {
		e.store.AppendPair(res.Model, prompt, result.Content)
	}
	if result.Stats.DroppedFragments > 0 {
		e.log.Warn("malformed fragments skipped", "id", x.id, "model", res.Model, "dropped", result.Stats.DroppedFragments)
	}
	e.log.Debug("exchange finished", "id", x.id, "model", res.Model,
		"tokens", result.Stats.Tokens, "elapsed", result.Stats.Elapsed, "rate", result.Stats.TokensPerSecond)

	e.emit(Event{Kind: EventFinished, ExchangeID: x.id, Model: res.Model, Content: result.Content, Stats: result.Stats})
	e.setState(x, StateIdle)
	return result, nil
}

// interrupt ends an exchange without committing anything. Cancellation
// becomes ErrCancelled; transport failures pass through.
func (e *Engine) interrupt(ctx context.Context, x *exchange, result *Result, cause error) (*Result, error) {
	err := cause
	if x.wasAborted() || ctx.Err() != nil || errors.Is(cause, context.Canceled) || ollama.IsStreamClosed(cause) {
		if !errors.Is(cause, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, cause)
		}
	}

	e.setState(x, StateCancelled)
	e.log.Info("exchange interrupted", "id", x.id, "model", result.Model, "error", err)
	e.emit(Event{
		Kind:       EventInterrupted,
		ExchangeID: x.id,
		Model:      result.Model,
		Content:    result.Content,
		Stats:      result.Stats,
		Err:        err,
	})
	e.setState(x, StateIdle)
	return result, err
}

// =============================================================================
// TOKEN METER
// =============================================================================

// meter counts streamed tokens and emits EventRate on a ticker that runs
// independently of fragment arrival.
type meter struct {
	start  time.Time
	tokens atomic.Int64

	stop     chan struct{}
	stopped  chan struct{}
	haltOnce sync.Once
}

func (e *Engine) startMeter(x *exchange) *meter {
	m := &meter{
		start:   time.Now(),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go func() {
		defer close(m.stopped)
		ticker := time.NewTicker(e.rateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				e.emit(Event{Kind: EventRate, ExchangeID: x.id, Stats: m.snapshot()})
			}
		}
	}()
	return m
}

func (m *meter) add() {
	m.tokens.Add(1)
}

func (m *meter) snapshot() Stats {
	elapsed := time.Since(m.start)
	st := Stats{Tokens: int(m.tokens.Load()), Elapsed: elapsed}
	if secs := elapsed.Seconds(); secs > 0 {
		st.TokensPerSecond = float64(st.Tokens) / secs
	}
	return st
}

// halt stops the ticker and returns the running totals.
func (m *meter) halt() Stats {
	m.haltOnce.Do(func() {
		close(m.stop)
		<-m.stopped
	})
	return m.snapshot()
}

// finish halts the meter and folds in the statistics of the terminal
// fragment.
func (m *meter) finish(final provider.Fragment, dropped int) Stats {
	st := m.halt()
	st.PromptTokens = final.PromptTokens
	st.CompletionTokens = final.CompletionTokens
	st.DoneReason = final.DoneReason
	st.DroppedFragments = dropped
	if rate := final.TokensPerSecond(); rate > 0 {
		st.TokensPerSecond = rate
	}
	return st
}
