// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigchat/internal/logger"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/params"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/registry"
	"github.com/jeranaias/rigchat/internal/router"
)

// DefaultRateInterval is how often EventRate is emitted while streaming.
const DefaultRateInterval = 500 * time.Millisecond

// Options configures a new Engine. Providers is required.
type Options struct {
	Providers *provider.Set

	// Registry is built from Providers with default settings when nil.
	Registry *registry.Registry

	// Params is built from params.Defaults when nil.
	Params *params.Merger

	DefaultModel string
	SystemPrompt string
	Suffix       string

	// MaxPairs bounds each model's history. Zero uses model.DefaultMaxPairs.
	MaxPairs int

	// DisableHistory starts the engine with history off. SendWithHistory
	// still uses and records it.
	DisableHistory bool

	RateInterval time.Duration

	// Commands extends or overrides DefaultCommands by ID.
	Commands []Command

	Listener Listener
	Logger   *log.Logger
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the caller-facing conversation API. It is safe for concurrent
// use; exchanges are serialized.
type Engine struct {
	providers    *provider.Set
	registry     *registry.Registry
	ownsRegistry bool
	resolver     *router.Resolver
	store        *model.ConversationStore
	params       *params.Merger
	rateInterval time.Duration
	log          *log.Logger

	emitMu   sync.Mutex
	listener Listener

	mu             sync.Mutex
	state          State
	active         *exchange
	currentModel   string
	systemPrompt   string
	suffix         string
	historyEnabled bool
	commands       map[string]Command
	commandOrder   []string
	registers      map[string]Register
	multishot      MultishotStatus

	// stopMultishot cancels the running sequence, nil when none runs.
	stopMultishot context.CancelFunc
	closed        bool
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Providers == nil {
		return nil, fmt.Errorf("engine: providers are required")
	}
	l := logger.OrDiscard(opts.Logger)

	e := &Engine{
		providers:      opts.Providers,
		registry:       opts.Registry,
		store:          model.NewConversationStore(opts.MaxPairs),
		params:         opts.Params,
		rateInterval:   opts.RateInterval,
		log:            l,
		listener:       opts.Listener,
		systemPrompt:   opts.SystemPrompt,
		suffix:         opts.Suffix,
		historyEnabled: !opts.DisableHistory,
		registers:      make(map[string]Register),
	}
	if e.rateInterval <= 0 {
		e.rateInterval = DefaultRateInterval
	}
	if e.registry == nil {
		e.registry = registry.New(opts.Providers, registry.DefaultConfig(), l.WithPrefix("registry"))
		e.ownsRegistry = true
	}
	if e.params == nil {
		merger, err := params.NewMerger(nil, nil, l.WithPrefix("params"))
		if err != nil {
			return nil, err
		}
		e.params = merger
	}
	e.resolver = router.New(e.registry, opts.DefaultModel, l.WithPrefix("resolver"))

	if err := e.SetCommands(opts.Commands); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Close interrupts any exchange and stops background work. The engine
// rejects new exchanges afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	active := e.active
	e.mu.Unlock()

	if active != nil {
		active.abort()
		<-active.done
	}
	if e.ownsRegistry {
		e.registry.Close()
	}
}

// SetListener replaces the event listener. A nil listener drops events.
func (e *Engine) SetListener(l Listener) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.listener = l
}

func (e *Engine) emit(ev Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if e.listener != nil {
		e.listener(ev)
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current state of the exchange state machine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentModel returns the model the next Send uses when none is given.
func (e *Engine) CurrentModel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentModel
}

// SetModel sets the current model. The id is not checked against the
// registry; resolution happens at send time.
func (e *Engine) SetModel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentModel = strings.TrimSpace(id)
}

// DefaultModel returns the configured default model.
func (e *Engine) DefaultModel() string {
	return e.resolver.DefaultModel()
}

// SetDefaultModel changes the configured default model.
func (e *Engine) SetDefaultModel(id string) {
	e.resolver.SetDefaultModel(id)
}

// SystemPrompt returns the system prompt sent with every exchange.
func (e *Engine) SystemPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.systemPrompt
}

// SetSystemPrompt sets the system prompt. An empty prompt sends none.
func (e *Engine) SetSystemPrompt(prompt string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.systemPrompt = prompt
}

// Suffix returns the suffix sent with every exchange.
func (e *Engine) Suffix() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suffix
}

// SetSuffix sets the suffix. An empty suffix sends none.
func (e *Engine) SetSuffix(suffix string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suffix = suffix
}

// HistoryEnabled reports whether Send includes and records history.
func (e *Engine) HistoryEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyEnabled
}

// SetHistoryEnabled turns history on or off for Send.
func (e *Engine) SetHistoryEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.historyEnabled = enabled
}

// Params returns the parameter merger.
func (e *Engine) Params() *params.Merger {
	return e.params
}

// ApplyParameterProfile replaces the active parameters with the named
// profile. Unknown names return params.ErrProfileNotFound and change
// nothing.
func (e *Engine) ApplyParameterProfile(name string) error {
	if err := e.params.ApplyProfile(name); err != nil {
		return err
	}
	e.log.Info("parameter profile applied", "profile", name, "modified", e.params.Modified())
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns a copy of a model's history. An empty id means the
// current model.
func (e *Engine) History(modelID string) []model.Message {
	if modelID == "" {
		modelID = e.CurrentModel()
	}
	return e.store.Get(modelID)
}

// ClearHistory drops a model's history. An empty id means the current
// model.
func (e *Engine) ClearHistory(modelID string) {
	if modelID == "" {
		modelID = e.CurrentModel()
	}
	e.store.Clear(modelID)
}

// ClearAllHistory drops every model's history.
func (e *Engine) ClearAllHistory() {
	e.store.ClearAll()
}

// ReplaceHistory sets a model's history, truncated to the pair limit.
func (e *Engine) ReplaceHistory(modelID string, msgs []model.Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidSnapshot, i, m.Role)
		}
	}
	e.store.Replace(modelID, msgs)
	return nil
}

// HistoryModels lists the models that have history, sorted.
func (e *Engine) HistoryModels() []string {
	return e.store.Models()
}

// =============================================================================
// MODELS & STATUS
// =============================================================================

// Models lists the models offered by every provider.
func (e *Engine) Models(ctx context.Context) []model.Model {
	return e.registry.ListModels(ctx)
}

// RefreshModels drops the registry caches and lists again.
func (e *Engine) RefreshModels(ctx context.Context) []model.Model {
	e.registry.Invalidate()
	return e.registry.ListModels(ctx)
}

// Status is a point-in-time view of the engine.
type Status struct {
	State          State
	CurrentModel   string
	DefaultModel   string
	Reachable      bool
	Online         bool
	HistoryEnabled bool
	Profile        string
	Modified       []string
	Multishot      MultishotStatus
}

// Status reports the engine state and server reachability.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	st := Status{
		State:          e.state,
		CurrentModel:   e.currentModel,
		HistoryEnabled: e.historyEnabled,
		Multishot:      e.multishot.clone(),
	}
	e.mu.Unlock()

	st.DefaultModel = e.resolver.DefaultModel()
	st.Reachable = e.registry.IsServerReachable(ctx)
	st.Online = st.Reachable || e.registry.IsOnline(ctx)
	st.Profile = e.params.Profile()
	st.Modified = e.params.Modified()
	return st
}
