// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/logger"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/params"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/registry"
	"github.com/jeranaias/rigchat/internal/session"
)

// App holds global flags and the components built from the configuration.
// Components are built lazily so that config commands work without a model
// server.
type App struct {
	ConfigPath string
	Model      string
	Session    string
	JSON       bool
	Verbose    bool

	In  io.Reader
	Out io.Writer
	Err io.Writer

	cfg      *config.Config
	log      *log.Logger
	registry *registry.Registry
	engine   *engine.Engine
	sessions *session.Store
	// current is the session named by --session, once loaded.
	current *session.Session
}

// NewApp creates an App writing to the standard streams.
func NewApp() *App {
	return &App{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
	}
}

// configPath returns --config, or the default location.
func (a *App) configPath() (string, error) {
	if a.ConfigPath != "" {
		return a.ConfigPath, nil
	}
	return config.ConfigPath()
}

// Config loads the configuration once and configures logging from it.
func (a *App) Config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	path, err := a.configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if a.Verbose {
		level = "debug"
	}
	if err := logger.Configure(level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	a.cfg = cfg
	a.log = logger.New("rigchat")
	return cfg, nil
}

// Engine builds the engine on first use. A --session flag restores that
// session into it.
func (a *App) Engine(ctx context.Context) (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}

	providers := buildProviders(cfg)
	a.registry = registry.New(providers, cfg.RegistryConfig(), logger.New("registry"))

	merger, err := params.NewMerger(cfg.Parameters, cfg.ParameterProfiles(), logger.New("params"))
	if err != nil {
		a.registry.Close()
		return nil, err
	}
	if cfg.Profile != "" {
		if err := merger.ApplyProfile(cfg.Profile); err != nil {
			a.registry.Close()
			return nil, err
		}
	}

	eng, err := engine.New(engine.Options{
		Providers:      providers,
		Registry:       a.registry,
		Params:         merger,
		DefaultModel:   cfg.DefaultModel,
		SystemPrompt:   cfg.SystemPrompt,
		Suffix:         cfg.Suffix,
		MaxPairs:       cfg.History.MaxPairs,
		DisableHistory: !cfg.History.Enabled,
		RateInterval:   cfg.RateInterval(),
		Commands:       cfg.EngineCommands(),
		Logger:         logger.New("engine"),
	})
	if err != nil {
		a.registry.Close()
		return nil, err
	}
	a.engine = eng

	if a.Session != "" {
		if err := a.restoreSession(); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.log.Debug("engine ready", "providers", len(providers.All()), "default_model", cfg.DefaultModel)
	return eng, nil
}

// buildProviders creates the local provider unless disabled, plus every
// cloud provider. Cloud providers without a key report themselves
// unavailable.
func buildProviders(cfg *config.Config) *provider.Set {
	var local provider.Provider
	if !cfg.Server.Disabled {
		local = provider.NewLocal(ollama.NewClient(cfg.ClientConfig(), logger.New("ollama")))
	}
	return provider.NewSet(
		local,
		provider.NewAnthropic(cfg.Providers.Anthropic.Cloud()),
		provider.NewOpenAI(cfg.Providers.OpenAI.Cloud()),
		provider.NewGemini(cfg.Providers.Gemini.Cloud()),
		provider.NewOpenRouter(cfg.Providers.OpenRouter.Cloud(), logger.New("openrouter")),
	)
}

// Sessions opens the session store.
func (a *App) Sessions() (*session.Store, error) {
	if a.sessions != nil {
		return a.sessions, nil
	}
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	dir := cfg.Session.Dir
	if dir == "" {
		dir = session.DefaultDir()
	}
	store, err := session.NewStore(dir)
	if err != nil {
		return nil, err
	}
	store.MaxSessions = cfg.Session.Max
	a.sessions = store
	return store, nil
}

func (a *App) restoreSession() error {
	store, err := a.Sessions()
	if err != nil {
		return err
	}
	sess, err := store.Find(a.Session)
	if err != nil {
		return err
	}
	if err := a.engine.ImportState(sess.Snapshot); err != nil {
		return fmt.Errorf("restore session %s: %w", sess.ID, err)
	}
	a.current = sess
	a.log.Debug("session restored", "id", sess.ID, "messages", sess.MessageCount())
	return nil
}

// SaveSession writes the engine state back to the --session session. It
// does nothing without one.
func (a *App) SaveSession() error {
	if a.current == nil || a.engine == nil {
		return nil
	}
	return a.saveAs(a.current)
}

func (a *App) saveAs(sess *session.Session) error {
	store, err := a.Sessions()
	if err != nil {
		return err
	}
	sess.Snapshot = a.engine.ExportState()
	if _, err := store.Save(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	a.log.Debug("session saved", "id", sess.ID)
	return nil
}

// applyConfig pushes a reloaded configuration into the running engine. It
// runs on the watcher goroutine and touches only the engine. Model server
// settings need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if a.engine == nil {
		return
	}
	a.engine.SetDefaultModel(cfg.DefaultModel)
	a.engine.SetSystemPrompt(cfg.SystemPrompt)
	a.engine.SetSuffix(cfg.Suffix)
	if err := a.engine.Params().SetProfiles(cfg.ParameterProfiles()); err != nil {
		a.log.Warn("profiles not reloaded", "error", err)
	}
	if err := a.engine.SetCommands(cfg.EngineCommands()); err != nil {
		a.log.Warn("commands not reloaded", "error", err)
	}
	a.log.Info("configuration reloaded")
}

// Close releases the engine and registry.
func (a *App) Close() {
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
	if a.registry != nil {
		a.registry.Close()
		a.registry = nil
	}
}
