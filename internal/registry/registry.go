// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry caches the models offered by the configured providers
// and the reachability of the local server.
//
// Both caches expire on a fixed TTL. A read that hits an entry older than
// half its TTL schedules a background refresh so the next read stays warm.
// Refreshes are de-duplicated with singleflight and throttled with a token
// bucket.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/logger"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/provider"
)

const (
	// DefaultTTL is how long a cached answer is served without refetching.
	DefaultTTL = 5 * time.Second

	// DefaultFetchTimeout bounds a single refresh.
	DefaultFetchTimeout = 5 * time.Second

	keyModels    = "models"
	keyReachable = "reachable"
)

// Config controls caching behaviour.
type Config struct {
	TTL               time.Duration
	FetchTimeout      time.Duration
	BackgroundRefresh bool
	// RefreshPerSecond limits background refreshes. Zero means 1.
	RefreshPerSecond float64
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		TTL:               DefaultTTL,
		FetchTimeout:      DefaultFetchTimeout,
		BackgroundRefresh: true,
		RefreshPerSecond:  1,
	}
}

type entry[T any] struct {
	value   T
	fetched time.Time
	valid   bool
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is safe for concurrent use. Close stops background refreshes.
type Registry struct {
	providers *provider.Set
	cfg       Config
	log       *log.Logger
	now       func() time.Time

	group   singleflight.Group
	limiter *rate.Limiter

	mu        sync.Mutex
	models    entry[[]model.Model]
	reachable entry[bool]
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a registry over providers.
func New(providers *provider.Set, cfg Config, l *log.Logger) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.RefreshPerSecond <= 0 {
		cfg.RefreshPerSecond = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		providers: providers,
		cfg:       cfg,
		log:       logger.OrDiscard(l),
		now:       time.Now,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RefreshPerSecond), 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Providers returns the provider set the registry lists from.
func (r *Registry) Providers() *provider.Set {
	return r.providers
}

// ListModels returns every model the providers offer. An unreachable local
// server contributes no models; it is never an error.
func (r *Registry) ListModels(ctx context.Context) []model.Model {
	if cached, ok := r.cachedModels(); ok {
		return cached
	}
	v, _, _ := r.group.Do(keyModels, func() (any, error) {
		return r.refreshModels(), nil
	})
	return cloneModels(v.([]model.Model))
}

// IsServerReachable reports whether the local server answers.
func (r *Registry) IsServerReachable(ctx context.Context) bool {
	if cached, ok := r.cachedReachable(); ok {
		return cached
	}
	v, _, _ := r.group.Do(keyReachable, func() (any, error) {
		return r.refreshReachable(), nil
	})
	return v.(bool)
}

// IsOnline reports whether any provider can take a request: the local server
// answers or a cloud provider is configured.
func (r *Registry) IsOnline(ctx context.Context) bool {
	for _, p := range r.providers.All() {
		if !p.ID().IsLocal() && p.Available(ctx) {
			return true
		}
	}
	return r.IsServerReachable(ctx)
}

// IsAvailable reports whether id is currently listed as available. The
// provider prefix matches in any case.
func (r *Registry) IsAvailable(ctx context.Context, id string) bool {
	id = model.ParseRef(id).String()
	for _, m := range r.ListModels(ctx) {
		if m.ID == id && m.Available {
			return true
		}
	}
	return false
}

// Invalidate drops both caches so the next read refetches.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = entry[[]model.Model]{}
	r.reachable = entry[bool]{}
}

// Close stops scheduling refreshes and waits for running ones to finish.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// =============================================================================
// CACHE
// =============================================================================

func (r *Registry) cachedModels() ([]model.Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	age, fresh := r.age(r.models.valid, r.models.fetched)
	if !fresh {
		return nil, false
	}
	if age >= r.cfg.TTL/2 {
		r.refreshLocked(keyModels, func() any { return r.refreshModels() })
	}
	return cloneModels(r.models.value), true
}

func (r *Registry) cachedReachable() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	age, fresh := r.age(r.reachable.valid, r.reachable.fetched)
	if !fresh {
		return false, false
	}
	if age >= r.cfg.TTL/2 {
		r.refreshLocked(keyReachable, func() any { return r.refreshReachable() })
	}
	return r.reachable.value, true
}

func (r *Registry) age(valid bool, fetched time.Time) (time.Duration, bool) {
	if !valid {
		return 0, false
	}
	age := r.now().Sub(fetched)
	return age, age < r.cfg.TTL
}

// refreshLocked starts a background refresh. r.mu must be held. fn must
// return the same type as the synchronous fetch for key, since callers may
// join the in-flight call.
func (r *Registry) refreshLocked(key string, fn func() any) {
	if !r.cfg.BackgroundRefresh || r.closed || !r.limiter.Allow() {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _, _ = r.group.Do(key, func() (any, error) {
			return fn(), nil
		})
	}()
}

// =============================================================================
// FETCH
// =============================================================================

func (r *Registry) refreshModels() []model.Model {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.FetchTimeout)
	defer cancel()

	var models []model.Model
	reachable := false
	for _, p := range r.providers.All() {
		if !p.ID().IsLocal() && !p.Available(ctx) {
			continue
		}
		infos, err := provider.DescribeModels(ctx, p)
		if err != nil {
			r.log.Debug("listing models failed", "provider", p.ID(), "error", err)
			continue
		}
		if p.ID().IsLocal() {
			reachable = true
		}
		for _, info := range infos {
			m := model.NewModel(model.Ref{Provider: p.ID(), Name: info.Name}.String(), true)
			m.Size = info.Size
			models = append(models, m)
		}
	}
	if models == nil {
		models = []model.Model{}
	}

	now := r.now()
	r.mu.Lock()
	r.models = entry[[]model.Model]{value: models, fetched: now, valid: true}
	// Only a successful local listing updates reachability.
	if reachable {
		r.reachable = entry[bool]{value: true, fetched: now, valid: true}
	}
	r.mu.Unlock()

	r.log.Debug("model list refreshed", "count", len(models))
	return models
}

func (r *Registry) refreshReachable() bool {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.FetchTimeout)
	defer cancel()

	reachable := false
	if local := r.providers.Local(); local != nil {
		reachable = local.Available(ctx)
	}

	r.mu.Lock()
	r.reachable = entry[bool]{value: reachable, fetched: r.now(), valid: true}
	r.mu.Unlock()
	return reachable
}

func cloneModels(in []model.Model) []model.Model {
	out := make([]model.Model, len(in))
	copy(out, in)
	return out
}
