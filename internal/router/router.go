// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigchat/internal/logger"
	"github.com/jeranaias/rigchat/internal/model"
)

// ErrNoModelsAvailable is returned when no model at all can serve a request.
var ErrNoModelsAvailable = errors.New("no models available")

// ErrChoiceRequired matches any *ChoiceRequiredError with errors.Is.
var ErrChoiceRequired = errors.New("model choice required")

// ChoiceRequiredError signals that neither the requested nor the default
// model is available but others are. The caller picks one of Available and
// retries with it.
type ChoiceRequiredError struct {
	Requested string
	Available []string
}

func (e *ChoiceRequiredError) Error() string {
	if e.Requested == "" {
		return fmt.Sprintf("no default model available, choose one of: %s", strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("model %q is not available, choose one of: %s", e.Requested, strings.Join(e.Available, ", "))
}

// Is reports whether target is ErrChoiceRequired.
func (e *ChoiceRequiredError) Is(target error) bool {
	return target == ErrChoiceRequired
}

// Lister reports the models known to the registry.
type Lister interface {
	ListModels(ctx context.Context) []model.Model
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	// Model is the identifier to send the request to.
	Model string
	// Requested is the identifier the caller asked for, possibly empty.
	Requested string
	// Fallback is true when a model was requested but another is used.
	Fallback bool
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver applies the fallback chain. It is safe for concurrent use.
type Resolver struct {
	models Lister
	log    *log.Logger

	mu           sync.RWMutex
	defaultModel string
}

// New creates a resolver over models with an optional default.
func New(models Lister, defaultModel string, l *log.Logger) *Resolver {
	return &Resolver{
		models:       models,
		defaultModel: strings.TrimSpace(defaultModel),
		log:          logger.OrDiscard(l),
	}
}

// DefaultModel returns the configured default.
func (r *Resolver) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// SetDefaultModel changes the configured default.
func (r *Resolver) SetDefaultModel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = strings.TrimSpace(id)
}

// Resolve picks the model for a request. requested may be empty.
func (r *Resolver) Resolve(ctx context.Context, requested string) (Resolution, error) {
	requested = strings.TrimSpace(requested)
	wanted := canonical(requested)
	defaultModel := canonical(r.DefaultModel())

	var available []string
	availableSet := make(map[string]bool)
	for _, m := range r.models.ListModels(ctx) {
		if m.Available && !availableSet[m.ID] {
			availableSet[m.ID] = true
			available = append(available, m.ID)
		}
	}

	res := Resolution{Requested: requested}
	switch {
	case wanted != "" && availableSet[wanted]:
		res.Model = wanted
		return res, nil

	case defaultModel != "" && availableSet[defaultModel]:
		res.Model = defaultModel
		res.Fallback = wanted != "" && wanted != defaultModel
		if res.Fallback {
			r.log.Info("requested model unavailable, using default",
				"requested", requested, "model", defaultModel)
		}
		return res, nil

	case len(available) > 0:
		return res, &ChoiceRequiredError{Requested: requested, Available: available}

	default:
		return res, ErrNoModelsAvailable
	}
}

// canonical returns the namespaced form of id, so a provider prefix typed in
// any case matches the listed model.
func canonical(id string) string {
	if id == "" {
		return ""
	}
	return model.ParseRef(id).String()
}
