// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package params

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigchat/internal/logger"
)

// Errors returned by the merger.
var (
	ErrProfileNotFound  = errors.New("parameter profile not found")
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrInvalidValue     = errors.New("invalid parameter value")
)

// Set maps option names to values.
type Set map[string]any

// Clone returns a shallow copy of s. Slice values are copied too.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for k, v := range s {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		out[k] = v
	}
	return out
}

// Defaults returns the server's baseline options. Numbers are float64.
func Defaults() Set {
	return Set{
		"mirostat":          float64(0),
		"mirostat_eta":      0.1,
		"mirostat_tau":      5.0,
		"num_ctx":           float64(2048),
		"num_gqa":           float64(1),
		"num_gpu":           float64(-1),
		"num_thread":        float64(0),
		"num_predict":       float64(-1),
		"repeat_last_n":     float64(64),
		"repeat_penalty":    1.1,
		"presence_penalty":  0.0,
		"frequency_penalty": 0.0,
		"temperature":       0.8,
		"seed":              float64(0),
		"stop":              []string{},
		"tfs_z":             1.0,
		"top_k":             float64(40),
		"top_p":             0.9,
		"min_p":             0.0,
	}
}

// Names returns the known option names, sorted.
func Names() []string {
	return sortedKeys(Defaults())
}

// =============================================================================
// MERGER
// =============================================================================

// Merger holds the default, active and modified option sets plus the named
// profiles that can be applied on top of the defaults.
//
// Invariant: every key in modified is in active and its active value differs
// from the default.
//
// Merger is safe for concurrent use.
type Merger struct {
	mu       sync.Mutex
	defaults Set
	active   Set
	modified map[string]struct{}
	profiles map[string]Set
	profile  string
	// gen counts caller changes to the active state; scoped overrides use
	// it to tell whether anything moved underneath them.
	gen uint64
	log *log.Logger
}

// NewMerger creates a merger. A nil defaults uses Defaults(). Values in
// defaults override the built-in baseline for the same key and may add
// keys the baseline does not know.
func NewMerger(defaults Set, profiles map[string]Set, l *log.Logger) (*Merger, error) {
	base := Defaults()
	for k, v := range defaults {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("default %q: %w", k, err)
		}
		base[k] = nv
	}

	m := &Merger{
		defaults: base,
		log:      logger.OrDiscard(l),
	}
	m.resetLocked()
	if err := m.SetProfiles(profiles); err != nil {
		return nil, err
	}
	return m, nil
}

// SetProfiles replaces the named profiles. The active state is untouched.
func (m *Merger) SetProfiles(profiles map[string]Set) error {
	normalized := make(map[string]Set, len(profiles))
	for name, p := range profiles {
		np := make(Set, len(p))
		for k, v := range p {
			if _, ok := m.defaults[k]; !ok {
				return fmt.Errorf("profile %q: %w: %s", name, ErrUnknownParameter, k)
			}
			nv, err := normalize(v)
			if err != nil {
				return fmt.Errorf("profile %q key %q: %w", name, k, err)
			}
			np[k] = nv
		}
		normalized[name] = np
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = normalized
	return nil
}

// Profiles returns the profile names, sorted.
func (m *Merger) Profiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile returns the name of the last applied profile, or "" after Reset.
func (m *Merger) Profile() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// ApplyProfile resets to defaults and applies the named profile.
func (m *Merger) ApplyProfile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	m.resetLocked()
	for k, v := range p {
		m.setLocked(k, v)
	}
	m.profile = name
	m.gen++
	m.log.Debug("applied parameter profile", "profile", name, "modified", len(m.modified))
	return nil
}

// ApplyOverrides sets several options at once. On error nothing changes.
func (m *Merger) ApplyOverrides(overrides Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	normalized, err := m.validateLocked(overrides)
	if err != nil {
		return err
	}
	for k, v := range normalized {
		m.setLocked(k, v)
	}
	m.gen++
	return nil
}

// Set assigns one option. A value equal to the default un-pins the key.
func (m *Merger) Set(key string, value any) error {
	return m.ApplyOverrides(Set{key: value})
}

// ApplyCommandParameters applies overrides for a single exchange. The
// returned restore func puts back the exact state from before the call; it
// is safe to call more than once. On error nothing changes and restore is a
// no-op.
//
// When a profile, Set, ApplyOverrides or Reset lands while the overrides are
// in place, restore keeps that change and only reverts the override keys
// that still hold their override value.
func (m *Merger) ApplyCommandParameters(overrides Set) (restore func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	normalized, err := m.validateLocked(overrides)
	if err != nil {
		return func() {}, err
	}

	savedActive := m.active.Clone()
	savedModified := make(map[string]struct{}, len(m.modified))
	for k := range m.modified {
		savedModified[k] = struct{}{}
	}
	savedProfile, savedGen := m.profile, m.gen

	for k, v := range normalized {
		m.setLocked(k, v)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen == savedGen {
				m.active = savedActive
				m.modified = savedModified
				m.profile = savedProfile
				return
			}
			for k, v := range normalized {
				if !reflect.DeepEqual(m.active[k], v) {
					continue
				}
				m.active[k] = savedActive[k]
				if _, ok := savedModified[k]; ok {
					m.modified[k] = struct{}{}
				} else {
					delete(m.modified, k)
				}
			}
		})
	}, nil
}

// GetModifiedForRequest returns the options to transmit, or nil when every
// option is at its default.
func (m *Merger) GetModifiedForRequest() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.modified) == 0 {
		return nil
	}
	out := make(map[string]any, len(m.modified))
	for k := range m.modified {
		v := m.active[k]
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		out[k] = v
	}
	return out
}

// Active returns a copy of the effective options.
func (m *Merger) Active() Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Clone()
}

// Default returns the baseline value of key.
func (m *Merger) Default(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.defaults[key]
	return v, ok
}

// Modified returns the names of the options that differ from default, sorted.
func (m *Merger) Modified() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.modified))
	for k := range m.modified {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset returns every option to its default.
func (m *Merger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.gen++
}

func (m *Merger) resetLocked() {
	m.active = m.defaults.Clone()
	m.modified = make(map[string]struct{})
	m.profile = ""
}

// validateLocked normalizes overrides and rejects unknown keys.
func (m *Merger) validateLocked(overrides Set) (Set, error) {
	out := make(Set, len(overrides))
	for k, v := range overrides {
		if _, ok := m.defaults[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, k)
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// setLocked assigns an already-normalized value.
func (m *Merger) setLocked(key string, value any) {
	if reflect.DeepEqual(value, m.defaults[key]) {
		m.active[key] = m.defaults[key]
		delete(m.modified, key)
		return
	}
	m.active[key] = value
	m.modified[key] = struct{}{}
}

// =============================================================================
// HELPERS
// =============================================================================

// normalize coerces the numeric and list types produced by TOML, JSON and Go
// literals to float64 and []string so equal values compare equal.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool, string:
		return x, nil
	case []string:
		return append([]string{}, x...), nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: list elements must be strings, got %T", ErrInvalidValue, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
}

func sortedKeys(s Set) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
