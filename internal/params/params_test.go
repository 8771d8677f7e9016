// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package params

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMerger(t *testing.T) *Merger {
	t.Helper()
	m, err := NewMerger(nil, map[string]Set{
		"precise":  {"temperature": 0.1, "top_k": 10},
		"creative": {"temperature": 1.2, "stop": []any{"###"}},
	}, nil)
	require.NoError(t, err)
	return m
}

func TestMerger_StartsUnmodified(t *testing.T) {
	m := newTestMerger(t)
	assert.Nil(t, m.GetModifiedForRequest())
	assert.Empty(t, m.Modified())
	assert.Equal(t, Names(), sortedKeys(m.Active()))
}

func TestMerger_SetOnlyTransmitsDifferences(t *testing.T) {
	m := newTestMerger(t)

	require.NoError(t, m.Set("temperature", 0.3))
	require.NoError(t, m.Set("top_k", 40)) // default, int literal

	assert.Equal(t, map[string]any{"temperature": 0.3}, m.GetModifiedForRequest())
}

func TestMerger_SetToDefaultUnpins(t *testing.T) {
	m := newTestMerger(t)

	require.NoError(t, m.Set("num_ctx", int64(8192)))
	assert.Equal(t, []string{"num_ctx"}, m.Modified())

	require.NoError(t, m.Set("num_ctx", 2048))
	assert.Empty(t, m.Modified())
	assert.Equal(t, float64(2048), m.Active()["num_ctx"])
}

func TestMerger_UnknownParameter(t *testing.T) {
	m := newTestMerger(t)

	err := m.ApplyOverrides(Set{"temperature": 0.5, "warp_factor": 9})
	assert.True(t, errors.Is(err, ErrUnknownParameter))
	assert.Empty(t, m.Modified(), "a failed batch changes nothing")
}

func TestMerger_InvalidValue(t *testing.T) {
	m := newTestMerger(t)

	err := m.Set("stop", []any{"ok", 3})
	assert.True(t, errors.Is(err, ErrInvalidValue))

	err = m.Set("temperature", map[string]int{})
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestMerger_ApplyProfile(t *testing.T) {
	m := newTestMerger(t)
	require.NoError(t, m.Set("seed", 42))

	require.NoError(t, m.ApplyProfile("precise"))
	assert.Equal(t, "precise", m.Profile())
	assert.Equal(t, map[string]any{"temperature": 0.1, "top_k": float64(10)}, m.GetModifiedForRequest())

	require.NoError(t, m.ApplyProfile("creative"))
	assert.Equal(t, []string{"stop", "temperature"}, m.Modified())
	assert.Equal(t, []string{"###"}, m.GetModifiedForRequest()["stop"])

	assert.Equal(t, []string{"creative", "precise"}, m.Profiles())
}

func TestMerger_ApplyProfileNotFound(t *testing.T) {
	m := newTestMerger(t)
	require.NoError(t, m.Set("temperature", 0.5))

	err := m.ApplyProfile("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProfileNotFound))
	assert.Contains(t, err.Error(), "nope")
	assert.Equal(t, map[string]any{"temperature": 0.5}, m.GetModifiedForRequest())
}

func TestMerger_CommandParametersRestoreExactly(t *testing.T) {
	m := newTestMerger(t)
	require.NoError(t, m.Set("top_p", 0.5))
	before := m.GetModifiedForRequest()
	activeBefore := m.Active()

	restore, err := m.ApplyCommandParameters(Set{"temperature": 0.2, "top_p": 0.9})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temperature": 0.2}, m.GetModifiedForRequest())

	restore()
	restore()

	assert.Equal(t, before, m.GetModifiedForRequest())
	assert.Equal(t, activeBefore, m.Active())
}

func TestMerger_CommandParametersKeepProfileAppliedDuringScope(t *testing.T) {
	m := newTestMerger(t)
	require.NoError(t, m.Set("top_p", 0.5))

	restore, err := m.ApplyCommandParameters(Set{"temperature": 0.2})
	require.NoError(t, err)
	require.NoError(t, m.ApplyProfile("precise"))
	restore()

	assert.Equal(t, "precise", m.Profile())
	assert.Equal(t, map[string]any{"temperature": 0.1, "top_k": float64(10)}, m.GetModifiedForRequest())
}

func TestMerger_CommandParametersKeepSetDuringScope(t *testing.T) {
	m := newTestMerger(t)

	restore, err := m.ApplyCommandParameters(Set{"temperature": 0.2, "top_k": 5})
	require.NoError(t, err)
	require.NoError(t, m.Set("temperature", 0.7))
	restore()

	assert.Equal(t, map[string]any{"temperature": 0.7}, m.GetModifiedForRequest())
}

func TestMerger_CommandParametersKeepResetDuringScope(t *testing.T) {
	m := newTestMerger(t)
	require.NoError(t, m.ApplyProfile("precise"))

	restore, err := m.ApplyCommandParameters(Set{"temperature": 0.2})
	require.NoError(t, err)
	m.Reset()
	restore()

	assert.Empty(t, m.Profile())
	assert.Nil(t, m.GetModifiedForRequest())
}

func TestMerger_CommandParametersErrorIsNoop(t *testing.T) {
	m := newTestMerger(t)

	restore, err := m.ApplyCommandParameters(Set{"bogus": 1})
	require.Error(t, err)
	require.NotNil(t, restore)
	restore()
	assert.Nil(t, m.GetModifiedForRequest())
}

func TestMerger_ResultIsACopy(t *testing.T) {
	m := newTestMerger(t)
	require.NoError(t, m.Set("stop", []string{"a"}))

	got := m.GetModifiedForRequest()
	got["stop"].([]string)[0] = "changed"
	got["temperature"] = 2.0

	assert.Equal(t, map[string]any{"stop": []string{"a"}}, m.GetModifiedForRequest())
}

func TestMerger_Reset(t *testing.T) {
	m := newTestMerger(t)
	require.NoError(t, m.ApplyProfile("precise"))

	m.Reset()
	assert.Nil(t, m.GetModifiedForRequest())
	assert.Empty(t, m.Profile())
}

func TestNewMerger_CustomDefaults(t *testing.T) {
	m, err := NewMerger(Set{"num_ctx": 4096}, nil, nil)
	require.NoError(t, err)

	v, ok := m.Default("num_ctx")
	require.True(t, ok)
	assert.Equal(t, float64(4096), v)

	require.NoError(t, m.Set("num_ctx", 4096))
	assert.Nil(t, m.GetModifiedForRequest())
}

func TestNewMerger_BadProfile(t *testing.T) {
	_, err := NewMerger(nil, map[string]Set{"x": {"nonsense": 1}}, nil)
	assert.True(t, errors.Is(err, ErrUnknownParameter))
}
