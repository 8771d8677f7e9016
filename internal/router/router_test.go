// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

type staticModels []model.Model

func (s staticModels) ListModels(context.Context) []model.Model { return s }

func available(ids ...string) staticModels {
	out := make(staticModels, len(ids))
	for i, id := range ids {
		out[i] = model.NewModel(id, true)
	}
	return out
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		models       staticModels
		defaultModel string
		requested    string
		want         Resolution
		wantErr      error
	}{
		{
			name:         "requested available",
			models:       available("X", "Y"),
			defaultModel: "Y",
			requested:    "X",
			want:         Resolution{Model: "X", Requested: "X"},
		},
		{
			name:         "falls back to default",
			models:       available("Y"),
			defaultModel: "Y",
			requested:    "X",
			want:         Resolution{Model: "Y", Requested: "X", Fallback: true},
		},
		{
			name:         "nothing requested uses default",
			models:       available("Y", "Z"),
			defaultModel: "Y",
			want:         Resolution{Model: "Y"},
		},
		{
			name:         "requested equals default",
			models:       available("Y"),
			defaultModel: "Y",
			requested:    "Y",
			want:         Resolution{Model: "Y", Requested: "Y"},
		},
		{
			name:         "choice required",
			models:       available("Z"),
			defaultModel: "Y",
			requested:    "X",
			want:         Resolution{Requested: "X"},
			wantErr:      ErrChoiceRequired,
		},
		{
			name:      "no models",
			models:    nil,
			requested: "X",
			want:      Resolution{Requested: "X"},
			wantErr:   ErrNoModelsAvailable,
		},
		{
			name:      "provider prefix in any case",
			models:    available("claude:claude-x", "Y"),
			requested: "Claude:claude-x",
			want:      Resolution{Model: "claude:claude-x", Requested: "Claude:claude-x"},
		},
		{
			name:         "default with upper-case prefix",
			models:       available("openai:gpt-4o"),
			defaultModel: "OPENAI:gpt-4o",
			requested:    "gone",
			want:         Resolution{Model: "openai:gpt-4o", Requested: "gone", Fallback: true},
		},
		{
			name:         "requested matches default in another case",
			models:       available("openai:gpt-4o"),
			defaultModel: "openai:gpt-4o",
			requested:    "OpenAI:gpt-4o",
			want:         Resolution{Model: "openai:gpt-4o", Requested: "OpenAI:gpt-4o"},
		},
		{
			name:         "unavailable entries are ignored",
			models:       staticModels{model.NewModel("X", false), model.NewModel("Y", false)},
			defaultModel: "Y",
			requested:    "X",
			want:         Resolution{Requested: "X"},
			wantErr:      ErrNoModelsAvailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New(tc.models, tc.defaultModel, nil)
			got, err := r.Resolve(context.Background(), tc.requested)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolve_ChoiceRequiredListsModels(t *testing.T) {
	r := New(available("a", "b", "a"), "", nil)

	_, err := r.Resolve(context.Background(), "")

	var choice *ChoiceRequiredError
	require.True(t, errors.As(err, &choice))
	assert.Equal(t, []string{"a", "b"}, choice.Available)
	assert.Contains(t, err.Error(), "no default model")
}

func TestResolver_SetDefaultModel(t *testing.T) {
	r := New(available("a", "b"), "a", nil)
	r.SetDefaultModel(" b ")
	assert.Equal(t, "b", r.DefaultModel())

	got, err := r.Resolve(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Model)
	assert.True(t, got.Fallback)
}
