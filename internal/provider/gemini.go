// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/jeranaias/rigchat/internal/model"
)

// Gemini serves "gemini:" models through the Gemini API.
type Gemini struct {
	cfg CloudConfig

	// The client is built on first use since construction takes a context
	// and may fail.
	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGemini creates the provider. It is available only with an API key.
func NewGemini(cfg CloudConfig) *Gemini {
	return &Gemini{cfg: cfg}
}

// ID implements Provider.
func (g *Gemini) ID() model.ProviderID {
	return model.ProviderGemini
}

// Available implements Provider.
func (g *Gemini) Available(context.Context) bool {
	return g.cfg.APIKey != ""
}

// Models implements Provider.
func (g *Gemini) Models(context.Context) ([]string, error) {
	return g.cfg.models("gemini-2.0-flash", "gemini-2.5-pro"), nil
}

func (g *Gemini) getClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:  g.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if g.cfg.BaseURL != "" {
			cc.HTTPOptions.BaseURL = g.cfg.BaseURL
		}
		g.client, g.initErr = genai.NewClient(ctx, cc)
		if g.initErr != nil {
			g.initErr = fmt.Errorf("failed to initialize gemini client: %w", g.initErr)
		}
	})
	return g.client, g.initErr
}

// OpenChat implements Provider. Suffix is not supported and ignored.
func (g *Gemini) OpenChat(ctx context.Context, req ChatRequest) (Stream, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	system, msgs := splitSystem(req)
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req.Options, g.cfg.maxTokens())),
		StopSequences:   stopOption(req.Options),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if t, ok := floatOption(req.Options, "temperature"); ok {
		config.Temperature = genai.Ptr(float32(t))
	}
	if p, ok := floatOption(req.Options, "top_p"); ok {
		config.TopP = genai.Ptr(float32(p))
	}
	if k, ok := floatOption(req.Options, "top_k"); ok {
		config.TopK = genai.Ptr(float32(k))
	}

	return startPump(ctx, "gemini", func(ctx context.Context, emit emitFunc) (Fragment, error) {
		final := Fragment{Model: req.Model.String()}
		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model.Name, contents, config) {
			if err != nil {
				return final, err
			}
			if resp.UsageMetadata != nil {
				final.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
				final.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				final.DoneReason = string(resp.Candidates[0].FinishReason)
			}
			if text := resp.Text(); text != "" {
				if !emit(Fragment{Content: text, Model: final.Model}) {
					return final, ctx.Err()
				}
			}
		}
		return final, nil
	}), nil
}
