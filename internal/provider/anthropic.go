// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jeranaias/rigchat/internal/model"
)

// CloudConfig configures a non-local provider.
type CloudConfig struct {
	APIKey string
	// Models lists the model names offered, without prefix.
	Models []string
	// MaxTokens caps completions when num_predict is not set.
	MaxTokens int
	// BaseURL overrides the vendor endpoint.
	BaseURL string
}

func (c CloudConfig) models(defaults ...string) []string {
	if len(c.Models) > 0 {
		return append([]string(nil), c.Models...)
	}
	return defaults
}

func (c CloudConfig) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1024
}

// Anthropic serves "claude:" models through the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    CloudConfig
}

// NewAnthropic creates the provider. It is available only with an API key.
func NewAnthropic(cfg CloudConfig) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}
}

// ID implements Provider.
func (a *Anthropic) ID() model.ProviderID {
	return model.ProviderAnthropic
}

// Available implements Provider.
func (a *Anthropic) Available(context.Context) bool {
	return a.cfg.APIKey != ""
}

// Models implements Provider.
func (a *Anthropic) Models(context.Context) ([]string, error) {
	return a.cfg.models("claude-3-5-haiku-latest", "claude-sonnet-4-5"), nil
}

// OpenChat implements Provider. Suffix is not supported and ignored.
func (a *Anthropic) OpenChat(ctx context.Context, req ChatRequest) (Stream, error) {
	system, msgs := splitSystem(req)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model.Name),
		MaxTokens: int64(maxTokens(req.Options, a.cfg.maxTokens())),
		Messages:  toAnthropicMessages(msgs),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if t, ok := floatOption(req.Options, "temperature"); ok {
		params.Temperature = anthropic.Float(t)
	}
	if p, ok := floatOption(req.Options, "top_p"); ok {
		params.TopP = anthropic.Float(p)
	}
	if k, ok := floatOption(req.Options, "top_k"); ok {
		params.TopK = anthropic.Int(int64(k))
	}
	if stop := stopOption(req.Options); len(stop) > 0 {
		params.StopSequences = stop
	}

	return startPump(ctx, "anthropic", func(ctx context.Context, emit emitFunc) (Fragment, error) {
		stream := a.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		final := Fragment{Model: req.Model.String()}
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				final.PromptTokens = int(ev.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
					if !emit(Fragment{Content: d.Text, Model: final.Model}) {
						return final, ctx.Err()
					}
				}
			case anthropic.MessageDeltaEvent:
				final.CompletionTokens = int(ev.Usage.OutputTokens)
				final.DoneReason = string(ev.Delta.StopReason)
			}
		}
		return final, stream.Err()
	}), nil
}

func toAnthropicMessages(msgs []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}
