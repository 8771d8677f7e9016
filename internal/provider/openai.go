// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// OpenAI serves "openai:" models through the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	cfg    CloudConfig
}

// NewOpenAI creates the provider. It is available only with an API key.
func NewOpenAI(cfg CloudConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// ID implements Provider.
func (o *OpenAI) ID() model.ProviderID {
	return model.ProviderOpenAI
}

// Available implements Provider.
func (o *OpenAI) Available(context.Context) bool {
	return o.cfg.APIKey != ""
}

// Models implements Provider.
func (o *OpenAI) Models(context.Context) ([]string, error) {
	return o.cfg.models("gpt-4o-mini", "gpt-4o"), nil
}

// OpenChat implements Provider. Suffix is not supported and ignored.
func (o *OpenAI) OpenChat(ctx context.Context, req ChatRequest) (Stream, error) {
	system, msgs := splitSystem(req)

	messages := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model.Name,
		Messages:  messages,
		MaxTokens: maxTokens(req.Options, o.cfg.maxTokens()),
		Stop:      stopOption(req.Options),
		Stream:    true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if t, ok := floatOption(req.Options, "temperature"); ok {
		chatReq.Temperature = float32(t)
	}
	if p, ok := floatOption(req.Options, "top_p"); ok {
		chatReq.TopP = float32(p)
	}

	// Create the stream synchronously so auth and model errors surface from
	// OpenChat rather than from the first Next.
	stream, err := o.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
			return nil, &ollama.ClientError{Type: ollama.ErrTypeModelNotFound, Message: apiErr.Message, Cause: err}
		}
		return nil, classifySDKError("openai", err)
	}

	return startPump(ctx, "openai", func(ctx context.Context, emit emitFunc) (Fragment, error) {
		defer stream.Close()

		final := Fragment{Model: req.Model.String()}
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return final, nil
			}
			if err != nil {
				return final, err
			}

			if resp.Usage != nil {
				final.PromptTokens = resp.Usage.PromptTokens
				final.CompletionTokens = resp.Usage.CompletionTokens
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				final.DoneReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				if !emit(Fragment{Content: choice.Delta.Content, Model: final.Model}) {
					return final, ctx.Err()
				}
			}
		}
	}), nil
}
