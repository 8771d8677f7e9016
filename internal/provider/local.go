// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// Local serves models from the Ollama-compatible server.
type Local struct {
	client *ollama.Client
}

// NewLocal wraps client.
func NewLocal(client *ollama.Client) *Local {
	return &Local{client: client}
}

// Client returns the underlying transport.
func (l *Local) Client() *ollama.Client {
	return l.client
}

// ID implements Provider.
func (l *Local) ID() model.ProviderID {
	return model.ProviderLocal
}

// Available reports whether the server answers.
func (l *Local) Available(ctx context.Context) bool {
	return l.client.CheckRunning(ctx) == nil
}

// Models lists installed models.
func (l *Local) Models(ctx context.Context) ([]string, error) {
	infos, err := l.DescribeModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

// DescribeModels implements Describer with the sizes /api/tags reports.
func (l *Local) DescribeModels(ctx context.Context) ([]ModelInfo, error) {
	tags, err := l.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]ModelInfo, 0, len(tags))
	for _, tag := range tags {
		infos = append(infos, ModelInfo{Name: tag.Name, Size: tag.Size})
	}
	return infos, nil
}

// OpenChat starts a streaming /api/chat exchange. The system prompt is sent
// both as a leading system message and in the top-level system field.
func (l *Local) OpenChat(ctx context.Context, req ChatRequest) (Stream, error) {
	msgs := make([]ollama.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, ollama.NewSystemMessage(req.System))
	}
	for _, m := range req.Messages {
		msgs = append(msgs, ollama.Message{Role: string(m.Role), Content: m.Content})
	}

	stream, err := l.client.ChatStream(ctx, ollama.ChatRequest{
		Model:    req.Model.Name,
		Messages: msgs,
		System:   req.System,
		Suffix:   req.Suffix,
		Options:  req.Options,
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}
