// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, nil)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(nil, nil)
	assert.Equal(t, "http://127.0.0.1:11434", c.BaseURL())

	c = NewClient(&ClientConfig{BaseURL: "http://host:1/"}, nil)
	assert.Equal(t, "http://host:1", c.BaseURL())
	assert.Equal(t, 10*time.Second, c.config.Timeout)
	assert.Equal(t, 8, c.config.MaxConsecutiveMalformed)
}

func TestClient_CheckRunning(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ollama is running")
	}))
	assert.NoError(t, c.CheckRunning(context.Background()))
}

func TestClient_CheckRunning_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(&ClientConfig{BaseURL: url, Timeout: time.Second}, nil)
	err := c.CheckRunning(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
	assert.True(t, IsConnectionError(err))
}

func TestClient_ListModels(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = io.WriteString(w, `{"models":[{"name":"llama3.2:3b","size":2000000000},{"name":"qwen2.5:7b"}]}`)
	}))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.2:3b", models[0].Name)
	assert.Equal(t, int64(2000000000), models[0].Size)
}

func TestClient_Do_ErrorBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"ghost\" not found"}`)
	}))

	err := c.Do(context.Background(), http.MethodPost, "/api/show", map[string]string{"name": "ghost"}, nil)
	require.Error(t, err)
	assert.True(t, IsModelNotFound(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestClient_ChatStream(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		flusher := w.(http.Flusher)
		for _, word := range []string{"The", " sky", " is", " blue"} {
			fmt.Fprintf(w, `{"model":"m","message":{"role":"assistant","content":%q},"done":false}`+"\n", word)
			flusher.Flush()
		}
		_, _ = io.WriteString(w, `{"model":"m","message":{"content":""},"done":true,"prompt_eval_count":4,"eval_count":4}`)
	}))

	stream, err := c.ChatStream(context.Background(), ChatRequest{
		Model:    "m",
		Messages: []Message{NewUserMessage("why is the sky blue?")},
		System:   "be brief",
		Options:  map[string]any{"temperature": 0.2},
	})
	require.NoError(t, err)
	defer stream.Close()

	text, err := collect(t, stream)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "The sky is blue", text)

	assert.True(t, got.Stream)
	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, 0.2, got.Options["temperature"])
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestClient_ChatStream_ConnectionDrop(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"half"},"done":false}`+"\n")
	}))

	stream, err := c.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	text, err := collect(t, stream)
	assert.Equal(t, "half", text)
	assert.True(t, IsConnectionError(err))
}

func TestClient_ChatStream_CloseUnblocksNext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"first"},"done":false}`+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))

	stream, err := c.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)

	frag, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", frag.Content)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = stream.Close()
	}()

	_, err = stream.Next()
	assert.True(t, IsStreamClosed(err))
}

func TestClient_ChatStream_ModelNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found, try pulling it first"}`)
	}))

	_, err := c.ChatStream(context.Background(), ChatRequest{Model: "missing"})
	require.Error(t, err)
	assert.True(t, IsModelNotFound(err))
}
