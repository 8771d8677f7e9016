// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the transport to an Ollama-compatible model server.
//
// It covers two kinds of traffic:
//
//   - single-shot request/response, used for /api/tags and health checks (Client.Do)
//   - streaming chat, where the response is newline-delimited JSON (Client.Open, Client.ChatStream)
//
// # Key Types
//
//   - Client: HTTP client for the server
//   - Stream: handle over one streaming response, closable at any time
//   - FrameParser: turns arbitrarily chunked bytes into Fragments
//   - Fragment: one incremental piece of a chat response
//   - ClientError: typed error; connection failures satisfy IsConnectionError
//
// # Usage
//
//	client := ollama.NewClient(ollama.DefaultConfig(), nil)
//	stream, err := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "llama3.2:3b",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    frag, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(frag.Content)
//	}
//
// The parser never trusts chunk boundaries: bytes before the first '{' of a
// line are treated as protocol noise, unparseable lines are logged, counted and
// skipped, and only a run of consecutive failures aborts the stream.
package ollama
