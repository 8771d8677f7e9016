// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// emitFunc hands one content delta to the stream. It returns false once the
// stream has been closed and the producer should stop.
type emitFunc func(Fragment) bool

// producer drives an SDK stream to completion, calling emit for each delta,
// and returns the terminal fragment carrying usage statistics.
type producer func(ctx context.Context, emit emitFunc) (Fragment, error)

type pumpItem struct {
	frag Fragment
	err  error
}

// pumpStream adapts a push-style SDK iterator to the pull-style Stream by
// running it in a goroutine and handing items over a channel.
type pumpStream struct {
	name   string
	items  chan pumpItem
	cancel context.CancelFunc
	exited chan struct{}

	finished  bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func startPump(ctx context.Context, name string, run producer) *pumpStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &pumpStream{
		name:   name,
		items:  make(chan pumpItem, 64),
		cancel: cancel,
		exited: make(chan struct{}),
	}

	go func() {
		defer close(s.exited)
		defer close(s.items)

		send := func(item pumpItem) bool {
			select {
			case s.items <- item:
				return true
			case <-ctx.Done():
				return false
			}
		}

		final, err := run(ctx, func(f Fragment) bool {
			f.Done = false
			return send(pumpItem{frag: f})
		})
		if err != nil {
			send(pumpItem{err: s.wrap(ctx, err)})
			return
		}
		final.Done = true
		send(pumpItem{frag: final})
	}()

	return s
}

// Next implements Stream.
func (s *pumpStream) Next() (Fragment, error) {
	if s.finished {
		return Fragment{}, io.EOF
	}
	if s.closed.Load() {
		return Fragment{}, ollama.ErrStreamClosed
	}

	item, ok := <-s.items
	switch {
	case !ok && s.closed.Load():
		return Fragment{}, ollama.ErrStreamClosed
	case !ok:
		return Fragment{}, &ollama.ClientError{
			Type:    ollama.ErrTypeConnection,
			Message: s.name + " stream ended before terminal fragment",
		}
	case item.err != nil:
		if s.closed.Load() {
			return Fragment{}, ollama.ErrStreamClosed
		}
		return Fragment{}, item.err
	}

	if item.frag.Done {
		s.finished = true
	}
	return item.frag, nil
}

// Close implements Stream. It waits for the producer goroutine to exit.
func (s *pumpStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		<-s.exited
	})
	return nil
}

// Dropped implements Stream. SDK streams are decoded by the SDK, so nothing
// is ever dropped here.
func (s *pumpStream) Dropped() int {
	return 0
}

func (s *pumpStream) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ollama.ClientError{Type: ollama.ErrTypeStreamClosed, Message: s.name + " stream cancelled", Cause: err}
	}
	return classifySDKError(s.name, err)
}

// classifySDKError maps a vendor SDK or transport error onto the client
// error taxonomy. Errors that already carry a type pass through.
func classifySDKError(name string, err error) error {
	var ce *ollama.ClientError
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &ollama.ClientError{Type: ollama.ErrTypeStreamClosed, Message: name + " stream cancelled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ollama.ClientError{Type: ollama.ErrTypeTimeout, Message: name + " request timed out", Cause: err}
	default:
		return &ollama.ClientError{Type: ollama.ErrTypeConnection, Message: name + " request failed", Cause: err}
	}
}
