// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine runs conversational exchanges against the configured model
// providers.
//
// An Engine owns every piece of mutable state: the per-model conversation
// store, the model registry cache, the parameter merger and the exchange in
// flight. Several engines can live in one process without sharing anything.
//
// # Exchanges
//
// Each exchange walks a fixed state machine:
//
//	Idle -> Resolving -> Sending -> Streaming -> Finalizing -> Idle
//	                        \           \
//	                         +-----------+--> Cancelled -> Idle
//
// Only one exchange runs at a time. Starting a new one interrupts the one in
// flight and waits for it to unwind. A completed exchange commits the user
// message and the assistant reply to the model's history as one pair; an
// interrupted exchange commits nothing.
//
// # Events
//
// Progress is reported through a Listener: state changes, streamed deltas,
// periodic token rates, fallbacks, and the final statistics. Listeners are
// called one at a time and must not block for long.
//
// # Usage
//
//	eng, err := engine.New(engine.Options{
//		Providers:    provider.NewSet(provider.NewLocal(client)),
//		DefaultModel: "llama3.2:3b",
//		Listener: func(ev engine.Event) {
//			if ev.Kind == engine.EventDelta {
//				fmt.Print(ev.Delta)
//			}
//		},
//	})
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	res, err := eng.Send(ctx, "Why is the sky blue?", "")
package engine
