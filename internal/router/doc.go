// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router turns a requested model into the model actually used.
//
// The fallback chain is ordered, first match wins:
//
//  1. the requested model, if available
//  2. the configured default model, if available
//  3. any available model: the caller must choose (ChoiceRequiredError)
//  4. nothing available: ErrNoModelsAvailable
//
// An unavailable model is never returned. Resolution always carries the
// original request so callers can report "using X instead of Y".
//
// # Usage
//
//	r := router.New(registry, "llama3.2:3b", nil)
//	res, err := r.Resolve(ctx, "qwen2.5:7b")
//	var choice *router.ChoiceRequiredError
//	switch {
//	case errors.As(err, &choice):
//	    // ask the user to pick from choice.Available
//	case err != nil:
//	    return err
//	case res.Fallback:
//	    fmt.Printf("using %s instead of %s\n", res.Model, res.Requested)
//	}
package router
