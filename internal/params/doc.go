// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package params tracks request options and computes the minimal set that
// differs from the server defaults.
//
// Only keys that differ from their default are ever sent, so a request never
// pins a value the server would have chosen anyway. Setting a key back to its
// default removes it from the modified set.
//
// Command-scoped overrides are applied with Merger.ApplyCommandParameters,
// which returns a restore func that puts the exact previous state back:
//
//	restore, err := merger.ApplyCommandParameters(params.Set{"temperature": 0.2})
//	if err != nil {
//	    return err
//	}
//	defer restore()
package params
