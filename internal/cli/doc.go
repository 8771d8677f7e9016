// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the rigchat command-line interface.
//
// Commands are built with cobra around an App, which loads the configuration
// and builds the engine lazily so that config commands work without a model
// server.
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Execute())
//	}
//
// # Commands Overview
//
//   - ask: Send one prompt, reading stdin when no prompt is given
//   - chat: Interactive chat with slash commands and config hot reload
//   - multishot: Send one prompt to several models in turn
//   - run: Run a built-in or configured command
//   - models, status, profiles: Inspect providers and parameters
//   - session: List, show, create, search and delete saved sessions
//   - config: Show, get, set, init and validate the config file
//
// # Global Flags
//
//   - --config: Config file path
//   - -m, --model: Model to use
//   - -s, --session: Session to restore and save back
//   - --json: Print machine-readable JSON
//   - -v, --verbose: Debug logging
//
// Every command returns its error to Execute, which prints it once and maps
// it to an exit code (see GetExitCode).
package cli
