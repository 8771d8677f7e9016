// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigchat.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGCHAT_*, and vendor API key variables)
//   - .env files in the working directory and ~/.rigchat
//   - ~/.rigchat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := ollama.NewClient(cfg.ClientConfig(), nil)
//
// Watch reloads the file on change so parameter profiles and commands can
// be edited while a session runs.
package config
