// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session persists engine snapshots as flat JSON files.
//
// Each session is one file, <id>.json, in the store directory. Files are
// written atomically so a crash leaves either the previous or the new
// version on disk.
//
// # Usage
//
//	store, err := session.NewStore(session.DefaultDir())
//	sess, err := store.Save(&session.Session{Snapshot: eng.ExportState()})
//	...
//	sess, err = store.Find("work")
//	err = eng.ImportState(sess.Snapshot)
package session
