// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the parley command line.
//
// Every command opens the backends named in the config through OpenApp,
// runs against the session, and closes it again so queued remote writes
// are drained before exit.
//
// # Key Types
//
//   - App: the session with its guest store, remote store, completion
//     client, voice bridge and identity monitor
//   - ChatCLI: liner-backed line input with persistent history
//   - JSONResponse: the envelope of every --json output
//
// # Commands
//
//   - (none), tui: full-screen chat on a terminal
//   - chat: line-mode chat with slash commands
//   - ask: one question, nothing saved
//   - login, logout, whoami: the identity file
//   - sessions: list, show, search, export and delete conversations
//   - models: list and select models
//   - config: show, get, set and init settings
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Execute(version))
//	}
package cli
