// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session is the chat session behind every presentation layer.
//
// A Manager owns the session value (backend scope, active conversation,
// preferences) and wires the conversation store, message pipeline,
// persistence adapter and voice bridge together. It is the Target of the
// identity monitor: a sign-in or sign-out edge suspends the session,
// reloads it for the new scope and resumes it.
//
// # Key Types
//
//   - Manager: session operations (send, edit, new chat, load, delete,
//     preferences, export, voice)
//   - Options: collaborators and timing
//
// # Usage
//
//	mgr := session.New(session.Options{
//		Completer: client,
//		Adapter:   adapter,
//		Log:       logger.New("session"),
//	})
//	mon := identity.NewMonitor(adapter, mgr, log)
//	_ = mon.Start(ctx)
//	out, err := mgr.Send(ctx, "Hello")
package session
