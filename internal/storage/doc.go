// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation and preference persistence for
// parley, for both guest and signed-in users.
//
// Every operation takes an explicit Scope. Guest scope is synchronous and
// backed by a local key-value store. User scope is backed by a remote
// DocumentStore; its writes are fire-and-forget, executed in FIFO order by a
// single background queue that retries with backoff and logs final failures.
//
// # Key Types
//
//   - Scope: Guest or a signed-in user ID
//   - Adapter: Uniform load/save/delete over both scopes
//   - Snapshot: Everything loaded for one scope
//   - KV: Guest key-value backend (MemoryKV, FileKV, SQLiteKV)
//   - DocumentStore: Remote per-user store (MemoryDocumentStore,
//     HTTPDocumentStore, PostgresDocumentStore)
//
// # Usage
//
//	kv, _ := storage.NewFileKV(filepath.Join(home, ".parley", "guest"))
//	adapter := storage.NewAdapter(kv, storage.NewHTTPDocumentStore(url, token))
//	defer adapter.Close(context.Background())
//
//	snap, _ := adapter.Load(ctx, storage.Guest())
//	adapter.SaveConversation(storage.Guest(), conv)
//
// # Storage Location
//
// Guest data lives in ~/.parley/guest/ by default, one file per key, or in
// a single SQLite database when the sqlite driver is configured.
package storage
