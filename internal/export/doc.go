// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders chats for saving and copying.
//
// # Key Types
//
//   - Exporter: a stored-conversation format (Markdown, JSON, HTML)
//   - Options: output directory and metadata switches
//
// # Functions
//
//   - Chat: the active message list as a chat-export-YYYY-MM-DD.md document
//   - CopyText: plain-text rendition of one message for the clipboard
//   - Write: atomic save of rendered bytes under Options.OutputDir
//
// # Usage
//
//	name, data := export.Chat(sess.Messages(), time.Now())
//	path, err := export.Write(name, data, export.DefaultOptions())
//
//	data, err := export.NewJSONExporter(nil).Export(conv)
package export
