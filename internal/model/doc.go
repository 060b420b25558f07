// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by every other package:
// the closed message role tag, messages, conversations, user preferences and
// the catalog of selectable completion models.
//
// # Key Types
//
//   - Role: Closed two-variant tag (user, assistant)
//   - Message: Single chat message with ID, role, content and creation time
//   - Conversation: Titled, timestamped list of messages
//   - Preferences: Theme and selected model, persisted per scope
//   - ModelInfo: Entry in the selectable model catalog
//
// # Usage
//
// Build a conversation from messages:
//
//	msgs := []model.Message{model.NewUserMessage("Hello there")}
//	conv := model.NewConversation(msgs, time.Now())
//	fmt.Println(conv.Title) // "Hello there"
//
// Derive a title directly:
//
//	model.TitleFor("one two three four five six seven") // "one two three four five six…"
package model
