// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"
)

const (
	// TitleWordLimit is the number of leading words kept in a derived title.
	TitleWordLimit = 6

	// DefaultTitle is used when a conversation has no user message.
	DefaultTitle = "New Chat"

	titleEllipsis = "…"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a titled chat history.
// UpdatedAt is never earlier than CreatedAt.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewConversation creates a conversation holding msgs, stamped with now.
func NewConversation(msgs []Message, now time.Time) Conversation {
	return Conversation{
		ID:        NewID(),
		Title:     TitleFromMessages(msgs),
		Messages:  CloneMessages(msgs),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Update replaces the messages, recomputes the title and advances
// UpdatedAt to now, clamped so it never precedes CreatedAt.
func (c *Conversation) Update(msgs []Message, now time.Time) {
	c.Messages = CloneMessages(msgs)
	c.Title = TitleFromMessages(msgs)
	if now.Before(c.CreatedAt) {
		now = c.CreatedAt
	}
	c.UpdatedAt = now
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	c.Messages = CloneMessages(c.Messages)
	return c
}

// MessageCount returns the number of messages.
func (c Conversation) MessageCount() int {
	return len(c.Messages)
}

// Preview returns the first user message truncated to maxLen runes.
func (c Conversation) Preview(maxLen int) string {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return truncateRunes(strings.Join(strings.Fields(m.Content), " "), maxLen)
		}
	}
	return ""
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

// TitleFromMessages derives a title from the first user message.
func TitleFromMessages(msgs []Message) string {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return TitleFor(m.Content)
		}
	}
	return DefaultTitle
}

// TitleFor derives a conversation title from text. Text of six words or
// fewer is returned unchanged; longer text keeps the first six words
// followed by an ellipsis. Blank text yields DefaultTitle.
func TitleFor(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return DefaultTitle
	}
	if len(words) <= TitleWordLimit {
		return text
	}
	return strings.Join(words[:TitleWordLimit], " ") + titleEllipsis
}

func truncateRunes(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
