// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message. Only RoleUser and RoleAssistant
// are valid; decoding any other value fails.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// UnmarshalText rejects unknown roles so stored data cannot smuggle in a
// third variant.
func (r *Role) UnmarshalText(text []byte) error {
	role := Role(text)
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", string(text))
	}
	*r = role
	return nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// Messages are values: once an assistant message has been revealed its
// content never changes again.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`

	// IsStructuredText marks content that should be rendered as Markdown.
	IsStructuredText bool `json:"isMarkdown,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an empty structured-text assistant message,
// the placeholder a reveal fills in.
func NewAssistantMessage() Message {
	msg := NewMessage(RoleAssistant, "")
	msg.IsStructuredText = true
	return msg
}

// NewErrorMessage creates the assistant message shown when a completion
// request fails.
func NewErrorMessage(err error) Message {
	return NewMessage(RoleAssistant, "Error: "+err.Error())
}

// IsUser returns true if this is a user message.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true if this is an assistant message.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// UnmarshalJSON decodes a message and validates its role.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !p.Role.Valid() {
		return fmt.Errorf("message %s: invalid role %q", p.ID, p.Role)
	}
	*m = Message(p)
	return nil
}

// CloneMessages returns a copy of msgs that shares no backing array.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// LastUserIndex returns the index of the last user message, or -1.
func LastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// NewID returns a time-ordered unique identifier (UUIDv7).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
