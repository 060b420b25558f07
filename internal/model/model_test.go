// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TITLE TESTS
// =============================================================================

func TestTitleFor(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"short text verbatim", "Hello there", "Hello there"},
		{"exactly six words", "one two three four five six", "one two three four five six"},
		{"three words", "one two three", "one two three"},
		{"eight letters", "a b c d e f g h", "a b c d e f…"},
		{"seven words truncated", "one two three four five six seven", "one two three four five six…"},
		{"extra whitespace collapsed when truncated", "one  two\tthree\nfour five six seven", "one two three four five six…"},
		{"empty", "", DefaultTitle},
		{"blank", "   \n\t ", DefaultTitle},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := TitleFor(tc.text); got != tc.want {
				t.Errorf("TitleFor(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestTitleFromMessages_UsesFirstUserMessage(t *testing.T) {
	msgs := []Message{
		NewMessage(RoleAssistant, "welcome to the chat, ask me anything at all"),
		NewUserMessage("first question"),
		NewUserMessage("second question"),
	}
	assert.Equal(t, "first question", TitleFromMessages(msgs))
	assert.Equal(t, DefaultTitle, TitleFromMessages(nil))
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_UpdateKeepsTimestampOrder(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := NewConversation([]Message{NewUserMessage("hi")}, created)
	require.Equal(t, conv.CreatedAt, conv.UpdatedAt)

	// A clock that went backwards must not move UpdatedAt before CreatedAt.
	conv.Update([]Message{NewUserMessage("changed title here")}, created.Add(-time.Hour))
	assert.Equal(t, created, conv.UpdatedAt)
	assert.Equal(t, "changed title here", conv.Title)

	later := created.Add(time.Minute)
	conv.Update(conv.Messages, later)
	assert.Equal(t, later, conv.UpdatedAt)
}

func TestConversation_CloneIsIndependent(t *testing.T) {
	conv := NewConversation([]Message{NewUserMessage("hi")}, time.Now())
	clone := conv.Clone()
	clone.Messages[0].Content = "mutated"
	assert.Equal(t, "hi", conv.Messages[0].Content)
}

func TestConversation_Preview(t *testing.T) {
	conv := NewConversation([]Message{
		NewMessage(RoleAssistant, "ignored"),
		NewUserMessage("a fairly long first question"),
	}, time.Now())
	assert.Equal(t, "a fairl...", conv.Preview(10))
	assert.Equal(t, "a fairly long first question", conv.Preview(100))
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_JSONRoundTripUsesWireNames(t *testing.T) {
	msg := NewAssistantMessage()
	msg.Content = "**bold**"

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timestamp"`)
	assert.Contains(t, string(data), `"isMarkdown":true`)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.ID, decoded.ID)
	assert.True(t, decoded.CreatedAt.Equal(msg.CreatedAt))
}

func TestMessage_RejectsUnknownRole(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"id":"x","role":"system","content":"hi"}`), &msg)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"id":"x","content":"hi"}`), &msg)
	assert.Error(t, err)
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage(errors.New("boom"))
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "Error: boom", msg.Content)
	assert.False(t, msg.IsStructuredText)
}

func TestNewID_UniqueAndOrdered(t *testing.T) {
	seen := make(map[string]bool)
	prev := ""
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		if prev != "" && id < prev {
			t.Errorf("ids not time ordered: %s after %s", id, prev)
		}
		prev = id
	}
}

func TestLastUserIndex(t *testing.T) {
	msgs := []Message{
		NewUserMessage("a"),
		NewMessage(RoleAssistant, "b"),
		NewUserMessage("c"),
		NewMessage(RoleAssistant, "d"),
	}
	assert.Equal(t, 2, LastUserIndex(msgs))
	assert.Equal(t, -1, LastUserIndex(msgs[1:2]))
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestCatalog(t *testing.T) {
	models := Catalog()
	require.Len(t, models, 5)
	assert.Equal(t, DefaultModelID, models[0].ID)

	models[0].Name = "changed"
	assert.NotEqual(t, "changed", Catalog()[0].Name)

	info, ok := LookupModel("claude 3 haiku")
	require.True(t, ok)
	assert.Equal(t, "anthropic/claude-3-haiku", info.ID)
	assert.Equal(t, "custom/model", ModelName("custom/model"))
}

func TestPreferences_Normalize(t *testing.T) {
	p := Preferences{ThemeIsDark: true}.Normalize()
	assert.Equal(t, DefaultModelID, p.SelectedModelID)
	assert.True(t, p.ThemeIsDark)
}
