// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// JSONResponse is the envelope of every --json output.
type JSONResponse struct {
	// Success is false when Error is set
	Success bool `json:"success"`

	// Data is the command-specific payload
	Data any `json:"data"`

	// Error is the failure message, or null
	Error *string `json:"error"`

	// Timestamp is when the response was generated (RFC 3339, UTC)
	Timestamp string `json:"timestamp"`

	// Command names the command that produced the response
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response to w with two-space indentation.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// outputJSON writes data wrapped in a JSONResponse for command.
func outputJSON(w io.Writer, command string, data any) error {
	return NewJSONResponse(command, data).Write(w)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// ConversationSummary is one row of "sessions list".
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionsData is the payload of "sessions list" and "sessions search".
type SessionsData struct {
	Scope         string                `json:"scope"`
	Conversations []ConversationSummary `json:"conversations"`
}

// ModelsData is the payload of "models".
type ModelsData struct {
	Current string            `json:"current"`
	Models  []model.ModelInfo `json:"models"`
}

// WhoamiData is the payload of "whoami".
type WhoamiData struct {
	SignedIn bool   `json:"signed_in"`
	UserID   string `json:"user_id,omitempty"`
	Remote   string `json:"remote"`
}

func summarize(convs []model.Conversation, currentID string) []ConversationSummary {
	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationSummary{
			ID:        c.ID,
			Title:     c.Title,
			Messages:  c.MessageCount(),
			Current:   c.ID == currentID,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	return out
}
