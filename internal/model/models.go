// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import "strings"

// DefaultModelID is the completion model selected for new users.
const DefaultModelID = "mistralai/mistral-7b-instruct:free"

// =============================================================================
// PREFERENCES
// =============================================================================

// Preferences are the per-scope user settings. Last write wins.
type Preferences struct {
	ThemeIsDark     bool   `json:"isDarkMode"`
	SelectedModelID string `json:"selectedModel"`
}

// DefaultPreferences returns the preferences of a fresh scope.
func DefaultPreferences() Preferences {
	return Preferences{SelectedModelID: DefaultModelID}
}

// Normalize fills an empty model id with the default.
func (p Preferences) Normalize() Preferences {
	if strings.TrimSpace(p.SelectedModelID) == "" {
		p.SelectedModelID = DefaultModelID
	}
	return p
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// ModelInfo describes a selectable completion model.
type ModelInfo struct {
	// ID is the model identifier sent to the completion endpoint
	ID string `json:"id"`

	// Name is the human-readable display name
	Name string `json:"name"`

	// Description is a brief explanation of the model's strengths
	Description string `json:"description"`

	// Free marks models served without cost
	Free bool `json:"free,omitempty"`
}

var catalog = []ModelInfo{
	{
		ID:          DefaultModelID,
		Name:        "Mistral 7B (Free)",
		Description: "Fast and efficient open model",
		Free:        true,
	},
	{
		ID:          "openai/gpt-3.5-turbo",
		Name:        "GPT-3.5 Turbo",
		Description: "Quick and capable general assistant",
	},
	{
		ID:          "openai/gpt-4",
		Name:        "GPT-4",
		Description: "Strong reasoning for complex tasks",
	},
	{
		ID:          "anthropic/claude-3-haiku",
		Name:        "Claude 3 Haiku",
		Description: "Fast and efficient for simple tasks",
	},
	{
		ID:          "anthropic/claude-3-sonnet",
		Name:        "Claude 3 Sonnet",
		Description: "Balanced speed and capability",
	},
}

// Catalog returns the selectable models in display order.
func Catalog() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// LookupModel finds a catalog entry by ID or case-insensitive name.
func LookupModel(idOrName string) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.ID == idOrName || strings.EqualFold(m.Name, idOrName) {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ModelName returns the display name of id, or id itself when unknown.
func ModelName(id string) string {
	if m, ok := LookupModel(id); ok {
		return m.Name
	}
	return id
}
