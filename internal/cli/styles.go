// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/ui"
)

func init() {
	lipgloss.SetColorProfile(ColorProfile())
}

// =============================================================================
// SHARED STYLES FOR ALL CLI COMMANDS
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ui.Cyan)

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(ui.TextSecondary).
			Width(14)

	// ValueStyle is used for regular values
	ValueStyle = lipgloss.NewStyle().
			Foreground(ui.TextPrimary)

	// SuccessStyle is used for confirmations
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ui.Emerald).
			Bold(true)

	// ErrorStyle is used for failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ui.Rose).
			Bold(true)

	// WarningStyle is used for warnings
	WarningStyle = lipgloss.NewStyle().
			Foreground(ui.Amber)

	// DimStyle is used for hints and timestamps
	DimStyle = lipgloss.NewStyle().
			Foreground(ui.TextMuted)

	// PromptStyle is the chat input prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(ui.Cyan).
			Bold(true)

	// UserStyle labels user messages
	UserStyle = lipgloss.NewStyle().
			Foreground(ui.Cyan).
			Bold(true)

	// AssistantStyle labels assistant messages
	AssistantStyle = lipgloss.NewStyle().
			Foreground(ui.Purple).
			Bold(true)

	// CommandStyle highlights slash commands in help output
	CommandStyle = lipgloss.NewStyle().
			Foreground(ui.Emerald)
)

// RenderSeparator renders a horizontal rule of the given width (default 60).
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return DimStyle.Render(strings.Repeat("─", w))
}

// RenderLabel renders a "label value" row.
func RenderLabel(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// roleLabel is the speaker label printed above a message.
func roleLabel(role model.Role) string {
	if role == model.RoleUser {
		return UserStyle.Render("You")
	}
	return AssistantStyle.Render("Assistant")
}
