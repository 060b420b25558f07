// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme holds the styles for one color scheme. The scheme follows the
// user's saved preference rather than the terminal background.
type Theme struct {
	IsDark bool

	// ==========================================================================
	// LAYOUT
	// ==========================================================================

	App    lipgloss.Style
	Header lipgloss.Style
	Brand  lipgloss.Style
	Meta   lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Body           lipgloss.Style
	ErrorBody      lipgloss.Style
	Timestamp      lipgloss.Style
	Cursor         lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS
	// ==========================================================================

	Input     lipgloss.Style
	StatusBar lipgloss.Style
	StatusErr lipgloss.Style
	Help      lipgloss.Style

	// ==========================================================================
	// HISTORY PANEL
	// ==========================================================================

	Panel       lipgloss.Style
	PanelTitle  lipgloss.Style
	RowSelected lipgloss.Style
	RowActive   lipgloss.Style
	Row         lipgloss.Style
}

// NewTheme builds the light or dark theme.
func NewTheme(dark bool) *Theme {
	c := func(ac lipgloss.AdaptiveColor) lipgloss.Color { return Resolve(ac, dark) }

	t := &Theme{IsDark: dark}

	t.App = lipgloss.NewStyle().
		Background(c(Surface)).
		Foreground(c(TextPrimary))
	t.Header = lipgloss.NewStyle().
		Background(c(SurfaceDim)).
		Foreground(c(TextSecondary)).
		Padding(0, 1)
	t.Brand = lipgloss.NewStyle().
		Foreground(c(Cyan)).
		Bold(true)
	t.Meta = lipgloss.NewStyle().
		Foreground(c(TextMuted))

	t.UserLabel = lipgloss.NewStyle().
		Foreground(c(Cyan)).
		Bold(true)
	t.AssistantLabel = lipgloss.NewStyle().
		Foreground(c(Purple)).
		Bold(true)
	t.Body = lipgloss.NewStyle().
		Foreground(c(TextPrimary)).
		PaddingLeft(2)
	t.ErrorBody = lipgloss.NewStyle().
		Foreground(c(Rose)).
		PaddingLeft(2)
	t.Timestamp = lipgloss.NewStyle().
		Foreground(c(TextMuted))
	t.Cursor = lipgloss.NewStyle().
		Foreground(c(Purple))

	t.Input = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(c(Overlay)).
		Padding(0, 1)
	t.StatusBar = lipgloss.NewStyle().
		Foreground(c(TextSecondary)).
		Padding(0, 1)
	t.StatusErr = lipgloss.NewStyle().
		Foreground(c(Rose)).
		Padding(0, 1)
	t.Help = lipgloss.NewStyle().
		Foreground(c(TextMuted)).
		Padding(0, 1)

	t.Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(c(Purple)).
		Padding(0, 1)
	t.PanelTitle = lipgloss.NewStyle().
		Foreground(c(Purple)).
		Bold(true).
		MarginBottom(1)
	t.RowSelected = lipgloss.NewStyle().
		Background(c(SelectionBg)).
		Foreground(c(TextPrimary))
	t.RowActive = lipgloss.NewStyle().
		Foreground(c(Emerald))
	t.Row = lipgloss.NewStyle().
		Foreground(c(TextPrimary))

	return t
}

// GlamourStyle names the glamour standard style matching the theme.
func (t *Theme) GlamourStyle() string {
	if t.IsDark {
		return "dark"
	}
	return "light"
}
