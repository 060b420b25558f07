// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"github.com/charmbracelet/bubbles/key"
)

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines the keyboard bindings of the chat screen.
type KeyMap struct {
	Submit      key.Binding
	Newline     key.Binding
	EditLast    key.Binding
	NewChat     key.Binding
	History     key.Binding
	ToggleTheme key.Binding
	CycleModel  key.Binding
	Export      key.Binding
	Copy        key.Binding
	Listen      key.Binding
	Speak       key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	Help        key.Binding
	Quit        key.Binding
}

// HistoryKeyMap defines the bindings of the history panel.
type HistoryKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Open   key.Binding
	Delete key.Binding
	Close  key.Binding
}

// DefaultKeyMap returns the default chat bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Newline: key.NewBinding(
			key.WithKeys("alt+enter", "ctrl+j"),
			key.WithHelp("alt+enter", "newline"),
		),
		EditLast: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("C-r", "resend edited"),
		),
		NewChat: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "new chat"),
		),
		History: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("C-o", "history"),
		),
		ToggleTheme: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("C-t", "theme"),
		),
		CycleModel: key.NewBinding(
			key.WithKeys("ctrl+p"),
			key.WithHelp("C-p", "next model"),
		),
		Export: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("C-e", "export"),
		),
		Copy: key.NewBinding(
			key.WithKeys("ctrl+y"),
			key.WithHelp("C-y", "copy reply"),
		),
		Listen: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "dictate"),
		),
		Speak: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("C-s", "speak/stop"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll down"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("F1", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "ctrl+q"),
			key.WithHelp("C-c", "quit"),
		),
	}
}

// DefaultHistoryKeyMap returns the default history panel bindings.
func DefaultHistoryKeyMap() HistoryKeyMap {
	return HistoryKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Open: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d", "delete"),
			key.WithHelp("d", "delete"),
		),
		Close: key.NewBinding(
			key.WithKeys("esc", "ctrl+o"),
			key.WithHelp("esc", "close"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.NewChat, k.History, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Newline, k.EditLast, k.NewChat},
		{k.History, k.ToggleTheme, k.CycleModel, k.Export},
		{k.Copy, k.Listen, k.Speak, k.PageUp},
		{k.PageDown, k.Help, k.Quit},
	}
}

// ShortHelp implements help.KeyMap.
func (k HistoryKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Open, k.Delete, k.Close}
}

// FullHelp implements help.KeyMap.
func (k HistoryKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
