// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package ui provides the full-screen terminal chat for parley.

The screen is a Bubble Tea model over a Session. It never keeps its own
copy of the conversation: every redraw re-reads the session's messages
and reveal status, so pipeline events only need to request a redraw.

# Key Types

  - Model: The chat screen (transcript viewport, input, history panel)
  - Session: The operations the screen drives; session.Manager implements it
  - Notifier: Coalesces pipeline and identity events into RefreshMsg
  - Theme: Light and dark styles chosen by the saved preference
  - KeyMap: Keyboard bindings with help text

# Usage

	n := ui.NewNotifier()
	sess.SetObserver(n.Observe)
	sess.OnSwitch(func(storage.Scope) { n.Signal() })

	m := ui.New(ui.Options{Session: sess, Notifier: n})
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()

# Colors

The palette uses Lip Gloss AdaptiveColor values. The CLI lets the terminal
pick the variant; the chat screen resolves them explicitly with Resolve so
that the theme toggle works on any background.
*/
package ui
