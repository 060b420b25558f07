// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import "github.com/jeranaias/parley/internal/pipeline"

// RefreshMsg asks the screen to re-read the session and redraw. It is
// produced by the Notifier.
type RefreshMsg struct{}

// SendDoneMsg reports a settled send or edit.
type SendDoneMsg struct {
	Outcome pipeline.Outcome
	Err     error
}

// ListenDoneMsg carries the compose text after dictation.
type ListenDoneMsg struct {
	Text string
	Err  error
}
