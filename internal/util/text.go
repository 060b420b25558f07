// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// Truncate shortens s to at most width terminal cells, ending with an
// ellipsis when anything was cut. Newlines are folded to spaces first.
func Truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, Ellipsis)
}

// PadRight pads s with spaces to width terminal cells.
func PadRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// Width returns the display width of s in terminal cells.
func Width(s string) int {
	return runewidth.StringWidth(s)
}
