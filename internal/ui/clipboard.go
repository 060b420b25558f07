// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"

	"github.com/atotto/clipboard"
)

// CopyToClipboard writes text to the system clipboard. Tests replace it.
var CopyToClipboard = clipboard.WriteAll

// sizeInfo describes a copied text length for status lines.
func sizeInfo(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d chars", n)
	}
	return fmt.Sprintf("%.1fK chars", float64(n)/1000)
}
