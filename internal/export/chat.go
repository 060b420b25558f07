// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/markup"
	"github.com/jeranaias/parley/internal/model"
)

// ChatTimestampLayout is the per-message timestamp in chat exports
// (month/day/year, 12-hour clock).
const ChatTimestampLayout = "1/2/2006, 3:04:05 PM"

// ChatFilename is the file name of a chat export made at now.
func ChatFilename(now time.Time) string {
	return "chat-export-" + now.UTC().Format("2006-01-02") + ".md"
}

// Chat renders the active message list. Each message becomes
// "**You** (timestamp)\ncontent\n\n" (or "**Assistant**").
func Chat(messages []model.Message, now time.Time) (filename string, content []byte) {
	var sb strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&sb, "**%s** (%s)\n%s\n\n",
			msg.Role.DisplayName(),
			msg.CreatedAt.Local().Format(ChatTimestampLayout),
			msg.Content,
		)
	}
	return ChatFilename(now), []byte(sb.String())
}

// CopyText returns the clipboard text for a message. Structured text has
// its markup removed and runs of blank lines collapsed.
func CopyText(content string, structured bool) string {
	if !structured {
		return content
	}
	return markup.PlainText(content)
}
