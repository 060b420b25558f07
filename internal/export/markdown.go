// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(conv model.Conversation) ([]byte, error) {
	if len(conv.Messages) == 0 {
		return nil, ErrEmpty
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(conv.Title))
		fmt.Fprintf(&sb, "id: %s\n", conv.ID)
		fmt.Fprintf(&sb, "created: %s\n", conv.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", conv.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(conv.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("generator: parley\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.Title))

	for i, msg := range conv.Messages {
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", msg.Role.DisplayName(), formatTimestamp(msg.CreatedAt))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", msg.Role.DisplayName())
		}
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")
		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string { return "text/markdown" }

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		"#", "\\#",
		"*", "\\*",
		"_", "\\_",
		"[", "\\[",
		"]", "\\]",
	).Replace(s)
}

// escapeYAML quotes a frontmatter value when it contains special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.NewReplacer(
			"\\", "\\\\",
			"\"", "\\\"",
			"\n", "\\n",
			"\r", "\\r",
		).Replace(s)
		return `"` + s + `"`
	}
	return s
}
