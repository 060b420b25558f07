// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// ErrEmpty is returned when there is nothing to export.
var ErrEmpty = errors.New("nothing to export")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a stored conversation.
type Exporter interface {
	// Export converts a conversation to the target format.
	Export(conv model.Conversation) ([]byte, error)

	// FileExtension returns the extension including the dot.
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// Format names an exporter.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
)

// ParseFormat accepts a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "html", "htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want markdown, json or html)", s)
}

// New returns the exporter for f.
func New(f Format, opts *Options) Exporter {
	switch f {
	case FormatJSON:
		return NewJSONExporter(opts)
	case FormatHTML:
		return NewHTMLExporter(opts)
	default:
		return NewMarkdownExporter(opts)
	}
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where Write saves files. Default: current directory.
	OutputDir string

	// IncludeMetadata adds a header with title, dates and message count.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool

	// Now stamps the export; time.Now when nil.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

func (o *Options) now() time.Time {
	if o == nil || o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// =============================================================================
// WRITING
// =============================================================================

// Write saves data as name under opts.OutputDir and returns the path.
func Write(name string, data []byte, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := util.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// ConversationFilename names an export of conv, e.g.
// "conversation_Trip_ideas_2025-03-01.md".
func ConversationFilename(conv model.Conversation, e Exporter, now time.Time) string {
	return fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(conv.Title),
		now.Format("2006-01-02"),
		e.FileExtension(),
	)
}

// ExportConversation renders conv with the exporter for f and writes it.
func ExportConversation(conv model.Conversation, f Format, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	e := New(f, opts)
	data, err := e.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	return Write(ConversationFilename(conv, e, opts.now()), data, opts)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			out = append(out, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = append(out, '_')
		case r < 32 || r == 127:
			out = append(out, '-')
		case r == '…':
			// title ellipsis
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "conversation"
	}
	return string(out)
}

// formatTimestamp formats a timestamp for headers.
func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
