// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter writes a standalone page. Structured messages are rendered
// from Markdown; raw HTML in messages is never passed through.
type HTMLExporter struct {
	options *Options
	md      goldmark.Markdown
}

// NewHTMLExporter creates an HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	// The default renderer omits raw HTML ("unsafe" is off).
	return &HTMLExporter{
		options: opts,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

type htmlMessage struct {
	Role      string
	Label     string
	Timestamp string
	Body      template.HTML
}

type htmlPage struct {
	Title    string
	Meta     bool
	Created  string
	Updated  string
	Count    int
	Messages []htmlMessage
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:48rem;margin:2rem auto;padding:0 1rem;color:#1f2937}
.msg{border-radius:.5rem;padding:.75rem 1rem;margin:1rem 0}
.user{background:#eff6ff}
.assistant{background:#f3f4f6}
.meta,.ts{color:#6b7280;font-size:.85em}
pre{background:#111827;color:#f9fafb;padding:.75rem;border-radius:.375rem;overflow-x:auto}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Meta}}<p class="meta">Created {{.Created}} &middot; Updated {{.Updated}} &middot; {{.Count}} messages</p>{{end}}
{{range .Messages}}<div class="msg {{.Role}}">
<strong>{{.Label}}</strong>{{if .Timestamp}} <span class="ts">{{.Timestamp}}</span>{{end}}
{{.Body}}
</div>
{{end}}</body>
</html>
`))

// Export converts a conversation to HTML.
func (e *HTMLExporter) Export(conv model.Conversation) ([]byte, error) {
	if len(conv.Messages) == 0 {
		return nil, ErrEmpty
	}

	page := htmlPage{
		Title:   conv.Title,
		Meta:    e.options.IncludeMetadata,
		Created: formatTimestamp(conv.CreatedAt),
		Updated: formatTimestamp(conv.UpdatedAt),
		Count:   len(conv.Messages),
	}
	for _, msg := range conv.Messages {
		body, err := e.renderBody(msg)
		if err != nil {
			return nil, err
		}
		hm := htmlMessage{
			Role:  string(msg.Role),
			Label: msg.Role.DisplayName(),
			Body:  body,
		}
		if e.options.IncludeTimestamps {
			hm.Timestamp = formatTimestamp(msg.CreatedAt)
		}
		page.Messages = append(page.Messages, hm)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *HTMLExporter) renderBody(msg model.Message) (template.HTML, error) {
	if !msg.IsStructuredText {
		return template.HTML("<p>" + template.HTMLEscapeString(msg.Content) + "</p>"), nil
	}
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(msg.Content), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string { return ".html" }

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string { return "text/html" }
