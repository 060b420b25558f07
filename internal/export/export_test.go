// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

func testConversation() model.Conversation {
	at := time.Date(2025, 3, 1, 14, 5, 9, 0, time.Local)
	return model.Conversation{
		ID:    "c1",
		Title: "Trip: ideas",
		Messages: []model.Message{
			{ID: "m1", Role: model.RoleUser, Content: "Where to go?", CreatedAt: at},
			{ID: "m2", Role: model.RoleAssistant, Content: "## Options\n\n- **Lisbon**", CreatedAt: at.Add(time.Second), IsStructuredText: true},
		},
		CreatedAt: at,
		UpdatedAt: at.Add(time.Second),
	}
}

func TestChat(t *testing.T) {
	conv := testConversation()
	name, data := Chat(conv.Messages, time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC))

	if name != "chat-export-2025-03-02.md" {
		t.Errorf("filename = %q", name)
	}
	want := "**You** (3/1/2025, 2:05:09 PM)\nWhere to go?\n\n" +
		"**Assistant** (3/1/2025, 2:05:10 PM)\n## Options\n\n- **Lisbon**\n\n"
	if string(data) != want {
		t.Errorf("content =\n%q\nwant\n%q", data, want)
	}
}

func TestChatFilename_UsesUTCDate(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"utc", time.Date(2025, 3, 2, 23, 59, 0, 0, time.UTC), "chat-export-2025-03-02.md"},
		{"ahead of utc", time.Date(2025, 3, 2, 5, 0, 0, 0, time.FixedZone("UTC+14", 14*3600)), "chat-export-2025-03-01.md"},
		{"behind utc", time.Date(2025, 3, 2, 20, 0, 0, 0, time.FixedZone("UTC-8", -8*3600)), "chat-export-2025-03-03.md"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ChatFilename(tc.now); got != tc.want {
				t.Errorf("ChatFilename(%v) = %q, want %q", tc.now, got, tc.want)
			}
		})
	}
}

func TestChat_Empty(t *testing.T) {
	_, data := Chat(nil, time.Now())
	if len(data) != 0 {
		t.Errorf("expected empty export, got %q", data)
	}
}

func TestCopyText(t *testing.T) {
	if got := CopyText("**raw** text", false); got != "**raw** text" {
		t.Errorf("unstructured text changed: %q", got)
	}
	if got := CopyText("# Head\n\n\n\nSome *text*", true); got != "Head\nSome text" {
		t.Errorf("CopyText = %q", got)
	}
}

func TestMarkdownExporter(t *testing.T) {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC) }
	data, err := NewMarkdownExporter(opts).Export(testConversation())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		"title: \"Trip: ideas\"\n",
		"messages: 2\n",
		"generator: parley\n",
		"# Trip: ideas\n",
		"### You <sub>",
		"### Assistant <sub>",
		"- **Lisbon**",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	if _, err := NewMarkdownExporter(nil).Export(model.Conversation{}); err != ErrEmpty {
		t.Errorf("empty conversation error = %v, want ErrEmpty", err)
	}
}

func TestYAMLNewlineInjection(t *testing.T) {
	conv := testConversation()
	conv.Title = "Test\ninjected: value"
	data, err := NewMarkdownExporter(nil).Export(conv)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "\ninjected: value\n") {
		t.Error("newline in title escaped the frontmatter value")
	}
}

func TestJSONExporter_RoundTrip(t *testing.T) {
	conv := testConversation()
	data, err := NewJSONExporter(nil).Export(conv)
	if err != nil {
		t.Fatal(err)
	}
	var back model.Conversation
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.ID != conv.ID || back.Title != conv.Title || len(back.Messages) != 2 {
		t.Errorf("round trip mismatch: %+v", back)
	}
	if !back.Messages[1].IsStructuredText {
		t.Error("structured flag lost")
	}
}

func TestHTMLExporter_EscapesRawHTML(t *testing.T) {
	conv := testConversation()
	conv.Messages[0].Content = "<script>alert('xss')</script>"
	conv.Messages[1].Content = "ok <script>alert(1)</script>\n\n```<b>\ncode\n```"

	data, err := NewHTMLExporter(nil).Export(conv)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "<script>") {
		t.Errorf("raw script tag in output:\n%s", out)
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Error("user content not escaped")
	}
	if !strings.Contains(out, "<h2>Options</h2>") && !strings.Contains(out, "<pre><code") {
		t.Error("structured content not rendered")
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatMarkdown, "md": FormatMarkdown, ".json": FormatJSON, "HTML": FormatHTML}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestExportConversation_WritesFile(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.OutputDir = dir
	opts.Now = func() time.Time { return time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC) }

	path, err := ExportConversation(testConversation(), FormatJSON, opts)
	if err != nil {
		t.Fatalf("ExportConversation failed: %v", err)
	}
	if filepath.Base(path) != "conversation_Trip-_ideas_2025-03-03.json" {
		t.Errorf("path = %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not written: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                     "conversation",
		"a/b\\c":               "a-b-c",
		"hello world":          "hello_world",
		"one two three four…":  "one_two_three_four",
		strings.Repeat("x", 80): strings.Repeat("x", 50),
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
