// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"testing"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "just text", "just text"},
		{"heading", "# Title\n\nBody", "Title\nBody"},
		{"emphasis", "some **bold** and _italic_ and ~~gone~~", "some bold and italic and gone"},
		{"inline code", "run `go test` now", "run go test now"},
		{"list", "- one\n- two\n\n1. three", "one\ntwo\nthree"},
		{"fence", "Look:\n\n```go\nfmt.Println(1)\n```\n", "Look:\nfmt.Println(1)"},
		{"link", "see [the docs](https://example.com)", "see the docs"},
		{"autolink", "visit https://example.com today", "visit https://example.com today"},
		{"html", "a <b>tag</b> here", "a tag here"},
		{"soft break", "line one\nline two", "line one\nline two"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPlainText_NFC(t *testing.T) {
	// "e" followed by a combining acute accent composes to "é".
	if got := PlainText("cafe\u0301"); got != "caf\u00e9" {
		t.Errorf("PlainText = %q, want composed form", got)
	}
}

func TestSingleLine(t *testing.T) {
	if got := SingleLine("## Title\n\n* first\n* second"); got != "Title first second" {
		t.Errorf("SingleLine = %q", got)
	}
}
