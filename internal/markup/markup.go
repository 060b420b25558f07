// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markup turns structured reply text (Markdown) into plain text for
// the clipboard and for speech.
package markup

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/unicode/norm"
)

var parser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()

// PlainText strips headings, emphasis, list markers, code fences, link
// targets and raw HTML from src, keeping the readable text. Blocks are
// separated by single newlines. The result is NFC normalized.
func PlainText(src string) string {
	source := []byte(src)
	doc := parser.Parse(text.NewReader(source))

	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				cur.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					cur.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				cur.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				cur.Write(node.Label(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				flush()
				segs := n.Lines()
				for i := 0; i < segs.Len(); i++ {
					seg := segs.At(i)
					cur.Write(seg.Value(source))
					flush()
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *east.TableCell:
			if !entering {
				cur.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		if !entering && n.Type() == ast.TypeBlock {
			flush()
		}
		return ast.WalkContinue, nil
	})
	flush()

	return norm.NFC.String(strings.Join(lines, "\n"))
}

// SingleLine is PlainText with every line break folded into a space.
func SingleLine(src string) string {
	return strings.Join(strings.Fields(PlainText(src)), " ")
}
