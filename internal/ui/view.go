// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

const (
	// revealCursor trails a reply while it is being revealed
	revealCursor = "▌"

	// timeLayout stamps each message
	timeLayout = "15:04"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.history {
		b.WriteString(m.renderHistory())
	} else {
		b.WriteString(m.viewport.View())
	}
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.theme.Input.Width(max(m.width-2, 10)).Render(m.input.View()))
	b.WriteString("\n")
	if m.history {
		b.WriteString(m.theme.Help.Render(m.help.View(m.historyKeys)))
	} else {
		b.WriteString(m.theme.Help.Render(m.help.View(m.keys)))
	}
	return b.String()
}

func (m Model) renderHeader() string {
	prefs := m.sess.Preferences()
	left := m.theme.Brand.Render("parley")
	right := m.theme.Meta.Render(model.ModelName(prefs.SelectedModelID) + " · " + scopeLabel(m.sess.Scope()))
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return m.theme.Header.Width(max(m.width, 10)).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderStatus() string {
	switch {
	case m.sess.Switching():
		return m.theme.StatusBar.Render(m.spinner.View() + " Switching account...")
	case m.listening:
		return m.theme.StatusBar.Render(m.spinner.View() + " Listening...")
	case m.sending:
		return m.theme.StatusBar.Render(m.spinner.View() + " Thinking...")
	case m.status != "" && m.statusErr:
		return m.theme.StatusErr.Render(m.status)
	case m.status != "":
		return m.theme.StatusBar.Render(m.status)
	case m.sess.IsSpeaking():
		return m.theme.StatusBar.Render("Speaking (C-s to stop)")
	}
	return m.theme.StatusBar.Render(" ")
}

// renderTranscript draws every message of the active conversation. The
// message being revealed shows its partial text and a cursor.
func (m *Model) renderTranscript(width int) string {
	msgs := m.sess.Messages()
	if len(msgs) == 0 {
		return m.theme.Meta.Render("\n  Start a conversation by typing below.\n")
	}
	revealID, partial := m.sess.RevealStatus()

	var b strings.Builder
	for _, msg := range msgs {
		label := m.theme.AssistantLabel.Render("Assistant")
		if msg.IsUser() {
			label = m.theme.UserLabel.Render("You")
		}
		b.WriteString(label)
		if !msg.CreatedAt.IsZero() {
			b.WriteString(" " + m.theme.Timestamp.Render(msg.CreatedAt.Local().Format(timeLayout)))
		}
		b.WriteString("\n")

		content := msg.Content
		revealing := revealID != "" && msg.ID == revealID
		if revealing {
			content = partial
		}

		switch {
		case revealing:
			b.WriteString(m.theme.Body.Width(max(width-2, 10)).Render(content + m.theme.Cursor.Render(revealCursor)))
		case isErrorReply(msg):
			b.WriteString(m.theme.ErrorBody.Width(max(width-2, 10)).Render(content))
		case msg.IsStructuredText:
			b.WriteString(m.renderMarkdown(content, width))
		default:
			b.WriteString(m.theme.Body.Width(max(width-2, 10)).Render(content))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderMarkdown renders structured content, rebuilding the renderer when
// the width or theme changed. Plain content is the fallback.
func (m *Model) renderMarkdown(content string, width int) string {
	if m.renderer == nil || m.rendererWidth != width || m.rendererDark != m.theme.IsDark {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.theme.GlamourStyle()),
			glamour.WithWordWrap(max(width-4, 20)),
		)
		if err != nil {
			return m.theme.Body.Render(content)
		}
		m.renderer, m.rendererWidth, m.rendererDark = r, width, m.theme.IsDark
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return m.theme.Body.Render(content)
	}
	return strings.Trim(out, "\n")
}

// renderHistory draws the saved conversation list, newest first.
func (m Model) renderHistory() string {
	convs := m.sess.Conversations()
	inner := max(m.width-6, 20)

	var b strings.Builder
	b.WriteString(m.theme.PanelTitle.Render("Conversations"))
	b.WriteString("\n")
	if len(convs) == 0 {
		b.WriteString(m.theme.Meta.Render("No saved conversations"))
	}

	current := m.sess.CurrentID()
	rows := max(m.viewport.Height-4, 1)
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	for i := start; i < len(convs) && i < start+rows; i++ {
		c := convs[i]
		date := c.UpdatedAt.Local().Format("Jan 2 15:04")
		title := util.PadRight(util.Truncate(c.Title, inner-len(date)-3), inner-len(date)-3)
		row := title + "  " + date

		switch {
		case i == m.cursor:
			row = m.theme.RowSelected.Render("› " + row)
		case c.ID == current:
			row = m.theme.RowActive.Render("• " + row)
		default:
			row = m.theme.Row.Render("  " + row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	return m.theme.Panel.
		Width(max(m.width-2, 10)).
		Height(max(m.viewport.Height-2, 1)).
		Render(strings.TrimRight(b.String(), "\n"))
}
