// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/parley/internal/export"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/pipeline"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/voice"
)

// Session is the chat session driven by the screen. session.Manager
// implements it.
type Session interface {
	Send(ctx context.Context, text string, atts ...pipeline.Attachment) (pipeline.Outcome, error)
	EditLast(ctx context.Context, text string) (pipeline.Outcome, error)
	Messages() []model.Message
	RevealStatus() (messageID, partial string)
	NewChat() error
	LoadConversation(id string) error
	DeleteConversation(id string) error
	Conversations() []model.Conversation
	CurrentID() string
	Preferences() model.Preferences
	ToggleTheme() (bool, error)
	SetModel(idOrName string) (string, error)
	Export() (filename string, content []byte, err error)
	CopyText(id string) (string, error)
	Listen(ctx context.Context) (string, error)
	TakeComposeText() string
	Speak(text string) error
	StopSpeaking()
	IsSpeaking() bool
	Switching() bool
	Scope() storage.Scope
}

// =============================================================================
// NOTIFIER
// =============================================================================

// Notifier coalesces session events into redraw requests. Signal never
// blocks, so it is safe to call from pipeline observers and reveal timers.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Signal requests a redraw.
func (n *Notifier) Signal() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Observe is a pipeline.Observer that requests a redraw.
func (n *Notifier) Observe(pipeline.Event) { n.Signal() }

func (n *Notifier) wait() tea.Cmd {
	return func() tea.Msg {
		<-n.ch
		return RefreshMsg{}
	}
}

// =============================================================================
// MODEL
// =============================================================================

// Options configures the chat screen.
type Options struct {
	Session  Session
	Notifier *Notifier
	// ExportDir receives exported transcripts; the working directory when empty.
	ExportDir string
	// Context bounds sends and dictation; context.Background when nil.
	Context context.Context
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	sess      Session
	notifier  *Notifier
	ctx       context.Context
	exportDir string

	keys        KeyMap
	historyKeys HistoryKeyMap
	help        help.Model
	input       textarea.Model
	viewport    viewport.Model
	spinner     spinner.Model

	theme         *Theme
	renderer      *glamour.TermRenderer
	rendererWidth int
	rendererDark  bool

	width  int
	height int
	ready  bool

	sending   bool
	listening bool
	history   bool
	cursor    int

	status    string
	statusErr bool
}

// New creates the chat screen.
func New(opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewNotifier()
	}

	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		sess:        opts.Session,
		notifier:    opts.Notifier,
		ctx:         opts.Context,
		exportDir:   opts.ExportDir,
		keys:        DefaultKeyMap(),
		historyKeys: DefaultHistoryKeyMap(),
		help:        help.New(),
		input:       ta,
		viewport:    viewport.New(80, 20),
		spinner:     sp,
	}
	m.theme = NewTheme(m.sess.Preferences().ThemeIsDark)
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.notifier.wait())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case RefreshMsg:
		m.refresh()
		return m, m.notifier.wait()

	case SendDoneMsg:
		return m.handleSendDone(msg)

	case ListenDoneMsg:
		return m.handleListenDone(msg)

	case spinner.TickMsg:
		if !m.sending && !m.listening {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.history {
			return m.handleHistoryKey(msg)
		}
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.input.SetWidth(max(msg.Width-4, 10))
	m.help.Width = msg.Width
	m.layout()
	m.ready = true
	m.refresh()
	return m, nil
}

// layout sizes the viewport to what the header, status, input and help
// leave free.
func (m *Model) layout() {
	reserved := 1 + 1 + m.input.Height() + 2 + 1
	if m.help.ShowAll {
		reserved += len(m.keys.FullHelp()) - 1
	}
	m.viewport.Width = max(m.width, 10)
	m.viewport.Height = max(m.height-reserved, 3)
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.sess.StopSpeaking()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit(false)

	case key.Matches(msg, m.keys.EditLast):
		if strings.TrimSpace(m.input.Value()) == "" {
			if last, ok := lastOfRole(m.sess.Messages(), model.RoleUser); ok {
				m.input.SetValue(last.Content)
				m.setStatus("Editing last message; C-r resends", false)
			}
			return m, nil
		}
		return m.submit(true)

	case key.Matches(msg, m.keys.NewChat):
		if err := m.sess.NewChat(); err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		m.setStatus("New chat", false)
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.History):
		m.openHistory()
		return m, nil

	case key.Matches(msg, m.keys.ToggleTheme):
		dark, err := m.sess.ToggleTheme()
		if err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		m.theme = NewTheme(dark)
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.CycleModel):
		id := NextModel(m.sess.Preferences().SelectedModelID)
		if _, err := m.sess.SetModel(id); err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		m.setStatus("Model: "+model.ModelName(id), false)
		return m, nil

	case key.Matches(msg, m.keys.Export):
		m.exportChat()
		return m, nil

	case key.Matches(msg, m.keys.Copy):
		m.copyLastReply()
		return m, nil

	case key.Matches(msg, m.keys.Listen):
		if m.listening {
			return m, nil
		}
		m.listening = true
		m.setStatus("", false)
		return m, tea.Batch(m.listen(), m.spinner.Tick)

	case key.Matches(msg, m.keys.Speak):
		m.toggleSpeech()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input, or replaces the last user message when edit is set.
func (m Model) submit(edit bool) (tea.Model, tea.Cmd) {
	if m.sending {
		return m, nil
	}
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.input.Reset()
	m.sess.TakeComposeText()
	m.sending = true
	m.setStatus("", false)

	sess, ctx := m.sess, m.ctx
	send := func() tea.Msg {
		var (
			out pipeline.Outcome
			err error
		)
		if edit {
			out, err = sess.EditLast(ctx, text)
		} else {
			out, err = sess.Send(ctx, text)
		}
		return SendDoneMsg{Outcome: out, Err: err}
	}
	return m, tea.Batch(send, m.spinner.Tick)
}

func (m Model) handleSendDone(msg SendDoneMsg) (tea.Model, tea.Cmd) {
	m.sending = false
	switch {
	case msg.Err == nil && msg.Outcome.Failed:
		m.setStatus("The reply failed; see the message above", true)
	case msg.Err == nil,
		errors.Is(msg.Err, pipeline.ErrEmptyInput),
		errors.Is(msg.Err, pipeline.ErrAbandoned):
	default:
		m.setStatus(msg.Err.Error(), true)
	}
	m.refresh()
	return m, nil
}

func (m Model) listen() tea.Cmd {
	sess, ctx := m.sess, m.ctx
	return func() tea.Msg {
		text, err := sess.Listen(ctx)
		return ListenDoneMsg{Text: text, Err: err}
	}
}

func (m Model) handleListenDone(msg ListenDoneMsg) (tea.Model, tea.Cmd) {
	m.listening = false
	if msg.Err != nil {
		if errors.Is(msg.Err, voice.ErrUnavailable) {
			m.setStatus("Dictation is not configured", true)
		} else {
			m.setStatus(msg.Err.Error(), true)
		}
		return m, nil
	}
	m.input.SetValue(msg.Text)
	m.input.CursorEnd()
	return m, nil
}

func (m *Model) toggleSpeech() {
	if m.sess.IsSpeaking() {
		m.sess.StopSpeaking()
		return
	}
	last, ok := lastOfRole(m.sess.Messages(), model.RoleAssistant)
	if !ok {
		return
	}
	if err := m.sess.Speak(last.Content); err != nil {
		if errors.Is(err, voice.ErrUnavailable) {
			m.setStatus("Speech is not configured", true)
			return
		}
		m.setStatus(err.Error(), true)
	}
}

func (m *Model) copyLastReply() {
	last, ok := lastOfRole(m.sess.Messages(), model.RoleAssistant)
	if !ok || last.Content == "" {
		m.setStatus("No response to copy", true)
		return
	}
	text, err := m.sess.CopyText(last.ID)
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	if err := CopyToClipboard(text); err != nil {
		m.setStatus("Failed to copy: "+err.Error(), true)
		return
	}
	m.setStatus("Copied response to clipboard ("+sizeInfo(len(text))+")", false)
}

func (m *Model) exportChat() {
	name, data, err := m.sess.Export()
	if err != nil {
		if errors.Is(err, export.ErrEmpty) {
			m.setStatus("Nothing to export", true)
			return
		}
		m.setStatus(err.Error(), true)
		return
	}
	opts := export.DefaultOptions()
	opts.OutputDir = m.exportDir
	path, err := export.Write(name, data, opts)
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.setStatus("Exported to "+path, false)
}

// =============================================================================
// HISTORY PANEL
// =============================================================================

func (m *Model) openHistory() {
	m.history = true
	m.cursor = 0
	current := m.sess.CurrentID()
	for i, c := range m.sess.Conversations() {
		if c.ID == current {
			m.cursor = i
			break
		}
	}
}

func (m Model) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	convs := m.sess.Conversations()
	switch {
	case key.Matches(msg, m.historyKeys.Close):
		m.history = false

	case key.Matches(msg, m.historyKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.historyKeys.Down):
		if m.cursor < len(convs)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.historyKeys.Open):
		if m.cursor < len(convs) {
			if err := m.sess.LoadConversation(convs[m.cursor].ID); err != nil {
				m.setStatus(err.Error(), true)
			}
			m.history = false
			m.refresh()
		}

	case key.Matches(msg, m.historyKeys.Delete):
		if m.cursor < len(convs) {
			if err := m.sess.DeleteConversation(convs[m.cursor].ID); err != nil {
				m.setStatus(err.Error(), true)
			}
			if m.cursor >= len(convs)-1 && m.cursor > 0 {
				m.cursor--
			}
			m.refresh()
		}

	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	}
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

// refresh re-renders the transcript into the viewport, following the
// bottom when it was already there.
func (m *Model) refresh() {
	if dark := m.sess.Preferences().ThemeIsDark; dark != m.theme.IsDark {
		m.theme = NewTheme(dark)
	}
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(m.renderTranscript(m.viewport.Width))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// NextModel returns the catalog entry after id, wrapping around.
func NextModel(id string) string {
	catalog := model.Catalog()
	for i, info := range catalog {
		if info.ID == id {
			return catalog[(i+1)%len(catalog)].ID
		}
	}
	return catalog[0].ID
}

func lastOfRole(msgs []model.Message, role model.Role) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

// isErrorReply reports whether msg is the assistant message shown for a
// failed request.
func isErrorReply(msg model.Message) bool {
	return msg.IsAssistant() && !msg.IsStructuredText && strings.HasPrefix(msg.Content, "Error: ")
}

func scopeLabel(s storage.Scope) string {
	if s.IsGuest() {
		return "guest"
	}
	return fmt.Sprintf("signed in as %s", s.UserID())
}
