// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/pipeline"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/util"
)

// chatFlags are the flags of the chat command.
type chatFlags struct {
	raw   bool
	quiet bool
}

func newChatCmd(opts *globalOptions) *cobra.Command {
	var flags chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive line-mode chat",
		Long: `Start an interactive chat that reads one message per line.

Lines starting with / are commands; type /help to list them. Replies are
revealed as they arrive, or rendered as Markdown once complete when stdout
is a terminal.`,
		Example: `  parley chat
  parley chat --raw
  echo "hello" | parley chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.raw, "raw", false, "reveal replies as plain text instead of rendering Markdown")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "skip the welcome banner")
	return cmd
}

func runChat(cmd *cobra.Command, opts *globalOptions, flags chatFlags) error {
	return opts.withApp(cmd, true, func(ctx context.Context, app *App) error {
		r := newREPL(app.Session, cmd.OutOrStdout(), flags.raw || !IsStdoutTTY())
		app.Session.SetObserver(r.observe)
		app.Session.OnSwitch(r.onSwitch)

		in := NewChatCLI()
		defer in.Close()

		if !flags.quiet {
			r.printWelcome()
		}
		return r.loop(ctx, in)
	})
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in the config directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), util.PrivateDirPerm); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// lineReader is what the REPL reads from; ChatCLI implements it.
type lineReader interface {
	ReadInput(prompt string) (string, error)
}

// =============================================================================
// REPL
// =============================================================================

// errQuit ends the loop without an error.
var errQuit = errors.New("quit")

// repl is the line-mode chat loop.
type repl struct {
	sess   *session.Manager
	out    io.Writer
	stream bool

	// mu guards out and the reveal bookkeeping; frames arrive from the
	// reveal timer
	mu       sync.Mutex
	printed  map[string]int
	revealed chan string

	pending []pipeline.Attachment
	md      *glamour.TermRenderer
	mdDark  bool
}

func newREPL(sess *session.Manager, out io.Writer, stream bool) *repl {
	return &repl{
		sess:     sess,
		out:      out,
		stream:   stream,
		printed:  make(map[string]int),
		revealed: make(chan string, 8),
	}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// observe prints reveal frames as deltas in stream mode and signals
// completed reveals.
func (r *repl) observe(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventRevealFrame:
		if !r.stream {
			return
		}
		r.mu.Lock()
		n := r.printed[ev.Frame.MessageID]
		if len(ev.Frame.Partial) > n {
			fmt.Fprint(r.out, ev.Frame.Partial[n:])
			r.printed[ev.Frame.MessageID] = len(ev.Frame.Partial)
		}
		r.mu.Unlock()

	case pipeline.EventRevealDone:
		if r.stream {
			r.mu.Lock()
			n := r.printed[ev.Message.ID]
			if len(ev.Message.Content) > n {
				fmt.Fprint(r.out, ev.Message.Content[n:])
			}
			delete(r.printed, ev.Message.ID)
			r.mu.Unlock()
		}
		select {
		case r.revealed <- ev.Message.ID:
		default:
		}
	}
}

func (r *repl) onSwitch(scope storage.Scope) {
	who := "guest"
	if !scope.IsGuest() {
		who = scope.UserID()
	}
	r.printf("\n%s\n", DimStyle.Render("Session switched to "+who))
}

func (r *repl) printWelcome() {
	prefs := r.sess.Preferences()
	r.printf("%s\n", TitleStyle.Render("parley"))
	r.printf("%s\n", RenderLabel("Model", model.ModelName(prefs.SelectedModelID)))
	r.printf("%s\n", RenderLabel("Session", r.sess.Scope().String()))
	r.printf("%s\n\n", DimStyle.Render("Type /help for commands, /quit to exit."))
	if msgs := r.sess.Messages(); len(msgs) > 0 {
		r.printf("%s\n", DimStyle.Render(fmt.Sprintf("Restored %d messages from your last chat.", len(msgs))))
	}
}

func (r *repl) loop(ctx context.Context, in lineReader) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.ReadInput(PromptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			if errors.Is(err, io.EOF) {
				r.printf("\n")
				return nil
			}
			return err
		}

		text := strings.TrimSpace(line)
		if text == "" && len(r.pending) == 0 {
			continue
		}
		if name, arg, ok := parseSlash(text); ok {
			if err := r.runCommand(ctx, name, arg); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				r.printf("%s %v\n", ErrorStyle.Render("✗"), err)
			}
			continue
		}
		r.send(ctx, text, false)
	}
}

// send runs one exchange and waits for its reply to be fully revealed, so
// that the next message never preempts it.
func (r *repl) send(ctx context.Context, text string, edit bool) {
	atts := r.pending
	r.pending = nil

	var (
		out pipeline.Outcome
		err error
	)
	if r.stream {
		r.printf("%s ", AssistantStyle.Render("assistant>"))
	} else {
		r.printf("%s\n", DimStyle.Render("Thinking..."))
	}
	if edit {
		out, err = r.sess.EditLast(ctx, text)
	} else {
		out, err = r.sess.Send(ctx, text, atts...)
	}
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput), errors.Is(err, pipeline.ErrAbandoned):
		r.printf("\n")
		return
	case err != nil:
		r.printf("\n%s %v\n", ErrorStyle.Render("✗"), err)
		return
	case out.Failed:
		r.printf("%s\n\n", ErrorStyle.Render(out.Reply.Content))
		return
	}

	r.waitReveal(ctx, out.Reply.ID)
	if r.stream {
		r.printf("\n\n")
		return
	}
	for _, msg := range r.sess.Messages() {
		if msg.ID == out.Reply.ID {
			r.printf("%s\n%s\n", roleLabel(msg.Role), r.render(msg))
		}
	}
}

// waitReveal blocks until message id is committed, the reveal is cancelled
// or ctx ends.
func (r *repl) waitReveal(ctx context.Context, id string) {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case got := <-r.revealed:
			if got == id {
				return
			}
		case <-tick.C:
			if !r.sess.Revealing() {
				return
			}
		}
	}
}

// render formats a message for the terminal: Markdown through glamour for
// structured content, plain text otherwise.
func (r *repl) render(msg model.Message) string {
	if !msg.IsStructuredText || r.stream {
		return msg.Content
	}
	dark := r.sess.Preferences().ThemeIsDark
	if r.md == nil || r.mdDark != dark {
		style := "light"
		if dark {
			style = "dark"
		}
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(TerminalWidth()-4),
		)
		if err != nil {
			return msg.Content
		}
		r.md, r.mdDark = md, dark
	}
	out, err := r.md.Render(msg.Content)
	if err != nil {
		return msg.Content
	}
	return strings.TrimRight(out, "\n")
}
