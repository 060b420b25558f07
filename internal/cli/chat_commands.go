// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jeranaias/parley/internal/export"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/pipeline"
	"github.com/jeranaias/parley/internal/ui"
	"github.com/jeranaias/parley/internal/util"
	"github.com/jeranaias/parley/internal/voice"
)

// slashHelp lists the chat commands in display order.
var slashHelp = [][2]string{
	{"/help", "show this list"},
	{"/new", "save this chat and start a new one"},
	{"/clear", "same as /new"},
	{"/edit <text>", "replace your last message and ask again"},
	{"/attach <path>", "attach a file's name and size to the next message"},
	{"/model [id|name]", "show or select the model"},
	{"/models", "list available models"},
	{"/theme", "toggle dark mode"},
	{"/history [query]", "list saved conversations"},
	{"/load <n|id>", "open a saved conversation"},
	{"/delete <n|id>", "delete a saved conversation"},
	{"/export [dir]", "save this chat as Markdown"},
	{"/copy", "copy the last reply to the clipboard"},
	{"/listen", "dictate a message"},
	{"/speak", "read the last reply aloud"},
	{"/stop", "stop reading aloud"},
	{"/whoami", "show the signed-in user"},
	{"/quit", "leave the chat"},
}

// parseSlash splits "/name args" into its command name and argument text.
// ok is false for lines that are not commands.
func parseSlash(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || len(line) < 2 {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func (r *repl) runCommand(ctx context.Context, name, arg string) error {
	switch name {
	case "help", "?":
		r.printHelp()
	case "quit", "exit", "q":
		return errQuit
	case "new", "clear":
		if err := r.sess.NewChat(); err != nil {
			return err
		}
		r.pending = nil
		r.printf("%s\n", SuccessStyle.Render("Started a new chat."))
	case "edit":
		if arg == "" {
			return errors.New("usage: /edit <text>")
		}
		r.send(ctx, arg, true)
	case "attach":
		return r.attach(arg)
	case "model":
		return r.selectModel(arg)
	case "models":
		r.printModels()
	case "theme":
		dark, err := r.sess.ToggleTheme()
		if err != nil {
			return err
		}
		r.printf("%s\n", SuccessStyle.Render("Theme: "+themeName(dark)))
	case "history", "search":
		r.printHistory(arg)
	case "load", "open":
		conv, err := r.resolveConversation(arg)
		if err != nil {
			return err
		}
		if err := r.sess.LoadConversation(conv.ID); err != nil {
			return err
		}
		r.printf("%s\n\n", SuccessStyle.Render("Opened "+conv.Title))
		r.printTranscript()
	case "delete", "rm":
		conv, err := r.resolveConversation(arg)
		if err != nil {
			return err
		}
		if err := r.sess.DeleteConversation(conv.ID); err != nil {
			return err
		}
		r.printf("%s\n", SuccessStyle.Render("Deleted "+conv.Title))
	case "export":
		return r.export(arg)
	case "copy":
		return r.copyLastReply()
	case "listen":
		return r.listen(ctx)
	case "speak":
		reply, ok := lastReply(r.sess.Messages())
		if !ok {
			return errors.New("no reply to read")
		}
		return r.sess.Speak(reply.Content)
	case "stop":
		r.sess.StopSpeaking()
	case "whoami":
		r.printf("%s\n", RenderLabel("Session", r.sess.Scope().String()))
	default:
		return fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return nil
}

func (r *repl) printHelp() {
	r.printf("%s\n", TitleStyle.Render("Commands"))
	for _, h := range slashHelp {
		r.printf("  %s %s\n", CommandStyle.Render(util.PadRight(h[0], 18)), DimStyle.Render(h[1]))
	}
	r.printf("\n")
}

func (r *repl) attach(path string) error {
	if path == "" {
		return errors.New("usage: /attach <path>")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	a := pipeline.Attachment{Name: filepath.Base(path), Size: info.Size()}
	r.pending = append(r.pending, a)
	r.printf("%s\n", DimStyle.Render(pipeline.FormatAttachments([]pipeline.Attachment{a})+" staged for the next message"))
	return nil
}

func (r *repl) selectModel(arg string) error {
	if arg == "" {
		id := r.sess.Preferences().SelectedModelID
		r.printf("%s\n", RenderLabel("Model", fmt.Sprintf("%s (%s)", model.ModelName(id), id)))
		return nil
	}
	id, err := r.sess.SetModel(arg)
	if err != nil {
		return err
	}
	r.printf("%s\n", SuccessStyle.Render("Model: "+model.ModelName(id)))
	return nil
}

func (r *repl) printModels() {
	current := r.sess.Preferences().SelectedModelID
	for _, m := range model.Catalog() {
		marker := "  "
		if m.ID == current {
			marker = SuccessStyle.Render("● ")
		}
		r.printf("%s%s %s\n", marker, ValueStyle.Render(util.PadRight(m.Name, 20)), DimStyle.Render(m.ID))
	}
}

func (r *repl) printHistory(query string) {
	convs := r.sess.Conversations()
	if query != "" {
		convs = r.sess.Search(query)
	}
	if len(convs) == 0 {
		r.printf("%s\n", DimStyle.Render("No saved conversations."))
		return
	}
	current := r.sess.CurrentID()
	width := TerminalWidth()
	for i, c := range convs {
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		title := util.Truncate(c.Title, width-30)
		r.printf("%s%3d  %s %s\n", marker, i+1, util.PadRight(title, width-30),
			DimStyle.Render(fmt.Sprintf("%d msgs  %s", c.MessageCount(), c.UpdatedAt.Local().Format("Jan 2 15:04"))))
	}
}

// resolveConversation accepts a 1-based position in the history listing or
// a conversation ID.
func (r *repl) resolveConversation(arg string) (model.Conversation, error) {
	if arg == "" {
		return model.Conversation{}, errors.New("expected a conversation number or ID (see /history)")
	}
	convs := r.sess.Conversations()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(convs) {
			return model.Conversation{}, fmt.Errorf("no conversation #%d", n)
		}
		return convs[n-1], nil
	}
	if conv, ok := r.sess.Conversation(arg); ok {
		return conv, nil
	}
	return model.Conversation{}, fmt.Errorf("conversation %q not found", arg)
}

func (r *repl) printTranscript() {
	for _, msg := range r.sess.Messages() {
		r.printf("%s\n%s\n\n", roleLabel(msg.Role), r.render(msg))
	}
}

func (r *repl) export(dir string) error {
	name, data, err := r.sess.Export()
	if err != nil {
		return err
	}
	opts := export.DefaultOptions()
	if dir != "" {
		opts.OutputDir = dir
	}
	path, err := export.Write(name, data, opts)
	if err != nil {
		return err
	}
	r.printf("%s\n", SuccessStyle.Render("Exported to "+path))
	return nil
}

func (r *repl) copyLastReply() error {
	reply, ok := lastReply(r.sess.Messages())
	if !ok {
		return errors.New("no reply to copy")
	}
	text, err := r.sess.CopyText(reply.ID)
	if err != nil {
		return err
	}
	if err := ui.CopyToClipboard(text); err != nil {
		r.printf("%s\n%s\n", WarningStyle.Render("Clipboard unavailable; reply text follows:"), text)
		return nil
	}
	r.printf("%s\n", SuccessStyle.Render(fmt.Sprintf("Copied %d chars", len(text))))
	return nil
}

func (r *repl) listen(ctx context.Context) error {
	r.printf("%s\n", DimStyle.Render("Listening..."))
	_, err := r.sess.Listen(ctx)
	if errors.Is(err, voice.ErrUnavailable) {
		return errors.New("no speech recognizer configured (set voice.listen_command)")
	}
	if err != nil {
		return err
	}
	text := strings.TrimSpace(r.sess.TakeComposeText())
	if text == "" {
		r.printf("%s\n", DimStyle.Render("Heard nothing."))
		return nil
	}
	r.printf("%s %s\n", PromptStyle.Render("you>"), text)
	r.send(ctx, text, false)
	return nil
}

// lastReply returns the newest assistant message with content.
func lastReply(msgs []model.Message) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAssistant() && msgs[i].Content != "" {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

func themeName(dark bool) string {
	if dark {
		return "dark"
	}
	return "light"
}
