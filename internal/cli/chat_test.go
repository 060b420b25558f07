// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/identity"
	"github.com/jeranaias/parley/internal/pipeline"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/ui"
)

// =============================================================================
// SLASH PARSING
// =============================================================================

func TestParseSlash(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArg  string
		wantOK   bool
	}{
		{"/help", "help", "", true},
		{"  /Model  GPT-4 ", "model", "GPT-4", true},
		{"/edit fix the   typo", "edit", "fix the   typo", true},
		{"/", "", "", false},
		{"/ new", "", "", false},
		{"hello /new", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, arg, ok := parseSlash(tt.line)
			if ok != tt.wantOK || name != tt.wantName || arg != tt.wantArg {
				t.Errorf("parseSlash(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.line, name, arg, ok, tt.wantName, tt.wantArg, tt.wantOK)
			}
		})
	}
}

func TestQuestionFrom(t *testing.T) {
	q, err := questionFrom([]string{"what", "is", "Go?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "what is Go?", q)

	q, err = questionFrom(nil, strings.NewReader("  piped question\n"))
	require.NoError(t, err)
	assert.Equal(t, "piped question", q)

	_, err = questionFrom(nil, strings.NewReader("   "))
	assert.Error(t, err)
}

// =============================================================================
// REPL
// =============================================================================

type echoCompleter struct{}

func (echoCompleter) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	return "echo: " + prompt, nil
}

// scriptReader feeds fixed lines, then io.EOF.
type scriptReader struct {
	lines []string
}

func (s *scriptReader) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func newTestREPL(t *testing.T) (*repl, *session.Manager, *bytes.Buffer) {
	t.Helper()
	ad := storage.NewAdapter(storage.NewMemoryKV(), storage.NewMemoryDocumentStore(), storage.WithLogger(zerolog.Nop()))
	mgr := session.New(session.Options{
		Completer: echoCompleter{},
		Adapter:   ad,
		Pipeline:  pipeline.Config{RevealInterval: time.Millisecond, SaveDelay: time.Hour},
		Log:       zerolog.Nop(),
	})
	mon := identity.NewMonitor(ad, mgr, zerolog.Nop())
	require.NoError(t, mon.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})

	var out bytes.Buffer
	r := newREPL(mgr, &out, true)
	mgr.SetObserver(r.observe)
	return r, mgr, &out
}

func runScript(t *testing.T, r *repl, lines ...string) {
	t.Helper()
	require.NoError(t, r.loop(context.Background(), &scriptReader{lines: lines}))
}

func TestREPL_WaitsForRevealBetweenMessages(t *testing.T) {
	r, mgr, out := newTestREPL(t)

	runScript(t, r, "hello", "second")

	msgs := mgr.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "echo: hello", msgs[1].Content, "first reply must not be cut short")
	assert.Equal(t, "echo: second", msgs[3].Content)
	assert.Contains(t, out.String(), "echo: hello")
	assert.Contains(t, out.String(), "echo: second")
}

func TestREPL_PreferenceCommands(t *testing.T) {
	r, mgr, out := newTestREPL(t)
	dark := mgr.Preferences().ThemeIsDark

	runScript(t, r, "/model GPT-4", "/theme", "/quit", "never sent")

	assert.Equal(t, "openai/gpt-4", mgr.Preferences().SelectedModelID)
	assert.Equal(t, !dark, mgr.Preferences().ThemeIsDark)
	assert.Empty(t, mgr.Messages(), "lines after /quit are not read")
	assert.Contains(t, out.String(), "Model: GPT-4")
}

func TestREPL_AttachStagesFileForNextMessage(t *testing.T) {
	r, mgr, _ := newTestREPL(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))

	runScript(t, r, "/attach "+path, "")

	msgs := mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "notes.txt (5 bytes)")
	assert.Empty(t, r.pending)
}

func TestREPL_HistoryLoadAndDelete(t *testing.T) {
	r, mgr, out := newTestREPL(t)

	runScript(t, r, "first topic", "/new")
	require.Empty(t, mgr.Messages())
	require.Len(t, mgr.Conversations(), 1)

	runScript(t, r, "/history", "/load 1")
	msgs := mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first topic", msgs[0].Content)
	assert.Contains(t, out.String(), "first topic")

	runScript(t, r, "/delete 1")
	assert.Empty(t, mgr.Conversations())
	assert.Empty(t, mgr.Messages())
}

func TestREPL_EditLast(t *testing.T) {
	r, mgr, _ := newTestREPL(t)

	runScript(t, r, "helo", "/edit hello")

	msgs := mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "echo: hello", msgs[1].Content)
}

func TestREPL_CopyLastReply(t *testing.T) {
	r, _, out := newTestREPL(t)

	var copied string
	orig := ui.CopyToClipboard
	ui.CopyToClipboard = func(s string) error { copied = s; return nil }
	t.Cleanup(func() { ui.CopyToClipboard = orig })

	runScript(t, r, "hi", "/copy")

	assert.Equal(t, "echo: hi", copied)
	assert.Contains(t, out.String(), "Copied 8 chars")
}

func TestREPL_ErrorsDoNotEndTheLoop(t *testing.T) {
	r, mgr, out := newTestREPL(t)

	runScript(t, r, "/bogus", "/load 7", "/copy", "still here")

	s := out.String()
	assert.Contains(t, s, "unknown command /bogus")
	assert.Contains(t, s, "no conversation #7")
	assert.Contains(t, s, "no reply to copy")
	assert.Len(t, mgr.Messages(), 2)
}
