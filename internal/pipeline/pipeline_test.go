// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

type call struct {
	model  string
	prompt string
}

// fakeCompleter answers immediately, or blocks until released when gated.
type fakeCompleter struct {
	mu    sync.Mutex
	calls []call
	reply string
	err   error
	gate  chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{modelID, prompt})
	gate, reply, err := f.gate, f.reply, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	mu    sync.Mutex
	saves [][]model.Message
}

func (r *fakeRecorder) UpsertFromMessages(msgs []model.Message) (model.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, msgs)
	return model.Conversation{Messages: msgs}, true
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *fakeRecorder) last() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saves) == 0 {
		return nil
	}
	return r.saves[len(r.saves)-1]
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestPipeline(c Completer) (*Pipeline, *fakeRecorder, *eventLog) {
	rec := &fakeRecorder{}
	events := &eventLog{}
	p := New(c, rec, Config{RevealInterval: time.Millisecond, SaveDelay: 20 * time.Millisecond}, zerolog.Nop())
	p.SetObserver(events.observe)
	return p, rec, events
}

func waitRevealDone(t *testing.T, p *Pipeline) {
	t.Helper()
	require.Eventually(t, func() bool { return !p.Revealing() }, 2*time.Second, time.Millisecond)
}

func sendAsync(p *Pipeline, req Request) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := p.Send(context.Background(), req)
		done <- err
	}()
	return done
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSend_SuccessRevealsAndSaves(t *testing.T) {
	c := &fakeCompleter{reply: "Hi **there**"}
	p, rec, events := newTestPipeline(c)

	out, err := p.Send(context.Background(), Request{Text: "Hello", ModelID: "m1"})
	require.NoError(t, err)
	assert.False(t, out.Failed)
	assert.Equal(t, "Hi **there**", out.ReplyText)
	assert.Equal(t, StateIdle, p.State(), "idle as soon as the reply arrives")

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].IsStructuredText)

	waitRevealDone(t, p)
	require.Eventually(t, func() bool { return p.Messages()[1].Content == "Hi **there**" }, time.Second, time.Millisecond)

	done := events.kinds(EventRevealDone)
	require.Len(t, done, 1, "reveal commits exactly once")
	assert.Equal(t, out.Reply.ID, done[0].Message.ID)
	assert.Len(t, events.kinds(EventRevealFrame), len([]rune("Hi **there**"))-1)

	require.Eventually(t, func() bool {
		last := rec.last()
		return len(last) == 2 && last[1].Content == "Hi **there**"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []call{{"m1", "Hello"}}, c.calls)
}

func TestSend_RevealPassesThroughEveryPrefix(t *testing.T) {
	c := &fakeCompleter{reply: "Hi there"}
	p, _, events := newTestPipeline(c)

	_, err := p.Send(context.Background(), Request{Text: "Hello"})
	require.NoError(t, err)
	waitRevealDone(t, p)

	var partials []string
	for _, ev := range events.kinds(EventRevealFrame) {
		partials = append(partials, ev.Frame.Partial)
	}
	done := events.kinds(EventRevealDone)
	require.Len(t, done, 1)
	partials = append(partials, done[0].Frame.Partial)

	assert.Equal(t, []string{"H", "Hi", "Hi ", "Hi t", "Hi th", "Hi the", "Hi ther", "Hi there"}, partials)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "Hi there", msgs[1].Content)
}

func TestSend_RejectsEmptyInput(t *testing.T) {
	c := &fakeCompleter{reply: "x"}
	p, _, _ := newTestPipeline(c)

	_, err := p.Send(context.Background(), Request{Text: "   \n"})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, p.Messages())
	assert.Equal(t, 0, c.callCount())
}

func TestSend_RejectsWhileSending(t *testing.T) {
	c := &fakeCompleter{reply: "first reply", gate: make(chan struct{})}
	p, _, _ := newTestPipeline(c)

	first := sendAsync(p, Request{Text: "one"})
	require.Eventually(t, func() bool { return p.State() == StateSending }, time.Second, time.Millisecond)

	_, err := p.Send(context.Background(), Request{Text: "two"})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = p.EditLast(context.Background(), Request{Text: "edit"})
	assert.ErrorIs(t, err, ErrBusy)

	close(c.gate)
	require.NoError(t, <-first)
	assert.Equal(t, 1, c.callCount())
	assert.Len(t, p.Messages(), 2)
}

func TestSend_UserMessageAppearsBeforeReply(t *testing.T) {
	c := &fakeCompleter{reply: "r", gate: make(chan struct{})}
	p, _, _ := newTestPipeline(c)

	done := sendAsync(p, Request{Text: "question"})
	require.Eventually(t, func() bool { return len(p.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "question", p.Messages()[0].Content)

	close(c.gate)
	require.NoError(t, <-done)
}

func TestSend_FailureAppendsErrorMessage(t *testing.T) {
	c := &fakeCompleter{err: errors.New("HTTP 500")}
	p, rec, _ := newTestPipeline(c)

	out, err := p.Send(context.Background(), Request{Text: "Hello"})
	require.NoError(t, err)
	assert.True(t, out.Failed)
	assert.False(t, p.Revealing())

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Error: HTTP 500", msgs[1].Content)
	assert.False(t, msgs[1].IsStructuredText)

	// The failed exchange is still persisted.
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.callCount(), "no automatic retry")
}

func TestSend_AttachmentsFoldedIntoText(t *testing.T) {
	c := &fakeCompleter{reply: "ok"}
	p, _, _ := newTestPipeline(c)

	_, err := p.Send(context.Background(), Request{
		Text:        "see files",
		Attachments: []Attachment{{Name: "a.txt", Size: 12}, {Name: "b.png", Size: 2048}},
	})
	require.NoError(t, err)
	assert.Equal(t, "see files\n\n📎 a.txt (12 bytes)\n📎 b.png (2048 bytes)", p.Messages()[0].Content)
	assert.Equal(t, "see files", c.calls[0].prompt, "prompt carries the typed text")

	waitRevealDone(t, p)
	_, err = p.Send(context.Background(), Request{Attachments: []Attachment{{Name: "only.pdf", Size: 1}}})
	require.NoError(t, err)
	assert.Equal(t, "📎 only.pdf (1 bytes)", p.Messages()[2].Content)
}

func TestSend_CancelsRevealInProgress(t *testing.T) {
	c := &fakeCompleter{reply: "a long reply that will certainly still be revealing"}
	events := &eventLog{}
	p2 := New(c, &fakeRecorder{}, Config{RevealInterval: 20 * time.Millisecond, SaveDelay: time.Hour}, zerolog.Nop())
	p2.SetObserver(events.observe)

	first, err := p2.Send(context.Background(), Request{Text: "one"})
	require.NoError(t, err)
	require.True(t, p2.Revealing())

	c.mu.Lock()
	c.reply = "ok"
	c.mu.Unlock()
	_, err = p2.Send(context.Background(), Request{Text: "two"})
	require.NoError(t, err)

	msgs := p2.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, first.Reply.ID, msgs[1].ID)
	assert.Equal(t, "", msgs[1].Content, "pre-empted reveal is never committed")

	require.Eventually(t, func() bool { return p2.Messages()[3].Content == "ok" }, 2*time.Second, 5*time.Millisecond)
	for _, ev := range events.kinds(EventRevealDone) {
		assert.NotEqual(t, first.Reply.ID, ev.Message.ID)
	}
	p2.Close()
}

// =============================================================================
// EDIT TESTS
// =============================================================================

func TestEditLast_TruncatesAndResends(t *testing.T) {
	c := &fakeCompleter{reply: "r1"}
	p, _, _ := newTestPipeline(c)

	_, err := p.Send(context.Background(), Request{Text: "first"})
	require.NoError(t, err)
	waitRevealDone(t, p)
	_, err = p.Send(context.Background(), Request{Text: "second"})
	require.NoError(t, err)
	waitRevealDone(t, p)
	require.Len(t, p.Messages(), 4)

	c.mu.Lock()
	c.reply = "r2"
	c.mu.Unlock()
	_, err = p.EditLast(context.Background(), Request{Text: "second, edited"})
	require.NoError(t, err)

	msgs := p.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "r1", msgs[1].Content)
	assert.Equal(t, "second, edited", msgs[2].Content)
	waitRevealDone(t, p)
	require.Eventually(t, func() bool { return p.Messages()[3].Content == "r2" }, time.Second, time.Millisecond)
}

func TestEditLast_NoUserMessage(t *testing.T) {
	p, _, _ := newTestPipeline(&fakeCompleter{reply: "x"})
	_, err := p.EditLast(context.Background(), Request{Text: "edit"})
	assert.ErrorIs(t, err, ErrNoUserMessage)
	_, err = p.EditLast(context.Background(), Request{Text: " "})
	assert.ErrorIs(t, err, ErrNoUserMessage)
}

func TestEditLast_BlankTruncates(t *testing.T) {
	c := &fakeCompleter{reply: "r1"}
	p, _, events := newTestPipeline(c)

	if _, err := p.Send(context.Background(), Request{Text: "first"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitRevealDone(t, p)
	if got := len(p.Messages()); got != 2 {
		t.Fatalf("before edit: %d messages, want 2", got)
	}

	_, err := p.EditLast(context.Background(), Request{Text: "   "})
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("EditLast(blank) error = %v, want ErrEmptyInput", err)
	}
	if got := len(p.Messages()); got != 0 {
		t.Errorf("after blank edit: %d messages, want 0", got)
	}
	if got := len(events.kinds(EventTruncated)); got != 1 {
		t.Errorf("truncated events = %d, want 1", got)
	}
	if got := c.callCount(); got != 1 {
		t.Errorf("completion calls = %d, want 1 (blank edit must not resend)", got)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %v, want idle", p.State())
	}
}

// =============================================================================
// SWITCH / PERSISTENCE TESTS
// =============================================================================

func TestReset_AbandonsInFlightExchange(t *testing.T) {
	c := &fakeCompleter{reply: "late reply", gate: make(chan struct{})}
	p, _, events := newTestPipeline(c)

	done := sendAsync(p, Request{Text: "question"})
	require.Eventually(t, func() bool { return p.State() == StateSending }, time.Second, time.Millisecond)

	p.Reset()
	assert.Equal(t, StateIdle, p.State())
	assert.Empty(t, p.Messages())

	err := <-done
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Empty(t, p.Messages(), "stale reply never lands")
	assert.Len(t, events.kinds(EventReset), 1)
}

func TestReset_NoRevealFrameAfterReset(t *testing.T) {
	for i := 0; i < 20; i++ {
		c := &fakeCompleter{reply: strings.Repeat("x", 200)}
		p, _, events := newTestPipeline(c)

		out, err := p.Send(context.Background(), Request{Text: "q"})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		time.Sleep(time.Duration(i%5) * time.Millisecond)
		p.Reset()
		time.Sleep(5 * time.Millisecond)

		events.mu.Lock()
		seenReset := false
		for _, ev := range events.events {
			switch ev.Kind {
			case EventReset:
				seenReset = true
			case EventRevealFrame:
				if seenReset && ev.Frame.MessageID == out.Reply.ID {
					t.Fatalf("iteration %d: frame %q delivered after reset", i, ev.Frame.Partial)
				}
			}
		}
		events.mu.Unlock()
		if !seenReset {
			t.Fatalf("iteration %d: no reset event", i)
		}
		p.Close()
	}
}

func TestSuspendResume(t *testing.T) {
	c := &fakeCompleter{reply: "x"}
	p, rec, _ := newTestPipeline(c)

	_, err := p.Send(context.Background(), Request{Text: "before"})
	require.NoError(t, err)
	require.True(t, p.SavePending())

	p.Suspend()
	assert.Equal(t, 1, rec.count(), "pending save flushed before suspending")
	assert.Empty(t, p.Messages())
	assert.False(t, p.Revealing())

	_, err = p.Send(context.Background(), Request{Text: "during"})
	assert.ErrorIs(t, err, ErrClosed)

	restored := []model.Message{model.NewUserMessage("restored")}
	p.Resume(restored)
	assert.True(t, p.Accepting())
	require.Len(t, p.Messages(), 1)
	assert.Equal(t, "restored", p.Messages()[0].Content)
}

func TestSave_IsDebounced(t *testing.T) {
	c := &fakeCompleter{reply: ""}
	rec := &fakeRecorder{}
	p := New(c, rec, Config{RevealInterval: time.Millisecond, SaveDelay: 150 * time.Millisecond}, zerolog.Nop())

	for _, text := range []string{"a", "b", "c"} {
		_, err := p.Send(context.Background(), Request{Text: text})
		require.NoError(t, err)
		waitRevealDone(t, p)
	}
	assert.Equal(t, 0, rec.count(), "nothing saved inside the debounce window")

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, rec.last(), 6)
}

func TestSwitch_DiscardAndKeep(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(&fakeCompleter{reply: ""}, rec, Config{RevealInterval: time.Millisecond, SaveDelay: time.Hour}, zerolog.Nop())
	_, err := p.Send(context.Background(), Request{Text: "a"})
	require.NoError(t, err)
	waitRevealDone(t, p)

	// Not resetting leaves the list alone.
	err = p.Switch(func(tx Tx) ([]model.Message, bool, error) {
		assert.Len(t, tx.Messages(), 2)
		return nil, false, nil
	})
	require.NoError(t, err)
	assert.Len(t, p.Messages(), 2)

	errLoad := errors.New("load failed")
	err = p.Switch(func(tx Tx) ([]model.Message, bool, error) {
		return nil, false, errLoad
	})
	assert.ErrorIs(t, err, errLoad)

	err = p.Switch(func(tx Tx) ([]model.Message, bool, error) {
		tx.Discard()
		return nil, true, nil
	})
	require.NoError(t, err)
	assert.False(t, p.SavePending())
	assert.Equal(t, 0, rec.count())
}

func TestClose(t *testing.T) {
	p, rec, _ := newTestPipeline(&fakeCompleter{reply: "x"})
	_, err := p.Send(context.Background(), Request{Text: "a"})
	require.NoError(t, err)

	p.Close()
	assert.Equal(t, 1, rec.count())
	assert.False(t, p.Revealing())
	_, err = p.Send(context.Background(), Request{Text: "b"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFormatAttachments(t *testing.T) {
	assert.Equal(t, "", FormatAttachments(nil))
	assert.Equal(t, "📎 x (0 bytes)", FormatAttachments([]Attachment{{Name: "x"}}))
}
