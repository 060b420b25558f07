// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/reveal"
)

// Input rejections. Presentation layers ignore these silently.
var (
	// ErrEmptyInput is returned for blank text without attachments.
	ErrEmptyInput = errors.New("empty input")

	// ErrBusy is returned while an exchange is in flight.
	ErrBusy = errors.New("exchange in progress")

	// ErrClosed is returned while the pipeline is suspended or closed.
	ErrClosed = errors.New("pipeline not accepting input")

	// ErrNoUserMessage is returned by EditLast when there is nothing to edit.
	ErrNoUserMessage = errors.New("no user message to edit")
)

// ErrAbandoned is returned by Send when the exchange was overtaken by a new
// chat, a conversation switch or a backend switch. Its reply was discarded.
var ErrAbandoned = errors.New("exchange abandoned")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Completer performs one completion call.
type Completer interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}

// Recorder persists the settled message list. conversation.Store
// implements it.
type Recorder interface {
	UpsertFromMessages(msgs []model.Message) (model.Conversation, bool)
}

// =============================================================================
// TYPES
// =============================================================================

// State is the exchange state.
type State int

const (
	StateIdle State = iota
	StateSending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Attachment is file metadata folded into the user message text.
type Attachment struct {
	Name string
	Size int64
}

// Request is one send.
type Request struct {
	Text        string
	Attachments []Attachment
	ModelID     string
}

// Outcome describes a settled exchange.
type Outcome struct {
	// User is the appended user message
	User model.Message

	// Reply is the appended assistant message. On success its content is
	// still empty; the full text is in ReplyText and arrives via reveal.
	Reply     model.Message
	ReplyText string

	// Failed is set when Reply is an error message; Err holds the cause
	Failed bool
	Err    error
}

// Config holds pipeline timing.
type Config struct {
	// RevealInterval is the delay between revealed characters
	RevealInterval time.Duration

	// SaveDelay debounces conversation saves
	SaveDelay time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		RevealInterval: reveal.DefaultInterval,
		SaveDelay:      time.Second,
	}
}

// FormatAttachments renders attachment metadata lines.
func FormatAttachments(atts []Attachment) string {
	lines := make([]string, 0, len(atts))
	for _, a := range atts {
		lines = append(lines, fmt.Sprintf("📎 %s (%d bytes)", a.Name, a.Size))
	}
	return strings.Join(lines, "\n")
}

// composeContent folds attachment lines into the user's text.
func composeContent(text string, atts []Attachment) string {
	if len(atts) == 0 {
		return text
	}
	info := FormatAttachments(atts)
	if strings.TrimSpace(text) == "" {
		return info
	}
	return text + "\n\n" + info
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline owns the active message list.
//
// Lock order: Pipeline.mu, then the reveal scheduler, then the recorder.
// Observer events are delivered outside the lock.
type Pipeline struct {
	mu sync.Mutex

	messages []model.Message
	state    State
	accept   bool

	// epoch advances on every reset, switch and close; an exchange that
	// settles under an older epoch is discarded
	epoch      uint64
	cancelSend context.CancelFunc

	completer Completer
	recorder  Recorder
	reveal    *reveal.Scheduler
	revealing bool // set until the revealed reply is committed or cancelled

	saveDelay   time.Duration
	saveTimer   *time.Timer
	savePending bool

	// outbox holds events in the order their state changes happened;
	// deliverMu serializes hand-off to the observer
	observer  Observer
	outbox    []Event
	deliverMu sync.Mutex

	log zerolog.Logger
}

// New creates an idle pipeline accepting input.
func New(c Completer, r Recorder, cfg Config, log zerolog.Logger) *Pipeline {
	if cfg.SaveDelay <= 0 {
		cfg.SaveDelay = DefaultConfig().SaveDelay
	}
	p := &Pipeline{
		accept:    true,
		completer: c,
		recorder:  r,
		saveDelay: cfg.SaveDelay,
		log:       log,
	}
	p.reveal = reveal.New(cfg.RevealInterval, p.handleFrame)
	return p
}

// SetObserver sets the event observer (nil disables events).
func (p *Pipeline) SetObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

// =============================================================================
// SEND
// =============================================================================

// Send appends the user message and performs the completion call, blocking
// until the exchange settles. Any reveal in progress is cancelled first.
func (p *Pipeline) Send(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return Outcome{}, ErrEmptyInput
	}

	p.mu.Lock()
	if err := p.admitLocked(); err != nil {
		p.mu.Unlock()
		return Outcome{}, err
	}
	return p.exchange(ctx, req)
}

// EditLast discards the last user message and everything after it, then
// sends text in its place. The truncation and the new send are atomic.
// Blank text still truncates, then fails with ErrEmptyInput.
func (p *Pipeline) EditLast(ctx context.Context, req Request) (Outcome, error) {
	p.mu.Lock()
	if err := p.admitLocked(); err != nil {
		p.mu.Unlock()
		return Outcome{}, err
	}
	idx := model.LastUserIndex(p.messages)
	if idx < 0 {
		p.mu.Unlock()
		return Outcome{}, ErrNoUserMessage
	}
	p.cancelRevealLocked()
	p.messages = p.messages[:idx:idx]
	p.enqueueLocked(Event{Kind: EventTruncated, Messages: model.CloneMessages(p.messages)})
	p.log.Debug().Int("kept", idx).Msg("editing last user message")

	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		// The cut stands; only the resend is rejected.
		p.scheduleSaveLocked()
		p.mu.Unlock()
		p.deliver()
		return Outcome{}, ErrEmptyInput
	}
	return p.exchange(ctx, req)
}

func (p *Pipeline) admitLocked() error {
	if !p.accept {
		return ErrClosed
	}
	if p.state == StateSending {
		return ErrBusy
	}
	return nil
}

// exchange runs with p.mu held on entry and releases it.
func (p *Pipeline) exchange(ctx context.Context, req Request) (Outcome, error) {
	p.cancelRevealLocked()

	user := model.NewUserMessage(composeContent(req.Text, req.Attachments))
	p.messages = append(p.messages, user)
	p.state = StateSending
	epoch := p.epoch

	sendCtx, cancel := context.WithCancel(ctx)
	p.cancelSend = cancel
	p.enqueueLocked(
		Event{Kind: EventMessageAppended, Message: user},
		Event{Kind: EventStateChanged, State: StateSending},
	)
	p.mu.Unlock()
	p.deliver()
	defer cancel()

	prompt := req.Text
	if strings.TrimSpace(prompt) == "" {
		prompt = user.Content
	}
	started := time.Now()
	reply, err := p.completer.Complete(sendCtx, req.ModelID, prompt)

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		exchangesTotal.WithLabelValues("abandoned").Inc()
		p.log.Debug().Msg("discarding reply for a superseded exchange")
		return Outcome{User: user}, ErrAbandoned
	}
	p.cancelSend = nil
	p.state = StateIdle

	out := Outcome{User: user}
	if err != nil {
		out.Failed = true
		out.Err = err
		out.Reply = model.NewErrorMessage(err)
		p.messages = append(p.messages, out.Reply)
		exchangesTotal.WithLabelValues("failed").Inc()
		p.log.Warn().Err(err).Str("model", req.ModelID).Dur("elapsed", time.Since(started)).Msg("completion failed")
	} else {
		out.Reply = model.NewAssistantMessage()
		out.ReplyText = reply
		p.messages = append(p.messages, out.Reply)
		p.reveal.Start(out.Reply.ID, reply)
		p.revealing = true
		exchangesTotal.WithLabelValues("ok").Inc()
		p.log.Debug().Str("model", req.ModelID).Dur("elapsed", time.Since(started)).Int("chars", len(reply)).Msg("completion received")
	}
	p.scheduleSaveLocked()
	p.enqueueLocked(
		Event{Kind: EventMessageAppended, Message: out.Reply},
		Event{Kind: EventStateChanged, State: StateIdle},
	)
	p.mu.Unlock()
	p.deliver()
	return out, nil
}

// =============================================================================
// REVEAL
// =============================================================================

func (p *Pipeline) handleFrame(f reveal.Frame) {
	if !f.Done {
		// Cancel runs under p.mu, so a frame checked here is queued ahead
		// of any reset that supersedes it.
		p.mu.Lock()
		if p.reveal.IsCurrent(f.Run) {
			p.enqueueLocked(Event{Kind: EventRevealFrame, Frame: f})
		}
		p.mu.Unlock()
		p.deliver()
		return
	}

	p.mu.Lock()
	if !p.reveal.Finish(f.Run) {
		p.mu.Unlock()
		return
	}
	p.revealing = false
	var committed model.Message
	found := false
	for i := range p.messages {
		if p.messages[i].ID == f.MessageID {
			p.messages[i].Content = f.Partial
			committed = p.messages[i]
			found = true
			break
		}
	}
	if found {
		p.scheduleSaveLocked()
		p.enqueueLocked(Event{Kind: EventRevealDone, Frame: f, Message: committed})
	}
	p.mu.Unlock()
	p.deliver()
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (p *Pipeline) cancelRevealLocked() {
	p.reveal.Cancel()
	p.revealing = false
}

func (p *Pipeline) scheduleSaveLocked() {
	p.savePending = true
	if p.saveTimer == nil {
		p.saveTimer = time.AfterFunc(p.saveDelay, p.saveTick)
		return
	}
	p.saveTimer.Reset(p.saveDelay)
}

func (p *Pipeline) saveTick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveLocked()
}

func (p *Pipeline) saveLocked() {
	if !p.savePending {
		return
	}
	p.savePending = false
	if p.saveTimer != nil {
		p.saveTimer.Stop()
	}
	if p.recorder == nil || len(p.messages) == 0 {
		return
	}
	p.recorder.UpsertFromMessages(model.CloneMessages(p.messages))
}

func (p *Pipeline) discardSaveLocked() {
	p.savePending = false
	if p.saveTimer != nil {
		p.saveTimer.Stop()
	}
}

// FlushPending performs a scheduled save immediately.
func (p *Pipeline) FlushPending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveLocked()
}

// SavePending reports whether a debounced save is scheduled.
func (p *Pipeline) SavePending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.savePending
}

// =============================================================================
// SWITCHING
// =============================================================================

// Tx is the view of a pipeline inside Switch.
type Tx struct {
	p *Pipeline
}

// Flush saves pending changes to the current conversation now.
func (tx Tx) Flush() { tx.p.saveLocked() }

// Discard drops pending changes.
func (tx Tx) Discard() { tx.p.discardSaveLocked() }

// Messages returns the active list as it is before the switch.
func (tx Tx) Messages() []model.Message { return model.CloneMessages(tx.p.messages) }

// Switch runs fn with the pipeline locked, so no exchange settles and no
// save fires meanwhile. fn must call Flush or Discard if changes are
// pending; unflushed changes are discarded. When fn returns reset, the
// reveal is cancelled, any in-flight exchange is abandoned and msgs becomes
// the active list.
func (p *Pipeline) Switch(fn func(tx Tx) (msgs []model.Message, reset bool, err error)) error {
	p.mu.Lock()
	msgs, reset, err := fn(Tx{p: p})
	if err != nil || !reset {
		p.mu.Unlock()
		return err
	}
	p.discardSaveLocked()
	p.resetLocked(msgs)
	p.enqueueLocked(Event{Kind: EventReset, Messages: model.CloneMessages(p.messages)})
	p.mu.Unlock()
	p.deliver()
	return nil
}

// Reset flushes pending changes and empties the active list.
func (p *Pipeline) Reset() {
	p.Switch(func(tx Tx) ([]model.Message, bool, error) {
		tx.Flush()
		return nil, true, nil
	})
}

func (p *Pipeline) resetLocked(msgs []model.Message) {
	p.cancelRevealLocked()
	p.epoch++
	if p.cancelSend != nil {
		p.cancelSend()
		p.cancelSend = nil
	}
	p.state = StateIdle
	p.messages = model.CloneMessages(msgs)
}

// Suspend closes the input gate, flushes pending changes and empties the
// active list. Used while the backend is switched.
func (p *Pipeline) Suspend() {
	p.Switch(func(tx Tx) ([]model.Message, bool, error) {
		tx.p.accept = false
		tx.Flush()
		return nil, true, nil
	})
}

// Resume installs msgs and reopens the input gate.
func (p *Pipeline) Resume(msgs []model.Message) {
	p.Switch(func(tx Tx) ([]model.Message, bool, error) {
		tx.p.accept = true
		return msgs, true, nil
	})
}

// Close flushes pending changes, stops the reveal and abandons any
// exchange. The pipeline rejects input afterwards.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accept = false
	p.saveLocked()
	p.cancelRevealLocked()
	p.epoch++
	if p.cancelSend != nil {
		p.cancelSend()
		p.cancelSend = nil
	}
	p.state = StateIdle
}

// =============================================================================
// QUERIES
// =============================================================================

// Messages returns a copy of the active list.
func (p *Pipeline) Messages() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.CloneMessages(p.messages)
}

// State returns the exchange state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Accepting reports whether input is accepted.
func (p *Pipeline) Accepting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accept
}

// Revealing reports whether a reply is being revealed and not yet committed.
func (p *Pipeline) Revealing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revealing
}

// RevealStatus returns the message being revealed and its partial text.
func (p *Pipeline) RevealStatus() (messageID, partial string) {
	return p.reveal.MessageID(), p.reveal.Partial()
}
